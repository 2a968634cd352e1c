// Package sockfd provides file-descriptor level loopback TCP connections.
//
// The relay loop multiplexes with poll(2) and has to shut down and close
// individual descriptors mid-stream, so connections are kept as raw fds
// instead of net.Conns.
package sockfd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Conn is a connected stream socket owned by the caller.
type Conn struct {
	fd int
}

// DialLoopback opens a TCP connection to 127.0.0.1:port.
func DialLoopback(port int) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to 127.0.0.1:%d: %w", port, err)
	}
	return &Conn{fd: fd}, nil
}

// FromFD wraps an already-connected stream descriptor.
func FromFD(fd int) *Conn { return &Conn{fd: fd} }

// FD returns the underlying descriptor for use in poll sets.
func (c *Conn) FD() int { return c.fd }

// Read reads up to len(b) bytes. Unlike io.Reader, end of stream is
// reported as (0, nil), matching the raw read(2) convention the relay
// loop is written against.
func (c *Conn) Read(b []byte) (int, error) {
	return ReadFD(c.fd, b)
}

// WriteAll writes all of b. Either the whole buffer goes out or an error
// is returned; there is no partial success.
func (c *Conn) WriteAll(b []byte) error {
	return WriteAllFD(c.fd, b)
}

// Shutdown disables further sends and receives on the socket.
func (c *Conn) Shutdown() error {
	if c.fd < 0 {
		return unix.EBADF
	}
	return unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

// Close releases the descriptor. Closing twice is safe; the second close
// reports EBADF without touching a possibly-reused descriptor number.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return unix.EBADF
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// ReadFD reads from an arbitrary descriptor, retrying on EINTR.
func ReadFD(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// WriteAllFD writes all of b to an arbitrary descriptor, retrying short
// writes and EINTR.
func WriteAllFD(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

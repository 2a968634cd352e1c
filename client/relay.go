package client

import (
	"fmt"

	"github.com/warmexec/preloader/internal/sockfd"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// chunkSize is the fixed read size for every relay transfer.
const chunkSize = 1024

// Relay slot indices. The order is also the fixed service priority within
// one poll wake-up: stdout, then stderr, then stdin.
const (
	slotStdout = iota
	slotStderr
	slotStdin
	slotCount
)

// relay is a single-threaded poll(2) multiplexer over three streams: the
// remote stdout and stderr sockets feeding the local stdout and stderr
// descriptors, and the local stdin descriptor feeding the remote stdin
// socket.
//
// Streams end independently. A remote source hitting EOF or an error is
// shut down, closed, and dropped from the poll set while the others keep
// flowing; local stdin EOF closes the remote stdin sink the same way. Only
// a hard local-stdin error, a failed forward to the remote sink, or a
// failure of poll itself stops the whole relay.
type relay struct {
	log *zap.SugaredLogger

	stdout *sockfd.Conn // remote stdout source
	stderr *sockfd.Conn // remote stderr source
	stdin  *sockfd.Conn // remote stdin sink

	stdinFD  int // local stdin source
	stdoutFD int // local stdout sink
	stderrFD int // local stderr sink
}

// run blocks until every stream has ended or a fatal error occurs. On a
// fatal error, all still-open streams are shut down and closed before
// returning.
func (r *relay) run() error {
	fds := [slotCount]unix.PollFd{
		slotStdout: {Fd: int32(r.stdout.FD()), Events: unix.POLLIN},
		slotStderr: {Fd: int32(r.stderr.FD()), Events: unix.POLLIN},
		slotStdin:  {Fd: int32(r.stdinFD), Events: unix.POLLIN},
	}
	buf := make([]byte, chunkSize)

	for fds[slotStdout].Fd >= 0 || fds[slotStderr].Fd >= 0 || fds[slotStdin].Fd >= 0 {
		if _, err := unix.Poll(fds[:], -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			r.teardown(&fds)
			return fmt.Errorf("waiting for stream readiness: %w", err)
		}

		r.serviceRemote(&fds[slotStdout], r.stdout, r.stdoutFD, "stdout", buf)
		r.serviceRemote(&fds[slotStderr], r.stderr, r.stderrFD, "stderr", buf)
		if err := r.serviceStdin(&fds[slotStdin], buf); err != nil {
			r.teardown(&fds)
			return err
		}
	}
	r.log.Debug("all streams ended")
	return nil
}

// serviceRemote moves one chunk from a remote stream socket to the local
// descriptor. End of stream or any error retires that stream only; the
// relay keeps running on whatever remains.
func (r *relay) serviceRemote(pfd *unix.PollFd, conn *sockfd.Conn, localFD int, name string, buf []byte) {
	if pfd.Fd < 0 {
		return
	}
	if pfd.Revents&unix.POLLIN != 0 {
		n, err := conn.Read(buf)
		switch {
		case err != nil:
			r.log.Debugw("remote read failed", "stream", name, "err", err)
			r.retire(pfd, conn)
		case n == 0:
			r.log.Debugw("remote stream closed", "stream", name)
			r.retire(pfd, conn)
		default:
			if werr := sockfd.WriteAllFD(localFD, buf[:n]); werr != nil {
				r.log.Debugw("local write failed", "stream", name, "err", werr)
				r.retire(pfd, conn)
			}
		}
		return
	}
	if pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		r.log.Debugw("remote stream hangup", "stream", name, "revents", pfd.Revents)
		r.retire(pfd, conn)
	}
}

// serviceStdin forwards local stdin to the remote stdin sink. A clean EOF
// retires the sink and lets the relay continue, so the remote command sees
// end-of-input; a hard read or forward error stops the whole relay.
func (r *relay) serviceStdin(pfd *unix.PollFd, buf []byte) error {
	if pfd.Fd < 0 {
		return nil
	}
	if pfd.Revents&unix.POLLIN != 0 {
		n, err := sockfd.ReadFD(r.stdinFD, buf)
		if err != nil {
			return fmt.Errorf("reading local stdin: %w", err)
		}
		if n == 0 {
			r.log.Debug("local stdin closed")
			r.retire(pfd, r.stdin)
			return nil
		}
		if err := r.stdin.WriteAll(buf[:n]); err != nil {
			return fmt.Errorf("forwarding stdin: %w", err)
		}
		return nil
	}
	if pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		// A hangup with nothing left to read is end of input.
		r.log.Debugw("local stdin hangup", "revents", pfd.Revents)
		r.retire(pfd, r.stdin)
	}
	return nil
}

// retire shuts down and closes the remote connection behind a slot and
// removes the slot from future polling. Streams are never reopened.
func (r *relay) retire(pfd *unix.PollFd, conn *sockfd.Conn) {
	conn.Shutdown()
	conn.Close()
	pfd.Fd = -1
}

// teardown retires every still-live slot after a fatal error.
func (r *relay) teardown(fds *[slotCount]unix.PollFd) {
	conns := [slotCount]*sockfd.Conn{r.stdout, r.stderr, r.stdin}
	for i := range fds {
		if fds[i].Fd >= 0 {
			r.retire(&fds[i], conns[i])
		}
	}
}

package client

import (
	"errors"
	"fmt"

	"github.com/warmexec/preloader/internal/sockfd"
	"github.com/warmexec/preloader/proto"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the daemon's default control port.
	DefaultPort = 3636

	// StatusSentinel is the exit code reported when the daemon closed the
	// control connection without sending one. It is part of the wire
	// protocol's observable behavior and cannot be changed without
	// breaking compatibility.
	StatusSentinel = 42
)

// ErrStatusUnavailable reports that the control connection ended before a
// full 4-byte exit status arrived. The remote command's real outcome is
// unknown in that case; callers that need the historical behavior exit
// with StatusSentinel.
var ErrStatusUnavailable = errors.New("control connection closed before exit status")

// Client runs commands on a resident preloader daemon listening on
// loopback TCP.
type Client struct {
	log  *zap.SugaredLogger
	port int

	stdinFD  int
	stdoutFD int
	stderrFD int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithStdio overrides the local standard stream descriptors, which
// otherwise default to fds 0, 1, and 2.
func WithStdio(stdin, stdout, stderr int) Option {
	return func(c *Client) {
		c.stdinFD = stdin
		c.stdoutFD = stdout
		c.stderrFD = stderr
	}
}

// New returns a client for the daemon at the given base port.
func New(port int, opts ...Option) *Client {
	c := &Client{
		log:      zap.NewNop().Sugar(),
		port:     port,
		stdinFD:  0,
		stdoutFD: 1,
		stderrFD: 2,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes args (args[0] is the program) on the daemon in the current
// working directory and returns the remote exit code.
//
// If the daemon reported no exit status, the returned code is
// StatusSentinel and the error wraps ErrStatusUnavailable. Any other
// non-nil error means the command could not be dispatched at all.
func (c *Client) Run(args []string) (int32, error) {
	req, err := proto.NewRunRequest(args)
	if err != nil {
		return 0, err
	}
	c.log.Debugw("prepared run request",
		"argc", len(req.Args), "dir", req.Dir, "payloadLen", req.PayloadLen())

	conns, err := Connect(c.port, req, c.log)
	if err != nil {
		return 0, err
	}
	defer conns.Control.Close()

	rel := &relay{
		log:      c.log.Named("relay"),
		stdout:   conns.Stdout,
		stderr:   conns.Stderr,
		stdin:    conns.Stdin,
		stdinFD:  c.stdinFD,
		stdoutFD: c.stdoutFD,
		stderrFD: c.stderrFD,
	}
	// The exit status is attempted even when the relay died early: the
	// daemon may well have written it before whatever went wrong.
	if err := rel.run(); err != nil {
		c.log.Warnw("relay ended with error", "err", err)
	}

	return readStatus(conns.Control)
}

// readStatus reads the 4-byte big-endian exit code from the control
// connection. Anything short of 4 bytes means the status is unknown.
func readStatus(control *sockfd.Conn) (int32, error) {
	var b [4]byte
	off := 0
	for off < len(b) {
		n, err := control.Read(b[off:])
		if err != nil {
			return StatusSentinel, fmt.Errorf("control read failed (%v): %w", err, ErrStatusUnavailable)
		}
		if n == 0 {
			return StatusSentinel, ErrStatusUnavailable
		}
		off += n
	}
	return proto.DecodeInt32(b[:]), nil
}

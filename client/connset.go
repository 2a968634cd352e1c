package client

import (
	"fmt"

	"github.com/warmexec/preloader/internal/sockfd"
	"github.com/warmexec/preloader/proto"
	"go.uber.org/zap"
)

// ConnSet holds the four loopback connections to the daemon. Each is
// independently owned; the relay retires the three stream connections one
// by one, and the control connection outlives the relay to carry the exit
// status.
type ConnSet struct {
	Control *sockfd.Conn
	Stdout  *sockfd.Conn
	Stderr  *sockfd.Conn
	Stdin   *sockfd.Conn
}

// Connect dials the daemon's control port, transmits the framed run
// request, then dials the three stream ports in the fixed order stdout,
// stderr, stdin at base+1..base+3. Any failure tears down whatever was
// already open; the daemon sees either a complete connection set or none.
func Connect(port int, req *proto.RunRequest, log *zap.SugaredLogger) (*ConnSet, error) {
	frame, err := req.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshalling run request: %w", err)
	}

	cs := &ConnSet{}
	cs.Control, err = sockfd.DialLoopback(port)
	if err != nil {
		return nil, fmt.Errorf("control port: %w", err)
	}
	log.Debugw("control connected", "port", port)

	if err := cs.Control.WriteAll(frame); err != nil {
		cs.closeAll()
		return nil, fmt.Errorf("sending run request: %w", err)
	}
	log.Debugw("run request sent", "bytes", len(frame))

	for _, s := range []struct {
		name string
		conn **sockfd.Conn
		port int
	}{
		{"stdout", &cs.Stdout, port + 1},
		{"stderr", &cs.Stderr, port + 2},
		{"stdin", &cs.Stdin, port + 3},
	} {
		*s.conn, err = sockfd.DialLoopback(s.port)
		if err != nil {
			cs.closeAll()
			return nil, fmt.Errorf("%s port: %w", s.name, err)
		}
		log.Debugw("stream connected", "stream", s.name, "port", s.port)
	}
	return cs, nil
}

func (cs *ConnSet) closeAll() {
	for _, c := range []*sockfd.Conn{cs.Control, cs.Stdout, cs.Stderr, cs.Stdin} {
		if c != nil {
			c.Close()
		}
	}
}

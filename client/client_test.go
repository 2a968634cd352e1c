package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warmexec/preloader/proto"
)

// listenQuad grabs four consecutive loopback ports, the way the daemon
// occupies base..base+3.
func listenQuad(t *testing.T) (int, [4]net.Listener) {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		var lns [4]net.Listener
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[0] = ln
		base := ln.Addr().(*net.TCPAddr).Port

		ok := true
		for i := 1; i < 4; i++ {
			l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base+i))
			if err != nil {
				ok = false
				break
			}
			lns[i] = l
		}
		if ok {
			t.Cleanup(func() {
				for _, l := range lns {
					l.Close()
				}
			})
			return base, lns
		}
		for _, l := range lns {
			if l != nil {
				l.Close()
			}
		}
	}
	t.Fatal("could not find four consecutive free ports")
	return 0, [4]net.Listener{}
}

// fakeDaemon speaks the daemon's side of the protocol: accept control,
// read the request, accept the three stream connections, emit stdout and
// stderr, drain stdin, then (optionally) report an exit code.
type fakeDaemon struct {
	stdout   []byte
	stderr   []byte
	exit     *int32 // nil: close control without a status
	gotReq   chan *proto.RunRequest
	gotStdin chan []byte
}

func startFakeDaemon(lns [4]net.Listener, stdout, stderr []byte, exit *int32) *fakeDaemon {
	d := &fakeDaemon{
		stdout:   stdout,
		stderr:   stderr,
		exit:     exit,
		gotReq:   make(chan *proto.RunRequest, 1),
		gotStdin: make(chan []byte, 1),
	}
	go d.serve(lns)
	return d
}

func (d *fakeDaemon) serve(lns [4]net.Listener) {
	ctrl, err := lns[0].Accept()
	if err != nil {
		return
	}
	defer ctrl.Close()

	frame := make([]byte, 8)
	if _, err := io.ReadFull(ctrl, frame); err != nil {
		return
	}
	payload := make([]byte, proto.DecodeInt32(frame[4:8]))
	if _, err := io.ReadFull(ctrl, payload); err != nil {
		return
	}
	req, err := proto.ParseRunRequest(append(frame, payload...))
	if err != nil {
		return
	}
	d.gotReq <- req

	outConn, err := lns[1].Accept()
	if err != nil {
		return
	}
	errConn, err := lns[2].Accept()
	if err != nil {
		return
	}
	inConn, err := lns[3].Accept()
	if err != nil {
		return
	}

	outConn.Write(d.stdout)
	outConn.Close()
	errConn.Write(d.stderr)
	errConn.Close()

	in, _ := io.ReadAll(inConn)
	inConn.Close()
	d.gotStdin <- in

	if d.exit != nil {
		ctrl.Write(proto.EncodeInt32(*d.exit))
	}
}

// localStdio builds pipe-backed std streams for a client under test.
func localStdio(t *testing.T) (stdinW, stdoutR, stderrR *os.File, opt Option) {
	t.Helper()
	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	opt = WithStdio(int(stdinR.Fd()), int(stdoutW.Fd()), int(stderrW.Fd()))
	t.Cleanup(func() {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
	})
	return stdinW, stdoutR, stderrR, opt
}

func TestRunEndToEnd(t *testing.T) {
	base, lns := listenQuad(t)
	code := int32(7)
	daemon := startFakeDaemon(lns, []byte("standard output"), []byte("standard error"), &code)

	stdinW, stdoutR, stderrR, stdio := localStdio(t)
	go func() {
		stdinW.Write([]byte("typed input"))
		stdinW.Close()
	}()

	c := New(base, stdio)
	got, err := c.Run([]string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(7), got)

	requireRead(t, stdoutR, "standard output")
	requireRead(t, stderrR, "standard error")

	req := <-daemon.gotReq
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, req.Dir)
	assert.Equal(t, []string{"echo", "hello"}, req.Args)

	assert.Equal(t, "typed input", string(<-daemon.gotStdin))
}

func TestRunStatusUnavailable(t *testing.T) {
	base, lns := listenQuad(t)
	startFakeDaemon(lns, nil, nil, nil) // control closes without a status

	stdinW, _, _, stdio := localStdio(t)
	require.NoError(t, stdinW.Close())

	c := New(base, stdio)
	got, err := c.Run([]string{"true"})
	require.ErrorIs(t, err, ErrStatusUnavailable)
	assert.Equal(t, int32(StatusSentinel), got)
}

func TestRunNegativeExitCode(t *testing.T) {
	base, lns := listenQuad(t)
	code := int32(-1)
	startFakeDaemon(lns, nil, nil, &code)

	stdinW, _, _, stdio := localStdio(t)
	require.NoError(t, stdinW.Close())

	c := New(base, stdio)
	got, err := c.Run([]string{"false"})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got)
}

func TestRunConnectFailure(t *testing.T) {
	// Grab a port and free it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New(port)
	_, err = c.Run([]string{"echo", "hi"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStatusUnavailable)
}

func TestRunPartialDialFailure(t *testing.T) {
	// Control is reachable but the stream ports are not.
	base, lns := listenQuad(t)
	for i := 1; i < 4; i++ {
		require.NoError(t, lns[i].Close())
	}
	go func() {
		// Accept and hold the control connection like the daemon would.
		c, err := lns[0].Accept()
		if err == nil {
			io.ReadAll(c)
			c.Close()
		}
	}()

	c := New(base)
	_, err := c.Run([]string{"echo", "hi"})
	require.Error(t, err)
}

func TestRunRejectsEmbeddedNUL(t *testing.T) {
	c := New(DefaultPort)
	_, err := c.Run([]string{"echo", "bad\x00arg"})
	require.ErrorIs(t, err, proto.ErrEmbeddedNUL)
}

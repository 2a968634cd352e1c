package proto

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// headerSize is the fixed prefix of a run request frame: the big-endian
// argument count followed by the big-endian payload length.
const headerSize = 8

// ErrEmbeddedNUL is returned when the working directory or an argument
// contains a NUL byte. NUL is the payload field delimiter, so such strings
// cannot be framed.
var ErrEmbeddedNUL = errors.New("string contains a NUL byte")

// RunRequest is a command to execute on the daemon: the argument list
// (Args[0] is the program) and the working directory to run it in.
type RunRequest struct {
	Dir  string
	Args []string
}

// NewRunRequest builds a request for args running in the current working
// directory.
func NewRunRequest(args []string) (*RunRequest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return &RunRequest{Dir: wd, Args: args}, nil
}

// PayloadLen returns the length of the NUL-delimited payload: every field
// contributes its bytes plus one NUL terminator.
func (r *RunRequest) PayloadLen() int {
	n := len(r.Dir) + 1
	for _, a := range r.Args {
		n += len(a) + 1
	}
	return n
}

// MarshalBinary renders the full request frame:
//
//	[4B BE argc][4B BE payload length][dir NUL arg0 NUL ... argN-1 NUL]
func (r *RunRequest) MarshalBinary() ([]byte, error) {
	if err := checkNUL("working directory", r.Dir); err != nil {
		return nil, err
	}
	for i, a := range r.Args {
		if err := checkNUL(fmt.Sprintf("argument %d", i), a); err != nil {
			return nil, err
		}
	}

	payloadLen := r.PayloadLen()
	buf := make([]byte, 0, headerSize+payloadLen)
	buf = append(buf, EncodeInt32(int32(len(r.Args)))...)
	buf = append(buf, EncodeInt32(int32(payloadLen))...)
	buf = append(buf, r.Dir...)
	buf = append(buf, 0)
	for _, a := range r.Args {
		buf = append(buf, a...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// ParseRunRequest decodes a frame produced by MarshalBinary. It is the
// inverse the daemon applies when it receives a request.
func ParseRunRequest(frame []byte) (*RunRequest, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	argc := DecodeInt32(frame[:4])
	payloadLen := DecodeInt32(frame[4:8])
	if argc < 0 {
		return nil, fmt.Errorf("negative argument count %d", argc)
	}
	payload := frame[headerSize:]
	if int32(len(payload)) != payloadLen {
		return nil, fmt.Errorf("payload length mismatch: header says %d, frame has %d", payloadLen, len(payload))
	}
	if len(payload) == 0 || payload[len(payload)-1] != 0 {
		return nil, errors.New("payload not NUL-terminated")
	}

	fields := bytes.Split(payload[:len(payload)-1], []byte{0})
	if int32(len(fields)) != argc+1 {
		return nil, fmt.Errorf("field count mismatch: want %d fields, got %d", argc+1, len(fields))
	}

	req := &RunRequest{Dir: string(fields[0])}
	for _, f := range fields[1:] {
		req.Args = append(req.Args, string(f))
	}
	return req, nil
}

func checkNUL(what, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%s: %w", what, ErrEmbeddedNUL)
	}
	return nil
}

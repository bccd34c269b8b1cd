//go:build linux || darwin

// Package linesource reads newline-terminated lines from a child process
// pipe without ever blocking the caller.
package linesource

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// MaxLineLength forces out a line that has no newline after this many bytes.
	MaxLineLength = 1 << 20

	readChunk = 64 << 10
)

// StreamError is a read failure other than EAGAIN or EINTR. It is fatal
// to the experiment reading the stream.
type StreamError struct {
	Source string
	Op     string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Source, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Source buffers the bytes of one file descriptor and hands them out
// line by line. It is owned by a single goroutine.
type Source struct {
	name  string
	file  *os.File
	fd    int
	buf   []byte
	chunk []byte
	eof   bool
}

// New switches f to non-blocking mode and wraps it. The source owns f
// from now on; f must not be read through its own methods.
func New(name string, f *os.File) (*Source, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &StreamError{Source: name, Op: "set nonblock", Err: err}
	}
	return &Source{
		name:  name,
		file:  f,
		fd:    fd,
		chunk: make([]byte, readChunk),
	}, nil
}

// Name returns the stream name given to New.
func (s *Source) Name() string {
	return s.name
}

// Fd returns the file descriptor for readiness waits.
func (s *Source) Fd() int {
	return s.fd
}

// IsClosed reports whether EOF was seen and every buffered byte was handed out.
func (s *Source) IsClosed() bool {
	return s.eof && len(s.buf) == 0
}

// PollReadable reports whether ReadLine could make progress right now.
func (s *Source) PollReadable() (bool, error) {
	if bytes.IndexByte(s.buf, '\n') >= 0 {
		return true, nil
	}
	if s.eof {
		return len(s.buf) > 0, nil
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, &StreamError{Source: s.name, Op: "poll", Err: err}
	}
	return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

// ReadLine returns the next complete line without its terminator. It reads
// until a line completes, the descriptor would block, or EOF. ok is false
// when no line is available yet. After EOF an unterminated fragment is
// returned once as a final line.
func (s *Source) ReadLine() (line string, ok bool, err error) {
	if line, ok := s.nextLine(); ok {
		return line, true, nil
	}

	for !s.eof {
		n, err := unix.Read(s.fd, s.chunk)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return "", false, nil
		case err != nil:
			return "", false, &StreamError{Source: s.name, Op: "read", Err: err}
		case n == 0:
			s.eof = true
		default:
			s.buf = append(s.buf, s.chunk[:n]...)
			if line, ok := s.nextLine(); ok {
				return line, true, nil
			}
		}
	}

	if len(s.buf) > 0 {
		line := trimCR(string(s.buf))
		s.buf = nil
		return line, true, nil
	}
	return "", false, nil
}

// nextLine cuts one line off the buffer.
func (s *Source) nextLine() (string, bool) {
	i := bytes.IndexByte(s.buf, '\n')
	if i < 0 {
		if len(s.buf) < MaxLineLength {
			return "", false
		}
		line := string(s.buf[:MaxLineLength])
		s.buf = s.buf[MaxLineLength:]
		return line, true
	}

	line := trimCR(string(s.buf[:i]))
	s.buf = s.buf[i+1:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return line, true
}

func trimCR(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// Close releases the descriptor.
func (s *Source) Close() error {
	return s.file.Close()
}

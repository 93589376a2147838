package util

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsClosed reports whether err only says that the other side (or our
// own teardown) closed the stream.  Such errors end a session quietly
// instead of being reported as failures.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// CloseAll closes every non-nil closer and returns the first error.
func CloseAll(closers ...io.Closer) error {
	var first error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil && !IsClosed(err) {
			first = err
		}
	}
	return first
}

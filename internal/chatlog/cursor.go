package chatlog

import (
	"context"
	"time"

	cerrors "chatd/internal/errors"
)

// Cursor is a byte-offset bookmark into a Log.  Each byte from the
// starting offset onward is returned exactly once, in append order.
// A Cursor belongs to a single reader and is not safe for concurrent
// use.
type Cursor struct {
	log    *Log
	offset int64
}

// Offset returns the position of the next unread byte.
func (c *Cursor) Offset() int64 { return c.offset }

// Pending reports whether bytes are waiting to be read.
func (c *Cursor) Pending() bool { return c.log.end.Load() > c.offset }

// ReadAvailable returns every byte appended since the previous read,
// or nil when there is nothing new.  It never blocks waiting for data.
func (c *Cursor) ReadAvailable() ([]byte, error) {
	if c.log.closed.Load() {
		return nil, cerrors.ErrLogClosed
	}
	end := c.log.end.Load()
	if end <= c.offset {
		return nil, nil
	}

	out := make([]byte, end-c.offset)
	n, err := c.log.file.ReadAt(out, c.offset)
	if n < len(out) {
		if err == nil {
			err = cerrors.New("short read")
		}
		return nil, cerrors.WrapLog("read", c.log.path, err)
	}
	c.offset = end
	return out, nil
}

// Wait blocks until the log grows past the cursor, maxWait elapses or
// ctx is done.  It reports whether new bytes are available.  A
// non-positive maxWait waits for an append or ctx only.
func (c *Cursor) Wait(ctx context.Context, maxWait time.Duration) bool {
	ch := c.log.changed()
	if c.Pending() {
		return true
	}
	if c.log.closed.Load() {
		return false
	}

	var timeout <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ch:
	case <-timeout:
	case <-ctx.Done():
	}
	return c.Pending()
}

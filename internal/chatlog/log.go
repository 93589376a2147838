// Package chatlog implements the shared chat log: an append-only file
// of ETX-terminated frames that is the single ordering authority for
// all chat traffic and doubles as the history every new session
// replays.
//
// Appends are serialised; any number of cursors read concurrently.  A
// cursor only ever observes bytes whose append has completed, so a
// partially written frame is never delivered.
package chatlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	cerrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/wire"
	"chatd/util"
)

// file is the part of *os.File the log uses.
type file interface {
	io.Writer
	io.ReaderAt
	io.Closer
	Truncate(size int64) error
	Sync() error
}

// Log is the shared append-only chat log.
type Log struct {
	path     string
	file     file
	truncate bool
	sync     bool
	logger   *util.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex   // serialises Append and Close
	end    atomic.Int64 // published end offset; cursors never read past it
	closed atomic.Bool
	torn   bool // guarded by mu; set when a failed append could not be rolled back

	notifyMu sync.Mutex
	notify   chan struct{} // closed and replaced after every append
}

// Option configures a Log at Open time.
type Option func(*Log)

// WithTruncate empties an existing log file on open.  Without it the
// previous content is kept and replayed to every new session.
func WithTruncate(on bool) Option {
	return func(l *Log) { l.truncate = on }
}

// WithSync fsyncs the file after every append.
func WithSync(on bool) Option {
	return func(l *Log) { l.sync = on }
}

// WithLogger sets the logger used to report I/O failures.
func WithLogger(logger *util.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Log) { l.metrics = m }
}

// Open opens (creating if needed) the log file at path.
func Open(path string, opts ...Option) (*Log, error) {
	l := &Log{
		path:   path,
		notify: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = util.NewLogger(0)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cerrors.WrapLog("open", path, err)
		}
	}

	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	if l.truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, cerrors.WrapLog("open", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, cerrors.WrapLog("stat", path, err)
	}

	l.file = f
	l.end.Store(st.Size())
	return l, nil
}

// OpenTemp creates a fresh log in a new temporary directory.  The
// caller owns the directory; Path reports where the file lives.
func OpenTemp(opts ...Option) (*Log, error) {
	dir, err := os.MkdirTemp("", "chatd-")
	if err != nil {
		return nil, cerrors.WrapLog("open", os.TempDir(), err)
	}
	return Open(filepath.Join(dir, "chat.log"), opts...)
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// Size returns the number of bytes visible to cursors.
func (l *Log) Size() int64 { return l.end.Load() }

// Append stores frame followed by the ETX delimiter.  Concurrent
// appends never interleave.  Failures are logged and returned; they
// never bring the process down.
func (l *Log) Append(frame []byte) error {
	if len(frame) == 0 {
		return cerrors.ErrEmptyFrame
	}
	if bytes.IndexByte(frame, wire.ETX) >= 0 {
		return fmt.Errorf("append: frame contains the ETX delimiter")
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, wire.ETX)

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return cerrors.ErrLogClosed
	}
	if l.torn {
		l.mu.Unlock()
		return cerrors.WrapLog("append", l.path, cerrors.ErrLogTorn)
	}
	err := l.write(buf)
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("%v", err)
		l.metrics.RecordError(err.Error())
		return err
	}
	l.metrics.LogAppended()
	l.broadcast()
	return nil
}

// AppendString is Append for text.
func (l *Log) AppendString(s string) error { return l.Append([]byte(s)) }

// write must be called with l.mu held.
func (l *Log) write(buf []byte) error {
	start := l.end.Load()
	n, err := l.file.Write(buf)
	if err == nil && n < len(buf) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	if err != nil {
		// Drop the torn frame so no cursor ever sees half an entry.
		// If that fails the next append would land after the torn
		// bytes, so the log refuses further appends.
		if n > 0 {
			if terr := l.file.Truncate(start); terr != nil {
				l.logger.Error("chat log truncate after failed append: %v", terr)
				l.torn = true
			}
		}
		return cerrors.WrapLog("append", l.path, err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			// The bytes are in the file; only durability is in doubt.
			l.logger.Warn("%v", cerrors.WrapLog("sync", l.path, err))
		}
	}
	l.end.Store(start + int64(n))
	return nil
}

// changed returns a channel that is closed by the next append or by
// Close.
func (l *Log) changed() <-chan struct{} {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	return l.notify
}

func (l *Log) broadcast() {
	l.notifyMu.Lock()
	close(l.notify)
	l.notify = make(chan struct{})
	l.notifyMu.Unlock()
}

// OpenCursor returns a cursor positioned at offset 0, so the first
// read delivers the entire history.
func (l *Log) OpenCursor() *Cursor { return &Cursor{log: l} }

// OpenCursorAt returns a cursor positioned at off, clamped to the
// current end of the log.
func (l *Log) OpenCursorAt(off int64) *Cursor {
	if off < 0 {
		off = 0
	}
	if end := l.end.Load(); off > end {
		off = end
	}
	return &Cursor{log: l, offset: off}
}

// Close closes the backing file and wakes every waiting cursor.
// Close is idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Swap(true) {
		return nil
	}
	l.broadcast()
	if err := l.file.Close(); err != nil {
		return cerrors.WrapLog("close", l.path, err)
	}
	return nil
}

// SplitEntries splits raw stored bytes into entries, dropping the ETX
// delimiters.  A trailing fragment without a delimiter is returned as
// the last entry.
func SplitEntries(raw []byte) [][]byte {
	var out [][]byte
	for len(raw) > 0 {
		i := bytes.IndexByte(raw, wire.ETX)
		if i < 0 {
			out = append(out, raw)
			break
		}
		out = append(out, raw[:i])
		raw = raw[i+1:]
	}
	return out
}

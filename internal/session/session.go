// Package session implements a chat participant's server-side state:
// its identity, the two connections it was paired from, a private
// cursor into the shared chat log and the two pumps that move bytes
// between them.
//
// The inbound pump digests ETX frames from the participant into log
// entries; the outbound pump tails the log and delivers new entries.
// Either pump ending stops the other, and the outbound pump performs
// the teardown.
package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chatd/internal/chatlog"
	cerrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/wire"
	"chatd/util"
)

// DefaultPollInterval bounds how long the outbound pump sleeps when no
// append wake-up arrives.
const DefaultPollInterval = 100 * time.Millisecond

// Config carries everything a Session needs.  In and Out may be the
// same connection.
type Config struct {
	ID  string
	In  net.Conn // participant → server
	Out net.Conn // server → participant

	// Reader wraps In.  The handshake passes its own reader so bytes
	// the participant pipelined after the identity line are not lost.
	Reader *bufio.Reader

	Log          *chatlog.Log
	Logger       *util.Logger
	Metrics      *metrics.Collector
	PollInterval time.Duration
}

// Session is one registered chat participant.
type Session struct {
	id      string
	in, out net.Conn
	reader  *bufio.Reader
	log     *chatlog.Log
	cursor  *chatlog.Cursor
	logger  *util.Logger
	metrics *metrics.Collector
	poll    time.Duration

	running      atomic.Bool
	disconnected atomic.Bool
	started      atomic.Bool

	ctx      context.Context // cancelled once running turns false
	cancel   context.CancelFunc
	teardown sync.Once
	done     chan struct{}
}

// New builds a session whose cursor starts at the beginning of the
// log, so the participant first receives the full history.  No
// goroutine runs until Start.
func New(cfg Config) *Session {
	reader := cfg.Reader
	if reader == nil {
		reader = bufio.NewReader(cfg.In)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      cfg.ID,
		in:      cfg.In,
		out:     cfg.Out,
		reader:  reader,
		log:     cfg.Log,
		cursor:  cfg.Log.OpenCursor(),
		logger:  logger.Scoped("session " + cfg.ID),
		metrics: cfg.Metrics,
		poll:    poll,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// Start announces the participant in the log and launches both pumps.
// Calling Start more than once has no effect.
func (s *Session) Start() {
	if s.started.Swap(true) {
		return
	}
	s.metrics.SessionOpened()
	if err := s.log.AppendString(wire.JoinNotice(s.id)); err != nil {
		s.logger.Warn("join notice: %v", err)
	}
	s.logger.Info("connected from %s", util.HostOf(s.in.RemoteAddr()))

	go s.run(s.inbound())
	go s.run(s.outbound())
}

// ID returns the participant's identity.
func (s *Session) ID() string { return s.id }

// Running reports whether the pumps have been asked to keep going.
func (s *Session) Running() bool { return s.running.Load() }

// Disconnected reports whether teardown has completed.
func (s *Session) Disconnected() bool { return s.disconnected.Load() }

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop asks both pumps to end.  The outbound pump notices and runs
// Disconnect.  An expired write deadline releases a delivery blocked on
// a participant that stopped reading.
func (s *Session) Stop() {
	if s.running.CompareAndSwap(true, false) {
		s.cancel()
		if err := s.out.SetWriteDeadline(time.Now()); err != nil {
			s.logger.Debug("write deadline: %v", err)
		}
	}
}

// Disconnect appends the leave notice, closes both connections and
// marks the session disconnected.  Only the first call has any effect.
// A session that was never started leaves no notice.
func (s *Session) Disconnect() {
	s.teardown.Do(func() {
		s.Stop()
		started := s.started.Load()
		if started {
			if err := s.log.AppendString(wire.LeaveNotice(s.id)); err != nil && !errors.Is(err, cerrors.ErrLogClosed) {
				s.logger.Warn("leave notice: %v", err)
			}
		}
		if err := util.CloseAll(s.in, s.out); err != nil {
			s.logger.Debug("close: %v", err)
		}
		if started {
			s.metrics.SessionClosed()
		}
		s.disconnected.Store(true)
		close(s.done)
		s.logger.Info("disconnected")
	})
}

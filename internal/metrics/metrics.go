// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a chatd server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.  When a
// go-metrics sink is attached every event is also forwarded to it.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Sink keys, in go-metrics []string form.
var (
	KeySessionsOpened     = []string{"chatd", "sessions", "opened"}
	KeySessionsClosed     = []string{"chatd", "sessions", "closed"}
	KeySessionsActive     = []string{"chatd", "sessions", "active"}
	KeySessionsReaped     = []string{"chatd", "sessions", "reaped"}
	KeyHandshakeAccepted  = []string{"chatd", "handshake", "accepted"}
	KeyHandshakeRejected  = []string{"chatd", "handshake", "rejected"}
	KeyHandshakeAborted   = []string{"chatd", "handshake", "aborted"}
	KeyPairFailed         = []string{"chatd", "pair", "failed"}
	KeyMessagesIn         = []string{"chatd", "messages", "in"}
	KeyBytesIn            = []string{"chatd", "bytes", "in"}
	KeyBytesOut           = []string{"chatd", "bytes", "out"}
	KeyErrors             = []string{"chatd", "errors"}
	KeyLogAppends         = []string{"chatd", "log", "appends"}
	KeyRegistrySweepCount = []string{"chatd", "registry", "sweeps"}
)

// Collector tracks runtime metrics for a chatd server.
// A nil Collector is safe to use: every method becomes a no-op.
type Collector struct {
	sessionsActive     atomic.Int64
	sessionsTotal      atomic.Int64
	sessionsReaped     atomic.Int64
	handshakesAccepted atomic.Int64
	handshakesRejected atomic.Int64
	handshakesAborted  atomic.Int64
	pairFailures       atomic.Int64
	messagesIn         atomic.Int64
	bytesIn            atomic.Int64
	bytesOut           atomic.Int64
	logAppends         atomic.Int64
	sweeps             atomic.Int64
	errorsTotal        atomic.Int64

	sink gometrics.MetricSink

	mu           sync.RWMutex
	startTime    time.Time
	lastSweep    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.  A
// nil sink disables forwarding.
func New(sink gometrics.MetricSink) *Collector {
	return &Collector{startTime: time.Now(), sink: sink}
}

func (c *Collector) incr(key []string, n int64) {
	if c.sink != nil {
		c.sink.IncrCounter(key, float32(n))
	}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	active := c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.incr(KeySessionsOpened, 1)
	if c.sink != nil {
		c.sink.SetGauge(KeySessionsActive, float32(active))
	}
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	active := c.sessionsActive.Add(-1)
	c.incr(KeySessionsClosed, 1)
	if c.sink != nil {
		c.sink.SetGauge(KeySessionsActive, float32(active))
	}
}

// ActiveSessions returns the current number of live sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// SessionsReaped records n sessions removed by a registry sweep.
func (c *Collector) SessionsReaped(n int) {
	if c == nil {
		return
	}
	c.sweeps.Add(1)
	c.incr(KeyRegistrySweepCount, 1)
	if n <= 0 {
		return
	}
	c.sessionsReaped.Add(int64(n))
	c.incr(KeySessionsReaped, int64(n))
	c.mu.Lock()
	c.lastSweep = time.Now()
	c.mu.Unlock()
}

// TotalReaped returns how many sessions the reaper has removed.
func (c *Collector) TotalReaped() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsReaped.Load()
}

// ── Handshake metrics ────────────────────────────────────────────────

// HandshakeAccepted records a completed identity handshake.
func (c *Collector) HandshakeAccepted() {
	if c == nil {
		return
	}
	c.handshakesAccepted.Add(1)
	c.incr(KeyHandshakeAccepted, 1)
}

// HandshakeRejected records an identity refused because it is taken.
func (c *Collector) HandshakeRejected() {
	if c == nil {
		return
	}
	c.handshakesRejected.Add(1)
	c.incr(KeyHandshakeRejected, 1)
}

// HandshakeAborted records a handshake abandoned by "$exit" or a
// stream failure.
func (c *Collector) HandshakeAborted() {
	if c == nil {
		return
	}
	c.handshakesAborted.Add(1)
	c.incr(KeyHandshakeAborted, 1)
}

// PairFailed records a connection pair that was abandoned before the
// handshake: mismatched hosts or a missing second connection.
func (c *Collector) PairFailed() {
	if c == nil {
		return
	}
	c.pairFailures.Add(1)
	c.incr(KeyPairFailed, 1)
}

// Rejected returns the number of rejected identities.
func (c *Collector) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.handshakesRejected.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// MessageReceived records one inbound chat frame of n bytes.
func (c *Collector) MessageReceived(n int) {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
	c.bytesIn.Add(int64(n))
	c.incr(KeyMessagesIn, 1)
	c.incr(KeyBytesIn, int64(n))
}

// BytesSent records n bytes written to a participant.
func (c *Collector) BytesSent(n int) {
	if c == nil {
		return
	}
	c.bytesOut.Add(int64(n))
	c.incr(KeyBytesOut, int64(n))
}

// LogAppended records one successful append to the shared log.
func (c *Collector) LogAppended() {
	if c == nil {
		return
	}
	c.logAppends.Add(1)
	c.incr(KeyLogAppends, 1)
}

// TotalMessagesIn returns the number of chat frames received.
func (c *Collector) TotalMessagesIn() int64 {
	if c == nil {
		return 0
	}
	return c.messagesIn.Load()
}

// TotalBytesOut returns total bytes delivered to participants.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.incr(KeyErrors, 1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	SessionsActive     int64  `json:"sessions_active"`
	SessionsTotal      int64  `json:"sessions_total"`
	SessionsReaped     int64  `json:"sessions_reaped"`
	HandshakesAccepted int64  `json:"handshakes_accepted"`
	HandshakesRejected int64  `json:"handshakes_rejected"`
	HandshakesAborted  int64  `json:"handshakes_aborted"`
	PairFailures       int64  `json:"pair_failures"`
	MessagesIn         int64  `json:"messages_in"`
	BytesIn            int64  `json:"bytes_in"`
	BytesOut           int64  `json:"bytes_out"`
	LogAppends         int64  `json:"log_appends"`
	Sweeps             int64  `json:"sweeps"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastReap           string `json:"last_reap,omitempty"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:     c.sessionsActive.Load(),
		SessionsTotal:      c.sessionsTotal.Load(),
		SessionsReaped:     c.sessionsReaped.Load(),
		HandshakesAccepted: c.handshakesAccepted.Load(),
		HandshakesRejected: c.handshakesRejected.Load(),
		HandshakesAborted:  c.handshakesAborted.Load(),
		PairFailures:       c.pairFailures.Load(),
		MessagesIn:         c.messagesIn.Load(),
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		LogAppends:         c.logAppends.Load(),
		Sweeps:             c.sweeps.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if !c.lastSweep.IsZero() {
		s.LastReap = c.lastSweep.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

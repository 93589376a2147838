package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the chat server's listen port.
	DefaultPort = 4040

	// DefaultVerbosity prints informational messages and warnings.
	DefaultVerbosity = 1

	// DefaultJoinHost is the server the join client dials.
	DefaultJoinHost = "127.0.0.1"

	// DefaultReapInterval is how often disconnected sessions are
	// dropped from the registry.
	DefaultReapInterval = 100 * time.Millisecond

	// DefaultPollInterval bounds the outbound pump's sleep between
	// log reads when no append wake-up arrives.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultGracePeriod is how long shutdown waits after
	// disconnecting every session before the process exits.
	DefaultGracePeriod = time.Second

	// DefaultDialAttempts is how many times the join client tries
	// each of its two connections.
	DefaultDialAttempts = 5

	// DefaultDialTimeout is the per-attempt TCP connect timeout.
	DefaultDialTimeout = 10 * time.Second
)

// Package config defines the runtime configuration for chatd and the
// loaders that fill it from a TOML file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	cerrors "chatd/internal/errors"
)

// Config holds every tuneable for a server or join client process.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	BindHost string // "" binds every interface
	Port     int

	// ── Chat log ─────────────────────────────────────────────────────
	LogPath  string // "" uses a temporary file removed on exit
	Truncate bool   // empty an existing log instead of replaying it
	Sync     bool   // fsync after every append

	// ── Timing ───────────────────────────────────────────────────────
	ReapInterval     time.Duration
	PollInterval     time.Duration
	PairTimeout      time.Duration // 0 waits forever for the second conn
	HandshakeTimeout time.Duration // 0 lets a handshake idle forever
	GracePeriod      time.Duration

	// ── Console ──────────────────────────────────────────────────────
	Console bool

	// ── Join client ──────────────────────────────────────────────────
	Join         bool
	JoinHost     string
	JoinID       string
	DialAttempts int
	DialTimeout  time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Timestamps bool
	ConfigFile string
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		ReapInterval: DefaultReapInterval,
		PollInterval: DefaultPollInterval,
		GracePeriod:  DefaultGracePeriod,
		Console:      true,
		JoinHost:     DefaultJoinHost,
		DialAttempts: DefaultDialAttempts,
		DialTimeout:  DefaultDialTimeout,
		Verbose:      DefaultVerbosity,
	}
}

// ListenAddress is the server's bind address.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.Port)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &cerrors.ConfigError{Field: "port", Value: c.Port,
			Message: "must be in 1-65535"}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"reap-interval", c.ReapInterval},
		{"poll-interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &cerrors.ConfigError{Field: d.field, Value: d.value,
				Message: "must be positive"}
		}
	}
	if c.PairTimeout < 0 {
		return &cerrors.ConfigError{Field: "pair-timeout", Value: c.PairTimeout,
			Message: "must not be negative (0 disables it)"}
	}
	if c.HandshakeTimeout < 0 {
		return &cerrors.ConfigError{Field: "handshake-timeout", Value: c.HandshakeTimeout,
			Message: "must not be negative (0 disables it)"}
	}

	if c.Join {
		if c.JoinHost == "" {
			return &cerrors.ConfigError{Field: "host",
				Message: "join mode needs a server host",
				Hint:    "chatd join --host <host>"}
		}
		if strings.Contains(c.JoinID, "\n") {
			return &cerrors.ConfigError{Field: "id", Value: c.JoinID,
				Message: "must be a single line"}
		}
		if c.DialAttempts < 1 {
			return &cerrors.ConfigError{Field: "attempts", Value: c.DialAttempts,
				Message: "must be at least 1"}
		}
	} else if c.Truncate && c.LogPath == "" {
		return &cerrors.ConfigError{Field: "truncate",
			Message: "has no effect without a log path",
			Hint:    "chatd --log chat.log --truncate"}
	}

	return nil
}

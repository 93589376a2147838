package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. TOML config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"

	"chatd/util"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CHATD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive) and "0", "false", "no".
// Durations use time.ParseDuration syntax ("250ms", "2s").

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// parseable env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHATD_BIND"); v != "" {
		cfg.BindHost = v
	}
	if v := envInt("CHATD_PORT"); v > 0 {
		cfg.Port = v
	}

	// Chat log
	if v := os.Getenv("CHATD_LOG"); v != "" {
		cfg.LogPath = v
	}
	envBoolInto("CHATD_TRUNCATE", &cfg.Truncate)
	envBoolInto("CHATD_SYNC", &cfg.Sync)

	// Timing
	envDurationInto("CHATD_REAP_INTERVAL", &cfg.ReapInterval)
	envDurationInto("CHATD_POLL_INTERVAL", &cfg.PollInterval)
	envDurationInto("CHATD_PAIR_TIMEOUT", &cfg.PairTimeout)
	envDurationInto("CHATD_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	envDurationInto("CHATD_GRACE", &cfg.GracePeriod)

	envBoolInto("CHATD_CONSOLE", &cfg.Console)

	// Join client
	if v := os.Getenv("CHATD_HOST"); v != "" {
		cfg.JoinHost = v
	}
	if v := os.Getenv("CHATD_ID"); v != "" {
		cfg.JoinID = v
	}
	if v := envInt("CHATD_DIAL_ATTEMPTS"); v > 0 {
		cfg.DialAttempts = v
	}

	// Output
	if v := envInt("CHATD_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if level, ok := util.ParseLogLevel(os.Getenv("CHATD_LOG_LEVEL")); ok {
		cfg.Verbose = int(level)
	}
	envBoolInto("CHATD_TIMESTAMPS", &cfg.Timestamps)
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBoolInto(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	}
}

func envDurationInto(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

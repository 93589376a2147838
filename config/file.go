package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	cerrors "chatd/internal/errors"
	"chatd/util"
)

// fileConfig mirrors the TOML layout.  Durations are strings in
// time.ParseDuration syntax.
type fileConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`

	Log struct {
		Path     string `toml:"path"`
		Truncate bool   `toml:"truncate"`
		Sync     bool   `toml:"sync"`
	} `toml:"log"`

	ReapInterval     string `toml:"reap_interval"`
	PollInterval     string `toml:"poll_interval"`
	PairTimeout      string `toml:"pair_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	Grace            string `toml:"grace"`
	Console          bool   `toml:"console"`

	Join struct {
		Host     string `toml:"host"`
		ID       string `toml:"id"`
		Attempts int    `toml:"attempts"`
		Timeout  string `toml:"timeout"`
	} `toml:"join"`

	Verbose    int    `toml:"verbose"`
	LogLevel   string `toml:"log_level"`
	Timestamps bool   `toml:"timestamps"`
}

// LoadFile overlays the TOML file at path onto cfg.  Only keys present
// in the file override the existing value.
func LoadFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return &cerrors.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}

	if meta.IsDefined("bind") {
		cfg.BindHost = strings.TrimSpace(raw.Bind)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("log", "path") {
		cfg.LogPath = strings.TrimSpace(raw.Log.Path)
	}
	if meta.IsDefined("log", "truncate") {
		cfg.Truncate = raw.Log.Truncate
	}
	if meta.IsDefined("log", "sync") {
		cfg.Sync = raw.Log.Sync
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"reap_interval"}, raw.ReapInterval, &cfg.ReapInterval},
		{[]string{"poll_interval"}, raw.PollInterval, &cfg.PollInterval},
		{[]string{"pair_timeout"}, raw.PairTimeout, &cfg.PairTimeout},
		{[]string{"handshake_timeout"}, raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{[]string{"grace"}, raw.Grace, &cfg.GracePeriod},
		{[]string{"join", "timeout"}, raw.Join.Timeout, &cfg.DialTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return &cerrors.ConfigError{Field: strings.Join(d.key, "."), Value: d.raw,
				Message: "not a duration"}
		}
		*d.dst = v
	}

	if meta.IsDefined("console") {
		cfg.Console = raw.Console
	}

	if meta.IsDefined("join", "host") {
		cfg.JoinHost = strings.TrimSpace(raw.Join.Host)
	}
	if meta.IsDefined("join", "id") {
		cfg.JoinID = raw.Join.ID
	}
	if meta.IsDefined("join", "attempts") {
		cfg.DialAttempts = raw.Join.Attempts
	}

	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}
	if meta.IsDefined("log_level") {
		level, ok := util.ParseLogLevel(raw.LogLevel)
		if !ok {
			return &cerrors.ConfigError{Field: "log_level", Value: raw.LogLevel,
				Message: "unknown level", Hint: "quiet, info, verbose or debug"}
		}
		cfg.Verbose = int(level)
	}
	if meta.IsDefined("timestamps") {
		cfg.Timestamps = raw.Timestamps
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return &cerrors.ConfigError{Field: "config", Value: undecoded[0].String(),
			Message: "unknown key in " + path}
	}
	return nil
}

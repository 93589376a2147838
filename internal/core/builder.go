package core

import (
	"chatd/config"
	cerrors "chatd/internal/errors"
	"chatd/internal/retry"
	"chatd/internal/transport"
	"chatd/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Join {
		return buildJoin(cfg, logger), nil
	}
	return buildServe(cfg, logger), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) *ServeMode {
	return &ServeMode{
		Address:          cfg.ListenAddress(),
		LogPath:          cfg.LogPath,
		Truncate:         cfg.Truncate,
		Sync:             cfg.Sync,
		ReapInterval:     cfg.ReapInterval,
		PollInterval:     cfg.PollInterval,
		PairTimeout:      cfg.PairTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		GracePeriod:      cfg.GracePeriod,
		Console:          cfg.Console,
		Logger:           logger,
	}
}

func buildJoin(cfg *config.Config, logger *util.Logger) *JoinMode {
	return &JoinMode{
		Dialer:  buildDialer(cfg, logger),
		Address: util.FormatAddr(cfg.JoinHost, cfg.Port),
		ID:      cfg.JoinID,
		Logger:  logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer wraps a TCP dialer in the configured retry policy.  The
// server may still be starting, so refused connections are retried.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	b := retry.DefaultBackoff()
	b.MaxAttempts = cfg.DialAttempts
	b.ShouldRetry = cerrors.IsRetryable

	return &transport.RetryDialer{
		Dialer:  &transport.TCPDialer{Timeout: cfg.DialTimeout},
		Backoff: b,
		OnRetry: func(attempt int, address string) {
			logger.Verbose("dial %s: attempt %d/%d", address, attempt, cfg.DialAttempts)
		},
	}
}

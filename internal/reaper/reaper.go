// Package reaper periodically drops disconnected sessions from the
// registry so their identities become free again.
package reaper

import (
	"context"
	"time"

	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/util"
)

// DefaultInterval is the sweep period used when Interval is zero.
const DefaultInterval = 100 * time.Millisecond

// Reaper sweeps a registry on a fixed period.
type Reaper struct {
	Registry *registry.Registry
	Interval time.Duration
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// Run sweeps until ctx is cancelled.  It always returns nil.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.SweepOnce()
		}
	}
}

// SweepOnce removes every disconnected entry and returns how many
// were removed.
func (r *Reaper) SweepOnce() int {
	n := r.Registry.Sweep(registry.IsDisconnected)
	r.Metrics.SessionsReaped(n)
	if n > 0 && r.Logger != nil {
		r.Logger.Debug("reaped %d session(s), %d remain", n, r.Registry.Len())
	}
	return n
}

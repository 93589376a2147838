package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"

	"chatd/internal/acceptor"
	"chatd/internal/chatlog"
	"chatd/internal/console"
	cerrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/reaper"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/internal/transport"
	"chatd/util"
)

// ServeMode runs the chat server: one listener, one shared log, one
// registry, and the acceptor, reaper and console tasks around them.
type ServeMode struct {
	Address string // "host:port"; the host may be empty

	LogPath  string // "" uses a temporary log removed on exit
	Truncate bool
	Sync     bool

	ReapInterval     time.Duration
	PollInterval     time.Duration
	PairTimeout      time.Duration
	HandshakeTimeout time.Duration
	// GracePeriod is how long shutdown lets outbound pumps flush
	// before every session is disconnected.
	GracePeriod time.Duration

	Console bool
	Logger  *util.Logger

	// Stdin/Stdout feed the console and default to os.Stdin/os.Stdout.
	Stdin  io.Reader
	Stdout io.Writer

	// OnListen, if set, is called with the bound address before the
	// first connection is accepted.
	OnListen func(net.Addr)

	// Metrics is populated by Run.
	Metrics *metrics.Collector
}

// Run binds the listener and serves until ctx is cancelled or the
// console asks for shutdown.  Only a bind or log-open failure is
// returned as an error.
func (m *ServeMode) Run(ctx context.Context) error {
	log := m.Logger
	if log == nil {
		log = util.NewLogger(0)
	}

	ln, err := transport.Listen(ctx, m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	defer ln.Close()

	// In-memory sink; SIGUSR1 dumps it to stderr.
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	signal := gometrics.DefaultInmemSignal(sink)
	defer signal.Stop()
	m.Metrics = metrics.New(sink)

	chat, cleanup, err := m.openLog(log)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := registry.New()

	acc := &acceptor.Acceptor{
		Listener:         ln,
		Registry:         reg,
		Log:              chat,
		Logger:           log.Scoped("acceptor"),
		Metrics:          m.Metrics,
		PairTimeout:      m.PairTimeout,
		HandshakeTimeout: m.HandshakeTimeout,
		PollInterval:     m.PollInterval,
		OnEstablished: func(s *session.Session) {
			log.Verbose("%d participant(s) registered", reg.Len())
		},
	}
	rp := &reaper.Reaper{
		Registry: reg,
		Interval: m.ReapInterval,
		Logger:   log.Scoped("reaper"),
		Metrics:  m.Metrics,
	}

	log.Info("server is running on %s", ln.Addr())
	if m.OnListen != nil {
		m.OnListen(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return acc.Run(gctx) })
	g.Go(func() error { return rp.Run(gctx) })
	if m.Console {
		con := &console.Console{In: m.Stdin, Out: m.Stdout, Log: chat, Logger: log.Scoped("console")}
		log.Info("input '$exit' to quit server")
		g.Go(func() error { return con.Run(gctx) })
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, cerrors.ErrShutdown):
		err = nil
	default:
		log.Error("%v", err)
	}

	log.Info("server shutting down...")
	m.shutdown(reg, log)
	log.Verbose("metrics: %s", m.Metrics.JSON())
	return err
}

// openLog opens the configured log, or a temporary one whose directory
// is removed by the returned cleanup.
func (m *ServeMode) openLog(log *util.Logger) (*chatlog.Log, func(), error) {
	opts := []chatlog.Option{
		chatlog.WithTruncate(m.Truncate),
		chatlog.WithSync(m.Sync),
		chatlog.WithLogger(log.Scoped("chatlog")),
		chatlog.WithMetrics(m.Metrics),
	}

	if m.LogPath != "" {
		chat, err := chatlog.Open(m.LogPath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open chat log: %w", err)
		}
		if chat.Size() > 0 {
			if raw, err := chat.OpenCursor().ReadAvailable(); err == nil {
				log.Info("replaying %d entries of history from %s",
					len(chatlog.SplitEntries(raw)), m.LogPath)
			}
		}
		return chat, func() { chat.Close() }, nil
	}

	chat, err := chatlog.OpenTemp(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open chat log: %w", err)
	}
	log.Verbose("chat log at %s", chat.Path())
	return chat, func() {
		chat.Close()
		os.RemoveAll(filepath.Dir(chat.Path())) //nolint:errcheck
	}, nil
}

// disconnecter is implemented by *session.Session.
type disconnecter interface {
	Disconnect()
}

// shutdown waits out the grace period, then disconnects and drops
// every registered session.
func (m *ServeMode) shutdown(reg *registry.Registry, log *util.Logger) {
	if m.GracePeriod > 0 && reg.Len() > 0 {
		time.Sleep(m.GracePeriod)
	}
	n := reg.Sweep(func(e registry.Entry) bool {
		if d, ok := e.(disconnecter); ok {
			d.Disconnect()
		}
		return true
	})
	if n > 0 {
		log.Verbose("disconnected %d session(s)", n)
	}
}

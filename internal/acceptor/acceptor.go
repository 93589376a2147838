// Package acceptor turns pairs of inbound TCP connections into chat
// sessions.
//
// A participant opens two connections back to back: the first carries
// its messages to the server, the second carries the log back to it.
// Both must come from the same host.  The participant then proposes
// identities on the first connection until one is free, and the
// status of every attempt is written on the second.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatd/internal/chatlog"
	cerrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/util"
)

// Acceptor pairs connections, runs the identity handshake and starts
// a session for every participant that completes it.
type Acceptor struct {
	Listener net.Listener
	Registry *registry.Registry
	Log      *chatlog.Log
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// PairTimeout bounds the wait for the second connection of a
	// pair.  Zero waits forever.
	PairTimeout time.Duration
	// HandshakeTimeout bounds the whole identity exchange.  Zero
	// lets a client hold its pair open indefinitely.
	HandshakeTimeout time.Duration
	// PollInterval is handed to every session's outbound pump.
	PollInterval time.Duration

	// OnEstablished, if set, is called with every started session.
	OnEstablished func(*session.Session)

	inflight sync.WaitGroup
}

// acceptRetryDelay is the pause after a failed Accept, so a persistent
// failure such as running out of file descriptors does not spin.
const acceptRetryDelay = 50 * time.Millisecond

// deadliner is implemented by *net.TCPListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

func (a *Acceptor) logger() *util.Logger {
	if a.Logger == nil {
		a.Logger = util.NewLogger(0)
	}
	return a.Logger
}

// Run accepts connection pairs until ctx is cancelled or the listener
// fails for good.  Pairing and handshake failures only abandon the
// attempt at hand.
func (a *Acceptor) Run(ctx context.Context) error {
	log := a.logger()
	addr := a.Listener.Addr().String()

	go func() {
		<-ctx.Done()
		a.Listener.Close()
	}()
	defer a.inflight.Wait()

	log.Verbose("accepting connection pairs on %s", addr)
	for {
		in, out, err := a.acceptPair()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return cerrors.Wrap("accept", addr, err)
			}
			log.Warn("connection pair abandoned: %v", err)
			if isAcceptFailure(err) {
				select {
				case <-ctx.Done():
				case <-time.After(acceptRetryDelay):
				}
			}
			continue
		}

		tag := uuid.NewString()[:8]
		log.Verbose("pair %s from %s", tag, util.HostOf(in.RemoteAddr()))

		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			a.handshake(ctx, tag, in, out)
		}()
	}
}

func isAcceptFailure(err error) bool {
	var ne *cerrors.NetworkError
	return errors.As(err, &ne) && ne.Op == "accept"
}

// acceptPair accepts two consecutive connections and checks that they
// share a source host.  The first is the participant's sending side,
// the second its receiving side.
func (a *Acceptor) acceptPair() (in, out net.Conn, err error) {
	addr := a.Listener.Addr().String()

	in, err = a.Listener.Accept()
	if err != nil {
		return nil, nil, cerrors.Wrap("accept", addr, err)
	}

	if dl, ok := a.Listener.(deadliner); ok && a.PairTimeout > 0 {
		dl.SetDeadline(time.Now().Add(a.PairTimeout)) //nolint:errcheck
		defer dl.SetDeadline(time.Time{})             //nolint:errcheck
	}

	out, err = a.Listener.Accept()
	if err != nil {
		in.Close()
		if cerrors.IsTimeout(err) {
			a.Metrics.PairFailed()
			return nil, nil, fmt.Errorf("second connection from %s: %w",
				util.HostOf(in.RemoteAddr()), cerrors.ErrTimeout)
		}
		return nil, nil, cerrors.Wrap("accept", addr, err)
	}

	if !util.SameHost(in.RemoteAddr(), out.RemoteAddr()) {
		a.Metrics.PairFailed()
		util.CloseAll(in, out) //nolint:errcheck
		return nil, nil, fmt.Errorf("%s and %s: %w",
			in.RemoteAddr(), out.RemoteAddr(), cerrors.ErrPairMismatch)
	}
	return in, out, nil
}

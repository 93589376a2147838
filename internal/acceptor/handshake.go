package acceptor

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	cerrors "chatd/internal/errors"
	"chatd/internal/session"
	"chatd/internal/wire"
	"chatd/util"
)

// State is a step of the pairing and identity handshake.
type State int

const (
	AwaitingPair State = iota
	AwaitingIdentity
	Established
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingPair:
		return "awaiting-pair"
	case AwaitingIdentity:
		return "awaiting-identity"
	case Established:
		return "established"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// handshake reads identity lines from in until one is free, answering
// each attempt on out.  There is no attempt limit.  On success the
// connections belong to the new session; on any other outcome both are
// closed.
func (a *Acceptor) handshake(ctx context.Context, tag string, in, out net.Conn) {
	log := a.logger().Scoped("pair " + tag)

	// Server shutdown interrupts a handshake blocked on the client.
	stop := context.AfterFunc(ctx, func() { util.CloseAll(in, out) }) //nolint:errcheck
	defer stop()

	if a.HandshakeTimeout > 0 {
		in.SetReadDeadline(time.Now().Add(a.HandshakeTimeout)) //nolint:errcheck
	}

	sess, err := a.negotiate(log, in, out)
	if err != nil {
		a.Metrics.HandshakeAborted()
		util.CloseAll(in, out) //nolint:errcheck
		switch {
		case cerrors.Is(err, cerrors.ErrHandshakeAborted):
			log.Verbose("%s: client aborted", Rejected)
		case util.IsClosed(err):
			log.Verbose("%s: client went away", Rejected)
		default:
			log.Warn("%s: %v", Rejected, err)
		}
		return
	}

	if !stop() {
		// Shutdown raced the final status line; the conns are closed.
		sess.Disconnect()
		return
	}
	in.SetReadDeadline(time.Time{}) //nolint:errcheck

	sess.Start()
	a.Metrics.HandshakeAccepted()
	log.Verbose("%s as %q", Established, sess.ID())
	if a.OnEstablished != nil {
		a.OnEstablished(sess)
	}
}

// negotiate runs the AwaitingIdentity loop.  It returns a registered
// but not yet started session.
func (a *Acceptor) negotiate(log *util.Logger, in, out net.Conn) (*session.Session, error) {
	reader := bufio.NewReader(in)
	for {
		id, err := wire.ReadLine(reader)
		if err != nil {
			return nil, cerrors.Wrap("read", in.RemoteAddr().String(), err)
		}
		if id == "" {
			continue
		}
		if wire.IsAbort(id) {
			return nil, cerrors.ErrHandshakeAborted
		}

		if !a.Registry.Exists(id) {
			sess := session.New(session.Config{
				ID:           id,
				In:           in,
				Out:          out,
				Reader:       reader,
				Log:          a.Log,
				Logger:       a.Logger,
				Metrics:      a.Metrics,
				PollInterval: a.PollInterval,
			})
			if a.Registry.AddIfAbsent(sess) {
				if _, err := io.WriteString(out, wire.StatusEstablished); err != nil {
					// Registered but never started: the reaper drops it.
					sess.Disconnect()
					return nil, cerrors.Wrap("write", out.RemoteAddr().String(), err)
				}
				return sess, nil
			}
		}

		a.Metrics.HandshakeRejected()
		log.Verbose("%q: %v", id, cerrors.ErrIDTaken)
		if _, err := io.WriteString(out, wire.StatusIDTaken); err != nil {
			return nil, cerrors.Wrap("write", out.RemoteAddr().String(), err)
		}
	}
}

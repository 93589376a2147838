package session

import (
	"errors"
	"time"

	cerrors "chatd/internal/errors"
	"chatd/internal/wire"
	"chatd/util"
)

// pump is one direction of a session.  step moves at most one unit of
// data and reports whether the direction is finished; onExit runs once
// the loop ends for any reason.
type pump struct {
	name   string
	step   func() (done bool, err error)
	onExit func()
}

func (s *Session) run(p pump) {
	defer p.onExit()
	for s.Running() {
		done, err := p.step()
		if err != nil {
			if util.IsClosed(err) || !s.Running() {
				s.logger.Debug("%s: stream closed", p.name)
			} else {
				s.logger.Warn("%s: %v", p.name, err)
				s.metrics.RecordError(err.Error())
			}
			return
		}
		if done {
			return
		}
	}
}

// inbound digests participant frames into log entries.  It ends on the
// quit sentinel or when the stream fails or closes.
func (s *Session) inbound() pump {
	return pump{name: "inbound", step: s.digest, onExit: s.Stop}
}

// outbound delivers log entries to the participant and tears the
// session down once the session stops running.
func (s *Session) outbound() pump {
	return pump{name: "outbound", step: s.deliver, onExit: s.Disconnect}
}

func (s *Session) digest() (bool, error) {
	frame, err := wire.ReadFrame(s.reader)
	if err != nil {
		return true, err
	}

	msg := wire.Prefix(s.id) + string(frame)
	if msg == wire.QuitSentinel(s.id) {
		s.logger.Verbose("quit requested")
		return true, nil
	}
	s.metrics.MessageReceived(len(frame))

	if err := s.log.AppendString(msg + "\n"); err != nil {
		if errors.Is(err, cerrors.ErrLogClosed) {
			return true, nil
		}
		// The log already reported the failure; the session survives
		// and the message is dropped.
		s.logger.Debug("message dropped: %v", err)
	}
	return false, nil
}

func (s *Session) deliver() (bool, error) {
	raw, err := s.cursor.ReadAvailable()
	if err != nil {
		if errors.Is(err, cerrors.ErrLogClosed) {
			return true, nil
		}
		s.logger.Warn("tail: %v", err)
		s.metrics.RecordError(err.Error())
		select {
		case <-s.ctx.Done():
		case <-time.After(s.poll):
		}
		return false, nil
	}
	if len(raw) == 0 {
		s.cursor.Wait(s.ctx, s.poll)
		return false, nil
	}

	n, err := wire.WriteFrame(s.out, wire.StripDelimiters(raw))
	if err != nil {
		return true, err
	}
	s.metrics.BytesSent(n)
	return false, nil
}

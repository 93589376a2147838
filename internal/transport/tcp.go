package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	cerrors "chatd/internal/errors"
	"chatd/internal/retry"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // zero uses the net package default
}

// Dial connects to address over TCP.  Failures no retry can cure (a
// malformed address, an unknown host, a cancelled context) are marked
// with [retry.Permanent].
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		ne := cerrors.Wrap("dial", address, err)
		if ctx.Err() != nil || isUnreachableAddress(err) || !ne.Retryable {
			return nil, retry.Permanent(ne)
		}
		return nil, ne
	}
	return conn, nil
}

func isUnreachableAddress(err error) bool {
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// RetryDialer retries a failing Dial with exponential backoff.  Errors
// the backoff policy does not consider retryable end the loop early.
type RetryDialer struct {
	Dialer  Dialer
	Backoff *retry.Backoff

	// OnRetry, if set, is called before every attempt after the first.
	OnRetry func(attempt int, address string)
}

// Dial tries the wrapped dialer until it succeeds or the backoff
// budget is spent.
func (d *RetryDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	b := d.Backoff
	if b == nil {
		b = retry.DefaultBackoff()
		b.ShouldRetry = cerrors.IsRetryable
	}

	var conn net.Conn
	err := b.Do(ctx, func(attempt int) error {
		if attempt > 1 && d.OnRetry != nil {
			d.OnRetry(attempt, address)
		}
		c, err := d.Dialer.Dial(ctx, network, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the wrapped dialer.
func (d *RetryDialer) Close() error { return d.Dialer.Close() }

// Listen opens a TCP listener on address.  A bind failure is returned
// as a *errors.NetworkError.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, cerrors.Wrap("listen", address, fmt.Errorf("bind: %w", err))
	}
	return ln, nil
}

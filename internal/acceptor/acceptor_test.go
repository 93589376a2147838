package acceptor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatd/internal/chatlog"
	cerrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/internal/wire"
)

type harness struct {
	acc      *Acceptor
	addr     string
	reg      *registry.Registry
	log      *chatlog.Log
	metrics  *metrics.Collector
	cancel   context.CancelFunc
	runErr   chan error
	mu       sync.Mutex
	sessions []*session.Session
}

func newHarness(t *testing.T, tweak func(*Acceptor)) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l, err := chatlog.Open(filepath.Join(t.TempDir(), "chat.log"))
	require.NoError(t, err)

	h := &harness{
		addr:    ln.Addr().String(),
		reg:     registry.New(),
		log:     l,
		metrics: metrics.New(nil),
		runErr:  make(chan error, 1),
	}
	h.acc = &Acceptor{
		Listener:     ln,
		Registry:     h.reg,
		Log:          l,
		Metrics:      h.metrics,
		PollInterval: 10 * time.Millisecond,
		OnEstablished: func(s *session.Session) {
			h.mu.Lock()
			h.sessions = append(h.sessions, s)
			h.mu.Unlock()
		},
	}
	if tweak != nil {
		tweak(h.acc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.acc.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.runErr
		h.mu.Lock()
		for _, s := range h.sessions {
			s.Disconnect()
		}
		h.mu.Unlock()
		l.Close()
	})
	return h
}

// client is a participant's connection pair.
type client struct {
	send, recv net.Conn
	r          *bufio.Reader
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	send, err := net.DialTimeout("tcp", h.addr, 2*time.Second)
	require.NoError(t, err)
	recv, err := net.DialTimeout("tcp", h.addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		send.Close()
		recv.Close()
	})
	require.NoError(t, recv.SetReadDeadline(time.Now().Add(3*time.Second)))
	return &client{send: send, recv: recv, r: bufio.NewReader(recv)}
}

func (c *client) propose(t *testing.T, id string) string {
	t.Helper()
	_, err := io.WriteString(c.send, id+"\n")
	require.NoError(t, err)
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (c *client) readUntil(t *testing.T, want string) string {
	t.Helper()
	var got strings.Builder
	for !strings.Contains(got.String(), want) {
		chunk, err := wire.ReadFrame(c.r)
		require.NoError(t, err, "waiting for %q, have %q", want, got.String())
		got.Write(chunk)
	}
	return got.String()
}

func TestHandshake_Established(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)

	require.Equal(t, wire.StatusEstablished, c.propose(t, "alice"))
	c.readUntil(t, "alice joined chat. \n")

	require.True(t, h.reg.Exists("alice"))
	require.Eventually(t, func() bool {
		return h.metrics.Snapshot().HandshakesAccepted == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshake_DuplicateThenRetry(t *testing.T) {
	h := newHarness(t, nil)

	a := h.dial(t)
	require.Equal(t, wire.StatusEstablished, a.propose(t, "bob"))

	b := h.dial(t)
	require.Equal(t, wire.StatusIDTaken, b.propose(t, "bob"))
	require.Equal(t, wire.StatusIDTaken, b.propose(t, "bob"), "rejection may repeat without limit")
	require.Equal(t, wire.StatusEstablished, b.propose(t, "bobby"))

	_, err := io.WriteString(a.send, "hi\x03")
	require.NoError(t, err)
	a.readUntil(t, "bob: hi\n")
	b.readUntil(t, "bob: hi\n")

	require.ElementsMatch(t, []string{"bob", "bobby"}, h.reg.IDs())
	require.Equal(t, int64(2), h.metrics.Rejected())
}

func TestHandshake_SkipsEmptyLines(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)

	_, err := io.WriteString(c.send, "\n\n")
	require.NoError(t, err)
	require.Equal(t, wire.StatusEstablished, c.propose(t, "carol"))
}

func TestHandshake_Abort(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)

	_, err := io.WriteString(c.send, "dan$exit\n")
	require.NoError(t, err)

	_, err = c.r.ReadByte()
	require.ErrorIs(t, err, io.EOF, "server closes the pair on abort")
	require.False(t, h.reg.Exists("dan$exit"))
	require.Eventually(t, func() bool {
		return h.metrics.Snapshot().HandshakesAborted == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshake_PipelinedFirstMessage(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)

	// Identity and first message in one write.
	_, err := io.WriteString(c.send, "erin\nfirst!\x03")
	require.NoError(t, err)

	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, wire.StatusEstablished, line)
	c.readUntil(t, "erin: first!\n")
}

func TestHandshake_Timeout(t *testing.T) {
	h := newHarness(t, func(a *Acceptor) { a.HandshakeTimeout = 50 * time.Millisecond })
	c := h.dial(t)

	_, err := c.r.ReadByte()
	require.ErrorIs(t, err, io.EOF, "silent pair is dropped once the timeout expires")
}

func TestHandshake_ConcurrentSameID(t *testing.T) {
	h := newHarness(t, nil)

	const n = 4
	clients := make([]*client, n)
	for i := range clients {
		clients[i] = h.dial(t)
	}

	results := make(chan string, n)
	for _, c := range clients {
		go func(c *client) {
			if _, err := io.WriteString(c.send, "zed\n"); err != nil {
				results <- err.Error()
				return
			}
			line, err := c.r.ReadString('\n')
			if err != nil {
				results <- err.Error()
				return
			}
			results <- line
		}(c)
	}

	established := 0
	for i := 0; i < n; i++ {
		if <-results == wire.StatusEstablished {
			established++
		}
	}
	require.Equal(t, 1, established)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t) // pair stuck in the handshake

	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(t, err)
		h.runErr <- err // let Cleanup drain it
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := c.r.ReadByte()
	require.Error(t, err, "in-flight handshake connections are closed on shutdown")
}

// ── pairing with a scripted listener ─────────────────────────────────

type hostConn struct {
	net.Conn
	remote net.Addr
}

func (c hostConn) RemoteAddr() net.Addr { return c.remote }

type scriptedListener struct {
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newScripted() *scriptedListener {
	return &scriptedListener{conns: make(chan net.Conn, 8), closed: make(chan struct{})}
}

// Accept hands out queued connections before reporting closure.
func (l *scriptedListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	default:
	}
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4zero, Port: 4000} }

func (l *scriptedListener) push(ip string, port int) net.Conn {
	server, client := net.Pipe()
	l.conns <- hostConn{Conn: server, remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: port}}
	return client
}

// failingListener fails every Accept until it is closed.
type failingListener struct {
	*scriptedListener
	calls atomic.Int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
		return nil, syscall.EMFILE
	}
}

func TestRun_PausesAfterAcceptFailure(t *testing.T) {
	ln := &failingListener{scriptedListener: newScripted()}
	a := &Acceptor{Listener: ln, Registry: registry.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*acceptRetryDelay)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.GreaterOrEqual(t, ln.calls.Load(), int32(2), "the acceptor keeps trying")
	require.LessOrEqual(t, ln.calls.Load(), int32(15))
}

func TestAcceptPair_HostMismatch(t *testing.T) {
	ln := newScripted()
	a := &Acceptor{Listener: ln, Registry: registry.New(), Metrics: metrics.New(nil)}

	c1 := ln.push("10.0.0.1", 5000)
	c2 := ln.push("10.0.0.2", 5001)

	_, _, err := a.acceptPair()
	require.ErrorIs(t, err, cerrors.ErrPairMismatch)
	require.Equal(t, int64(1), a.Metrics.Snapshot().PairFailures)

	// Both halves were closed.
	_, err = c1.Read(make([]byte, 1))
	require.Error(t, err)
	_, err = c2.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestAcceptPair_SameHost(t *testing.T) {
	ln := newScripted()
	a := &Acceptor{Listener: ln, Registry: registry.New()}

	ln.push("10.0.0.1", 5000)
	ln.push("10.0.0.1", 5001)

	in, out, err := a.acceptPair()
	require.NoError(t, err)
	require.Equal(t, 5000, in.RemoteAddr().(*net.TCPAddr).Port, "first accepted conn is the sending side")
	require.Equal(t, 5001, out.RemoteAddr().(*net.TCPAddr).Port)
}

func TestAcceptPair_ListenerClosed(t *testing.T) {
	ln := newScripted()
	a := &Acceptor{Listener: ln, Registry: registry.New()}

	c1 := ln.push("10.0.0.1", 5000)
	ln.Close()

	_, _, err := a.acceptPair()
	require.ErrorIs(t, err, net.ErrClosed)
	_, err = c1.Read(make([]byte, 1))
	require.Error(t, err, "the lone first connection is closed")
}

func TestAcceptPair_PairTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := &Acceptor{Listener: ln, Registry: registry.New(), PairTimeout: 50 * time.Millisecond}

	lone, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer lone.Close()

	_, _, err = a.acceptPair()
	require.ErrorIs(t, err, cerrors.ErrTimeout)
}

func TestRun_MismatchDoesNotStopAcceptor(t *testing.T) {
	ln := newScripted()
	reg := registry.New()
	l, err := chatlog.Open(filepath.Join(t.TempDir(), "chat.log"))
	require.NoError(t, err)
	defer l.Close()

	var mu sync.Mutex
	var started []*session.Session
	a := &Acceptor{
		Listener: ln,
		Registry: reg,
		Log:      l,
		OnEstablished: func(s *session.Session) {
			mu.Lock()
			started = append(started, s)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ln.push("10.0.0.1", 1)
	ln.push("10.0.0.9", 2)

	send := ln.push("10.0.0.3", 3)
	recv := ln.push("10.0.0.3", 4)
	go io.Copy(io.Discard, recv) //nolint:errcheck

	_, err = fmt.Fprint(send, "frank\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Exists("frank") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	for _, s := range started {
		s.Disconnect()
	}
	mu.Unlock()
}

func TestState_String(t *testing.T) {
	require.Equal(t, "awaiting-pair", AwaitingPair.String())
	require.Equal(t, "awaiting-identity", AwaitingIdentity.String())
	require.Equal(t, "established", Established.String())
	require.Equal(t, "rejected", Rejected.String())
	require.Equal(t, "unknown", State(42).String())
}

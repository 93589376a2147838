package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cerrors "chatd/internal/errors"
	"chatd/internal/transport"
	"chatd/internal/wire"
	"chatd/util"
)

// quitWait bounds how long the client waits for the server to close
// the receiving connection after sending the quit frame.
const quitWait = 2 * time.Second

// JoinMode is the reference chat client.  It opens the sending and
// receiving connections in that order, negotiates an identity, then
// relays stdin lines as frames and prints whatever the server sends.
type JoinMode struct {
	Dialer  transport.Dialer
	Address string
	ID      string // proposed first; "" prompts on stdin
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *JoinMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *JoinMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run joins the chat and returns when the user quits, stdin ends, the
// server goes away or ctx is cancelled.
func (m *JoinMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := m.Logger
	if log == nil {
		log = util.NewLogger(0)
	}

	send, err := m.Dialer.Dial(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	recv, err := m.Dialer.Dial(ctx, "tcp", m.Address)
	if err != nil {
		send.Close()
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	defer util.CloseAll(send, recv) //nolint:errcheck
	log.Verbose("connected to %s", recv.RemoteAddr())

	// Cancellation unblocks every read below.
	stop := context.AfterFunc(ctx, func() { util.CloseAll(send, recv) }) //nolint:errcheck
	defer stop()

	lines := readLines(ctx, m.stdin())
	out := m.stdout()
	reader := bufio.NewReader(recv)

	id, err := m.negotiate(send, reader, lines, out)
	if err != nil {
		if ctx.Err() != nil || cerrors.Is(err, cerrors.ErrHandshakeAborted) {
			return nil
		}
		return err
	}
	log.Verbose("joined as %q", id)

	received := make(chan error, 1)
	go func() { received <- m.print(reader, out) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-received:
			if util.IsClosed(err) {
				fmt.Fprintln(out, "Disconnected from server.")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		case line, ok := <-lines:
			if !ok {
				line = wire.QuitCommand
			}
			if _, err := wire.WriteFrame(send, []byte(line)); err != nil {
				return fmt.Errorf("send: %w", cerrors.Wrap("write", m.Address, err))
			}
			if line == wire.QuitCommand {
				return m.awaitClose(received)
			}
		}
	}
}

// negotiate proposes identities until the server accepts one.
func (m *JoinMode) negotiate(send io.Writer, reader *bufio.Reader, lines <-chan string, out io.Writer) (string, error) {
	id := m.ID
	for {
		if id == "" {
			fmt.Fprint(out, "Enter ID: ")
			line, ok := <-lines
			if !ok {
				return "", cerrors.ErrHandshakeAborted
			}
			id = strings.TrimSpace(line)
			if id == "" {
				continue
			}
		}

		if _, err := io.WriteString(send, id+"\n"); err != nil {
			return "", cerrors.Wrap("write", m.Address, err)
		}
		if wire.IsAbort(id) {
			return "", cerrors.ErrHandshakeAborted
		}

		status, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("handshake: %w", cerrors.Wrap("read", m.Address, err))
		}
		fmt.Fprint(out, status)
		switch status {
		case wire.StatusEstablished:
			return id, nil
		case wire.StatusIDTaken:
			id = ""
		default:
			return "", fmt.Errorf("handshake: unexpected reply %q", status)
		}
	}
}

// print copies received chunks to out until the connection fails.
func (m *JoinMode) print(reader *bufio.Reader, out io.Writer) error {
	for {
		chunk, err := wire.ReadFrame(reader)
		if len(chunk) > 0 {
			out.Write(chunk) //nolint:errcheck
		}
		if err != nil {
			return err
		}
	}
}

// awaitClose lets the server's leave notice arrive before returning.
func (m *JoinMode) awaitClose(received <-chan error) error {
	select {
	case <-received:
	case <-time.After(quitWait):
	}
	return nil
}

// readLines feeds stdin lines into a channel that is closed at EOF.
// The reader cannot be interrupted, so the goroutine is abandoned on
// cancellation.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

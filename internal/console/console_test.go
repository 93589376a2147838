package console

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatd/internal/chatlog"
	cerrors "chatd/internal/errors"
)

func openLog(t *testing.T) *chatlog.Log {
	t.Helper()
	l, err := chatlog.Open(filepath.Join(t.TempDir(), "chat.log"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func contents(t *testing.T, l *chatlog.Log) string {
	t.Helper()
	raw, err := l.OpenCursor().ReadAvailable()
	require.NoError(t, err)
	return string(raw)
}

func TestRun_BroadcastsLines(t *testing.T) {
	l := openLog(t)
	var out bytes.Buffer
	c := &Console{In: strings.NewReader("maintenance at noon\r\n\nbe nice\n"), Out: &out, Log: l}

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t,
		"Server Message: maintenance at noon\n\x03Server Message: be nice\n\x03",
		contents(t, l))
	require.Empty(t, out.String(), "no prompt without a terminal")
}

func TestRun_ExitShutsDown(t *testing.T) {
	l := openLog(t)
	c := &Console{In: strings.NewReader("bye all\n$exit\nnever sent\n"), Out: io.Discard, Log: l}

	err := c.Run(context.Background())
	require.ErrorIs(t, err, cerrors.ErrShutdown)
	require.Equal(t, "Server Message: bye all\n\x03", contents(t, l))
}

func TestRun_ExitMustBeWholeLine(t *testing.T) {
	l := openLog(t)
	c := &Console{In: strings.NewReader("type $exit to leave\n"), Out: io.Discard, Log: l}

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, "Server Message: type $exit to leave\n\x03", contents(t, l))
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := openLog(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Console{In: pr, Out: io.Discard, Log: l}).Run(ctx) }()

	_, err := io.WriteString(pw, "hello\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Size() > 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ClosedLogKeepsReading(t *testing.T) {
	l := openLog(t)
	require.NoError(t, l.Close())

	c := &Console{In: strings.NewReader("lost\n$exit\n"), Out: io.Discard, Log: l}
	require.ErrorIs(t, c.Run(context.Background()), cerrors.ErrShutdown)
}

// Package console reads operator input on the server's terminal and
// broadcasts it to every participant through the chat log.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"chatd/internal/chatlog"
	cerrors "chatd/internal/errors"
	"chatd/internal/wire"
	"chatd/util"
)

// Prompt is printed before every line when In is a terminal.
const Prompt = "> "

// Console turns operator lines into server messages.
type Console struct {
	In     io.Reader // default os.Stdin
	Out    io.Writer // default os.Stdout; only the prompt is written
	Log    *chatlog.Log
	Logger *util.Logger
}

// Run reads lines until ctx is cancelled or In is exhausted, both of
// which return nil.  A line reading "$exit" returns ErrShutdown.
func (c *Console) Run(ctx context.Context) error {
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	logger := c.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	interactive := isTerminal(in)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The scanner cannot be interrupted, so it runs on its own and
	// is abandoned on cancellation.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(out, Prompt)
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						logger.Warn("console input: %v", err)
					}
				default:
				}
				logger.Verbose("console input closed")
				return nil
			}
			line = strings.TrimRight(line, "\r")
			if line == wire.QuitCommand {
				logger.Info("shutdown requested from console")
				return cerrors.ErrShutdown
			}
			if line == "" {
				continue
			}
			if err := c.Log.AppendString(wire.ServerMessage(line)); err != nil {
				logger.Error("server message: %v", err)
			}
		}
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

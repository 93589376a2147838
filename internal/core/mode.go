// Package core is the orchestration layer.  It composes the chat
// log, registry, acceptor, reaper and console into a running server,
// and the transport into the reference join client.
//
// Architecture layers (bottom → top):
//
//	wire/chatlog  →  session/registry  →  acceptor/reaper/console  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between
// the two modes.
package core

import "context"

// Mode represents a complete operational mode of chatd (serve or
// join).  Each mode owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

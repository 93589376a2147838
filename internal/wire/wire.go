// Package wire holds the byte-level conventions shared by the server
// and the join client: the ETX frame delimiter, the handshake status
// lines and the text of the notices written into the chat log.
package wire

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// ETX terminates every chat frame on the wire and every entry in the
// chat log.  It never appears inside a payload.
const ETX byte = 0x03

// QuitCommand aborts a handshake when it appears anywhere in the
// identity line, and ends a session when sent as a whole chat frame.
const QuitCommand = "$exit"

// Handshake status lines, written on the outbound connection.
const (
	StatusEstablished = "Server: Connection established! \n"
	StatusIDTaken     = "Server: ID already exists. \n"
)

// Prefix returns the text every message from id is prefixed with.
func Prefix(id string) string { return id + ": " }

// QuitSentinel is the prefixed message that ends id's session.
func QuitSentinel(id string) string { return Prefix(id) + QuitCommand }

// JoinNotice is logged when a session for id is established.
func JoinNotice(id string) string { return id + " joined chat. \n" }

// LeaveNotice is logged exactly once when id's session is torn down.
func LeaveNotice(id string) string { return id + " left chat. \n" }

// ServerMessage formats an operator line for the log.
func ServerMessage(text string) string { return "Server Message: " + text + "\n" }

// IsAbort reports whether an identity line asks to abandon the
// handshake.
func IsAbort(identity string) bool { return strings.Contains(identity, QuitCommand) }

// ReadFrame reads bytes up to the next ETX and returns them without
// the delimiter.  At end of stream the bytes read so far are returned
// together with the read error.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	frame, err := r.ReadBytes(ETX)
	if err != nil {
		return frame, err
	}
	return frame[:len(frame)-1], nil
}

// WriteFrame writes payload followed by ETX in a single Write call so
// the frame is never split by a concurrent writer on the same conn.
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, ETX)
	return w.Write(buf)
}

// ReadLine reads one '\n'-terminated line and returns it without the
// line ending.  A trailing '\r' is kept: identities are compared
// byte-for-byte.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return line, err
	}
	return line[:len(line)-1], nil
}

// StripDelimiters removes stored ETX bytes from a batch of log entries
// so the batch can travel as one wire frame.
func StripDelimiters(raw []byte) []byte {
	if bytes.IndexByte(raw, ETX) < 0 {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b != ETX {
			out = append(out, b)
		}
	}
	return out
}

package errors

import (
	"fmt"
	"io"
	"net"
	"os"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "chat.example.com:4000", Err: io.EOF, Retryable: true},
			want: "dial chat.example.com:4000: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "listen", Addr: ":4000", Err: fmt.Errorf("bind failed")},
			want: "listen :4000: bind failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Op: "accept", Addr: "x", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestLogError(t *testing.T) {
	err := WrapLog("append", "/tmp/chat.log", os.ErrPermission)
	want := "chat log append /tmp/chat.log: permission denied"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Is(err, os.ErrPermission) {
		t.Error("should unwrap to os.ErrPermission")
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "id",
				Message: "required in join mode",
			},
			want: "config: --id: required in join mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := Wrap("dial", "10.0.0.1:4000", inner)

	if err.Op != "dial" || err.Addr != "10.0.0.1:4000" {
		t.Errorf("wrong fields: Op=%q Addr=%q", err.Op, err.Addr)
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: false}, false},
		{"plain error", fmt.Errorf("boom"), false},
		{"dial op error", &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("pair: %w", ErrTimeout)) {
		t.Error("wrapped ErrTimeout should be a timeout")
	}
	if !IsTimeout(os.ErrDeadlineExceeded) {
		t.Error("os.ErrDeadlineExceeded should be a timeout")
	}
	if IsTimeout(io.EOF) {
		t.Error("io.EOF is not a timeout")
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrLogClosed, ErrEmptyFrame, ErrPairMismatch,
		ErrHandshakeAborted, ErrIDTaken, ErrShutdown, ErrTimeout,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}

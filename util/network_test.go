package util

import (
	"net"
	"testing"
)

func TestFormatAddr(t *testing.T) {
	if got := FormatAddr("1.2.3.4", 22); got != "1.2.3.4:22" {
		t.Errorf("got %q, want %q", got, "1.2.3.4:22")
	}
	if got := FormatAddr("::1", 443); got != "[::1]:443" {
		t.Errorf("got %q, want %q", got, "[::1]:443")
	}
}

func TestSameHost(t *testing.T) {
	tcp := func(ip string, port int) net.Addr {
		return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
	}
	tests := []struct {
		name string
		a, b net.Addr
		want bool
	}{
		{"same ip different ports", tcp("10.0.0.1", 5000), tcp("10.0.0.1", 5001), true},
		{"different ip", tcp("10.0.0.1", 5000), tcp("10.0.0.2", 5000), false},
		{"v6 loopback", tcp("::1", 1), tcp("::1", 2), true},
		{"nil", nil, tcp("10.0.0.1", 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameHost(tt.a, tt.b); got != tt.want {
				t.Errorf("SameHost(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}

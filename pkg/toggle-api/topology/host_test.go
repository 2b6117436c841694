//go:build !no_ci
// +build !no_ci

package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterfaceSubnets(t *testing.T) {
	addrs := []string{
		"127.0.0.1/8",
		"10.0.0.5/24",
		"192.168.11.100/24",
		"192.168.12.100/24",
		"192.168.13.1/24",   // modem side, not ours
		"192.168.1x.100/24", // garbage
		"192.168.14.100",
	}
	got := parseInterfaceSubnets(addrs, "192.168", 100)
	assert.Equal(t, map[int]bool{11: true, 12: true, 14: true}, got)
}

func TestParseListeningPorts(t *testing.T) {
	addrs := []string{
		"0.0.0.0:10011",
		"[::]:10012",
		"*:10013",
		"127.0.0.53%lo:53",
		"Local", // netstat header remains
		"0.0.0.0:*",
	}
	got := parseListeningPorts(addrs)
	assert.Equal(t, map[int]bool{10011: true, 10012: true, 10013: true, 53: true}, got)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "inactive", firstLine("inactive\n"))
	assert.Equal(t, "active", firstLine("  active\nextra\n"))
	assert.Equal(t, "", firstLine("\n"))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()
	s.SetInterface(11, true)
	s.SetInterface(12, false)
	s.SetPort(10011, true)

	subnets, err := s.ActiveInterfaceSubnets(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{11: true}, subnets)

	ok, err := s.IsPortListening(ctx, 10011)
	require.NoError(t, err)
	assert.True(t, ok)

	state, err := s.ServiceStatus(ctx, "dongle-socks5-11")
	require.NoError(t, err)
	assert.Equal(t, "inactive", state)

	require.NoError(t, s.RestartService(ctx, "dongle-socks5-11"))
	state, err = s.ServiceStatus(ctx, "dongle-socks5-11")
	require.NoError(t, err)
	assert.Equal(t, ServiceActive, state)
	assert.Equal(t, []string{"dongle-socks5-11"}, s.Restarts())

	s.RestartErr = errors.New("boom")
	require.Error(t, s.RestartService(ctx, "dongle-socks5-12"))
}

//go:build !no_ci
// +build !no_ci

package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu   sync.Mutex
	down map[int]bool
}

func (c *fakeChecker) ExternalIP(_ context.Context, port int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[port] {
		return "", errors.New("socks connect failed")
	}
	return "198.51.100.1", nil
}

func (c *fakeChecker) set(port int, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[port] = down
}

type fakeRecoverer struct {
	mu      sync.Mutex
	calls   []int
	success bool
}

func (r *fakeRecoverer) Recover(_ context.Context, subnet int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, subnet)
	return Result{Subnet: subnet, Success: r.success}
}

func (r *fakeRecoverer) Calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls...)
}

type watchdogFixture struct {
	w         *Watchdog
	checker   *fakeChecker
	recoverer *fakeRecoverer
	busy      map[int]bool
	now       time.Time
}

func newWatchdogFixture(t *testing.T) *watchdogFixture {
	conf := testConfig(t, `{"expected_count": 3, "socks5_ports": {"11": 10011, "12": 10012, "13": 10013}}`)
	f := &watchdogFixture{
		checker:   &fakeChecker{down: make(map[int]bool)},
		recoverer: &fakeRecoverer{},
		busy:      make(map[int]bool),
		now:       time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	f.w = NewWatchdog(conf, f.checker, f.recoverer, func(subnet int) bool { return f.busy[subnet] }, logging.MustGetLogger("watchdog_test"))
	f.w.now = func() time.Time { return f.now }
	return f
}

func TestWatchdogThreshold(t *testing.T) {
	f := newWatchdogFixture(t)
	f.recoverer.success = true
	f.checker.set(10012, true)

	assert.Empty(t, f.w.Round(context.Background()), "one failure is not enough")
	assert.Equal(t, []int{12}, f.w.Round(context.Background()))

	snap := f.w.Snapshot()
	require.Len(t, snap.Subnets, 3)
	h := snap.Subnets[1]
	assert.Equal(t, 12, h.Subnet)
	assert.Equal(t, 0, h.FailCount, "a successful recovery resets the counter")
	assert.True(t, h.LastRecoveryOK)
	require.NotNil(t, h.LastRecovery)
	assert.True(t, snap.Subnets[0].Healthy)
	assert.Equal(t, "198.51.100.1", snap.Subnets[0].LastIP)
	assert.Equal(t, 2, snap.Rounds)
}

func TestWatchdogCooldown(t *testing.T) {
	f := newWatchdogFixture(t)
	f.checker.set(10011, true)

	f.w.Round(context.Background())
	assert.Equal(t, []int{11}, f.w.Round(context.Background()))

	f.now = f.now.Add(time.Minute)
	assert.Empty(t, f.w.Round(context.Background()), "failed recovery cools down")

	f.now = f.now.Add(3 * time.Minute)
	assert.Equal(t, []int{11}, f.w.Round(context.Background()))
	assert.Equal(t, []int{11, 11}, f.recoverer.Calls())
}

func TestWatchdogSkipsBusyAndCaps(t *testing.T) {
	f := newWatchdogFixture(t)
	for _, port := range []int{10011, 10012, 10013} {
		f.checker.set(port, true)
	}
	f.busy[11] = true

	f.w.Round(context.Background())
	assert.Equal(t, []int{12, 13}, f.w.Round(context.Background()))

	f.w.conf.Watchdog.MaxConcurrent = 1
	delete(f.busy, 11)
	f.now = f.now.Add(time.Minute)
	assert.Equal(t, []int{11}, f.w.Round(context.Background()))
}

func TestWatchdogMissingConfig(t *testing.T) {
	f := newWatchdogFixture(t)
	f.w.conf.DongleConfigPath = "/nonexistent/dongle_config.json"

	assert.Empty(t, f.w.Round(context.Background()))
	assert.Empty(t, f.w.Snapshot().Subnets)
}

func TestWatchdogDisabled(t *testing.T) {
	f := newWatchdogFixture(t)
	require.False(t, f.w.Enabled())

	done := make(chan struct{})
	go func() {
		f.w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled watchdog did not return")
	}
}

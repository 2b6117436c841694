//go:build !no_ci
// +build !no_ci

package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
	"github.com/skycoin/dongle-services/pkg/toggle-api/topology"
)

func testConfig(t *testing.T, dongleConfig string) *config.Config {
	conf := config.Default()
	conf.DongleConfigPath = filepath.Join(t.TempDir(), "dongle_config.json")
	require.NoError(t, os.WriteFile(conf.DongleConfigPath, []byte(dongleConfig), 0o600))
	return conf
}

func newTestOperator(t *testing.T) (*Operator, *topology.Static, store.History) {
	conf := testConfig(t, `{"expected_count": 2, "socks5_ports": {"11": 10011, "12": 20012}}`)
	topo := topology.NewStatic()
	history := store.NewMemoryHistory()
	op := NewOperator(conf, topo, topo, history, logging.MustGetLogger("recovery_test"))
	op.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return op, topo, history
}

func TestRecoverSuccess(t *testing.T) {
	op, topo, history := newTestOperator(t)
	topo.SetService("dongle-socks5-12", "failed")
	topo.OnRestart = func(s *topology.Static, name string) {
		s.SetService(name, topology.ServiceActive)
		s.SetPort(20012, true)
	}

	res := op.Recover(context.Background(), 12)
	assert.True(t, res.Success)
	assert.Equal(t, "dongle-socks5-12", res.Service)
	assert.Equal(t, 20012, res.Port, "the mapped port is checked")
	assert.Equal(t, "failed", res.PreviousState)
	assert.Equal(t, topology.ServiceActive, res.NewState)
	assert.True(t, res.PortListening)
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"dongle-socks5-12"}, topo.Restarts())

	events, err := history.Latest(12, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, dongle.EventRecovery, events[0].Kind)
	assert.True(t, events[0].Success)
}

func TestRecoverPartialFailure(t *testing.T) {
	t.Run("active but not listening", func(t *testing.T) {
		op, _, _ := newTestOperator(t)

		res := op.Recover(context.Background(), 11)
		assert.False(t, res.Success)
		assert.Equal(t, "inactive", res.PreviousState)
		assert.Equal(t, topology.ServiceActive, res.NewState)
		assert.False(t, res.PortListening)
		assert.Contains(t, res.Message, "not listening")
	})

	t.Run("listening but not active", func(t *testing.T) {
		op, topo, _ := newTestOperator(t)
		topo.SetPort(10011, true)
		topo.OnRestart = func(s *topology.Static, name string) {
			s.SetService(name, "activating")
		}

		res := op.Recover(context.Background(), 11)
		assert.False(t, res.Success)
		assert.Equal(t, "activating", res.NewState)
		assert.True(t, res.PortListening)
		assert.Contains(t, res.Message, "activating")
	})

	t.Run("restart fails", func(t *testing.T) {
		op, topo, history := newTestOperator(t)
		topo.RestartErr = errors.New("Job for dongle-socks5-11.service failed")

		res := op.Recover(context.Background(), 11)
		assert.False(t, res.Success)
		assert.Equal(t, "inactive", res.NewState)
		assert.Contains(t, res.Error, "failed")

		events, err := history.Latest(11, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Success)
	})
}

func TestRecoverInterrupted(t *testing.T) {
	op, _, _ := newTestOperator(t)
	op.sleep = sleepCtx
	op.conf.Recovery.SettleDelay = config.Duration(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := op.Recover(ctx, 11)
	assert.False(t, res.Success)
	assert.Equal(t, StateUnknown, res.NewState)
	assert.Equal(t, "recovery interrupted", res.Message)
}

//go:build !no_ci
// +build !no_ci

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/dongle-services/internal/dongle"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	require.NoError(t, conf.Validate())
	assert.Equal(t, 10011, conf.Port(11))
	assert.Equal(t, "dongle-socks5-11", conf.ServiceName(11))
}

func TestReadConfig(t *testing.T) {
	path := writeFile(t, "toggle-api.json", `{
		"addr": ":9000",
		"toggle": {"script": "/opt/toggle.py", "timeout": "45s", "max_concurrent": 3},
		"watchdog": {"interval": "3m"}
	}`)

	conf, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", conf.Addr)
	assert.Equal(t, "/opt/toggle.py", conf.Toggle.Script)
	assert.Equal(t, 45*time.Second, conf.Toggle.Timeout.D())
	assert.Equal(t, 3, conf.Toggle.MaxConcurrent)
	assert.Equal(t, 3*time.Minute, conf.Watchdog.Interval.D())
	// untouched sections keep their defaults
	assert.Equal(t, 2, conf.Watchdog.FailThreshold)
	assert.Equal(t, FileStore, conf.Store.Type)
}

func TestReadConfigInvalid(t *testing.T) {
	t.Run("bad store type", func(t *testing.T) {
		path := writeFile(t, "c.json", `{"store": {"type": "etcd"}}`)
		_, err := ReadConfig(path)
		require.Error(t, err)
	})

	t.Run("redis without url", func(t *testing.T) {
		path := writeFile(t, "c.json", `{"store": {"type": "redis", "path": ""}}`)
		_, err := ReadConfig(path)
		require.Error(t, err)
	})

	t.Run("inverted subnet range", func(t *testing.T) {
		path := writeFile(t, "c.json", `{"subnets": {"min": 30, "max": 11}}`)
		_, err := ReadConfig(path)
		require.Error(t, err)
	})
}

func TestLoadDongleConfig(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := LoadDongleConfig(filepath.Join(t.TempDir(), "none.json"), dongle.DefaultRange)
		require.ErrorIs(t, err, ErrConfigMissing)
	})

	t.Run("not json", func(t *testing.T) {
		path := writeFile(t, "d.json", `{"socks5_ports": `)
		_, err := LoadDongleConfig(path, dongle.DefaultRange)
		require.ErrorIs(t, err, ErrConfigMalformed)
	})

	t.Run("no ports", func(t *testing.T) {
		path := writeFile(t, "d.json", `{"expected_count": 3}`)
		_, err := LoadDongleConfig(path, dongle.DefaultRange)
		require.ErrorIs(t, err, ErrConfigMalformed)
	})

	t.Run("subnet out of range", func(t *testing.T) {
		path := writeFile(t, "d.json", `{"socks5_ports": {"42": 10042}}`)
		_, err := LoadDongleConfig(path, dongle.DefaultRange)
		require.ErrorIs(t, err, ErrConfigMalformed)
	})

	t.Run("duplicate port", func(t *testing.T) {
		path := writeFile(t, "d.json", `{"socks5_ports": {"11": 10011, "12": 10011}}`)
		_, err := LoadDongleConfig(path, dongle.DefaultRange)
		require.ErrorIs(t, err, ErrConfigMalformed)
	})

	t.Run("sorted by port", func(t *testing.T) {
		path := writeFile(t, "d.json", `{"expected_count": 3, "socks5_ports": {"13": 10013, "11": 10011, "12": 10012}}`)
		conf, err := LoadDongleConfig(path, dongle.DefaultRange)
		require.NoError(t, err)

		mappings, err := conf.Mappings(dongle.DefaultRange)
		require.NoError(t, err)
		require.Len(t, mappings, 3)
		assert.Equal(t, []Mapping{{11, 10011}, {12, 10012}, {13, 10013}}, mappings)

		port, ok := conf.PortFor(12)
		assert.True(t, ok)
		assert.Equal(t, 10012, port)
	})
}

func TestPortOf(t *testing.T) {
	conf := Default()
	conf.DongleConfigPath = filepath.Join(t.TempDir(), "none.json")
	assert.Equal(t, 10016, conf.PortOf(16), "falls back to base_port+subnet")

	conf.DongleConfigPath = writeFile(t, "d.json", `{"socks5_ports": {"16": 20016}}`)
	assert.Equal(t, 20016, conf.PortOf(16))
	assert.Equal(t, 10017, conf.PortOf(17))
}

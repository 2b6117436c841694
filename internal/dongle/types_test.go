//go:build !no_ci
// +build !no_ci

package dongle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 400, time.Local)

	first := Next(now, nil)
	assert.Equal(t, "2026-03-01 12:00:00", first.String())

	second := Next(now.Add(200*time.Millisecond), &first)
	assert.True(t, second.After(first.Time))
	assert.Equal(t, "2026-03-01 12:00:01", second.String())

	later := Next(now.Add(time.Minute), &second)
	assert.Equal(t, "2026-03-01 12:01:00", later.String())
}

func TestSubnetStateJSON(t *testing.T) {
	t.Run("absent fields are null", func(t *testing.T) {
		raw, err := json.Marshal(SubnetState{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"external_ip":null,"last_toggle":null,"traffic":{"upload":0,"download":0},"signal":null}`, string(raw))
	})

	t.Run("legacy traffic_mb", func(t *testing.T) {
		var st SubnetState
		require.NoError(t, json.Unmarshal([]byte(`{"external_ip":"1.2.3.4","traffic_mb":{"upload":5,"download":7}}`), &st))
		assert.Equal(t, "1.2.3.4", st.IP())
		assert.Equal(t, Traffic{Upload: 5, Download: 7}, st.Traffic)
	})

	t.Run("last toggle round trip", func(t *testing.T) {
		var st SubnetState
		require.NoError(t, json.Unmarshal([]byte(`{"last_toggle":"2026-03-01 12:00:05","signal":null}`), &st))
		require.NotNil(t, st.LastToggle)
		assert.Equal(t, "2026-03-01 12:00:05", st.LastToggle.String())
		assert.Nil(t, st.Signal)

		raw, err := json.Marshal(st)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"last_toggle":"2026-03-01 12:00:05"`)
	})
}

func TestTrafficMax(t *testing.T) {
	a := Traffic{Upload: 10, Download: 3}
	assert.Equal(t, Traffic{Upload: 10, Download: 8}, a.Max(Traffic{Upload: 2, Download: 8}))
	assert.True(t, Traffic{}.IsZero())
}

func TestRange(t *testing.T) {
	assert.True(t, DefaultRange.Contains(11))
	assert.True(t, DefaultRange.Contains(30))
	assert.False(t, DefaultRange.Contains(10))
	assert.False(t, DefaultRange.Contains(31))
}

func TestRangeParse(t *testing.T) {
	n, err := DefaultRange.Parse("15")
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	n, err = DefaultRange.Parse("011")
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	for _, s := range []string{"", "+15", "-15", " 15", "15 ", "1e1", "0x0f", "10", "31", "0015"} {
		_, err := DefaultRange.Parse(s)
		assert.Error(t, err, s)
	}
}

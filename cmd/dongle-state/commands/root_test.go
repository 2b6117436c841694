//go:build !no_ci
// +build !no_ci

package commands

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/api"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
)

func TestParseSubnets(t *testing.T) {
	subnets, err := parseSubnets(dongle.DefaultRange, []string{"30", "11", "15"})
	require.NoError(t, err)
	assert.Equal(t, []int{11, 15, 30}, subnets)
	assert.True(t, contains(subnets, 15))
	assert.False(t, contains(subnets, 16))

	for _, arg := range []string{"10", "31", "x", "+15"} {
		_, err := parseSubnets(dongle.DefaultRange, []string{arg})
		assert.Error(t, err, arg)
	}
}

func TestResetTraffic(t *testing.T) {
	statePath = filepath.Join(t.TempDir(), "proxy_state.json")
	defer func() { statePath = "" }()

	s, err := openStore(config.Default())
	require.NoError(t, err)
	for _, subnet := range []int{11, 12} {
		_, err := s.Update(subnet, func(st *dongle.SubnetState) {
			st.Traffic = dongle.Traffic{Upload: 10, Download: 20}
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	require.NoError(t, resetTrafficCmd.RunE(resetTrafficCmd, []string{"12"}))

	s, err = openStore(config.Default())
	require.NoError(t, err)
	defer s.Close() //nolint
	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, dongle.Traffic{Upload: 10, Download: 20}, all[11].Traffic)
	assert.True(t, all[12].Traffic.IsZero())
}

func TestOpenStoreRejectsMemory(t *testing.T) {
	conf := config.Default()
	conf.Store.Type = config.MemoryStore
	_, err := openStore(conf)
	assert.Error(t, err)
}

func TestLocalAPI(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", localAPI(":8080"))
	assert.Equal(t, "http://10.0.0.2:9000", localAPI("10.0.0.2:9000"))
}

func TestRemoteHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/12" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid subnet (11-30)","code":"INVALID_SUBNET"}`)) //nolint
			return
		}
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		raw, err := json.Marshal(api.HistoryResponse{Subnet: 12, Events: []dongle.Event{
			{ID: "b", Subnet: 12, Kind: dongle.EventToggle},
			{ID: "a", Subnet: 12, Kind: dongle.EventToggle},
		}})
		require.NoError(t, err)
		_, _ = w.Write(raw) //nolint
	}))
	defer ts.Close()

	events, err := remoteHistory(context.Background(), ts.URL+"/", 12, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)

	_, err = remoteHistory(context.Background(), ts.URL, 13, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid subnet")
	var unreachable *apiUnreachableError
	assert.False(t, errors.As(err, &unreachable), "an answering server is not a reason to open the journal")
}

func TestHistoryFallsBackToJournal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	h, err := store.NewHistory(dir, nil)
	require.NoError(t, err)
	now := time.Now()
	for i, id := range []string{"first", "second"} {
		require.NoError(t, h.Append(dongle.Event{ID: id, Subnet: 11, Kind: dongle.EventToggle, Time: now.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, h.Close())

	ts := httptest.NewServer(http.NotFoundHandler())
	down := ts.URL
	ts.Close()

	_, err = remoteHistory(context.Background(), down, 11, 5)
	var unreachable *apiUnreachableError
	require.True(t, errors.As(err, &unreachable), "%v", err)

	events, err := localHistory(dir, 11, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].ID)

	_, err = localHistory("", 11, 5)
	assert.Error(t, err)
}

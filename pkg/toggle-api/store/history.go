// Package store pkg/toggle-api/store/history.go
package store

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skycoin/dongle-services/internal/dongle"
)

// MaxHistory is the largest number of events returned by Latest.
const MaxHistory = 200

// History is an append-only journal of toggle and recovery events.
type History interface {
	Append(ev dongle.Event) error
	// Latest returns up to limit events of subnet, newest first.
	Latest(subnet int, limit int) ([]dongle.Event, error)
	Close() error
}

// NewHistory opens a badger journal at path, or an in-memory one when path is empty.
func NewHistory(path string, log logrus.FieldLogger) (History, error) {
	if path == "" {
		return NewMemoryHistory(), nil
	}
	return NewBadgerHistory(path, log)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

type memHistory struct {
	mu     sync.Mutex
	events map[int][]dongle.Event
}

// NewMemoryHistory keeps the last MaxHistory events of each subnet in memory.
func NewMemoryHistory() History {
	return &memHistory{events: make(map[int][]dongle.Event)}
}

func (h *memHistory) Append(ev dongle.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := append(h.events[ev.Subnet], ev)
	if len(events) > MaxHistory {
		events = events[len(events)-MaxHistory:]
	}
	h.events[ev.Subnet] = events
	return nil
}

func (h *memHistory) Latest(subnet int, limit int) ([]dongle.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	limit = clampLimit(limit)
	events := h.events[subnet]
	out := make([]dongle.Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (h *memHistory) Close() error {
	return nil
}

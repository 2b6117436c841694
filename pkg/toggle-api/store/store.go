// Package store pkg/toggle-api/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
)

var (
	// ErrPersist indicates that the state changed in memory but could not be written out.
	ErrPersist = errors.New("failed to persist state")
	// ErrUnknownStoreType is returned by New for an unsupported backend.
	ErrUnknownStoreType = errors.New("unknown store type")
)

// Store stores the per-subnet state.
type Store interface {
	StateStore
	Close() error
}

// StateStore holds one SubnetState per subnet.
// Every mutation is applied and persisted under one lock, so readers never
// observe a partially written state.
type StateStore interface {
	// Get returns the state of subnet and whether an entry exists.
	Get(subnet int) (dongle.SubnetState, bool, error)
	// All returns a copy of every entry.
	All() (map[int]dongle.SubnetState, error)
	// Update applies fn to the state of subnet, creating the entry if needed,
	// and persists the result. The updated state is returned even when
	// persisting fails, together with an error wrapping ErrPersist.
	Update(subnet int, fn func(st *dongle.SubnetState)) (dongle.SubnetState, error)
	// CreateIfAbsent stores st only when subnet has no entry yet.
	CreateIfAbsent(subnet int, st dongle.SubnetState) (bool, error)
	// ResetTraffic zeroes the traffic counters of the given subnets, or of all when none are given.
	ResetTraffic(subnets ...int) error
}

// New constructs a new Store of requested type.
func New(ctx context.Context, conf config.StoreConfig) (Store, error) {
	switch conf.Type {
	case config.MemoryStore:
		return NewMemoryStore(), nil
	case config.FileStore:
		return NewFileStore(conf.Path)
	case config.RedisStore:
		return NewRedisStore(ctx, conf.URL, conf.Password, conf.Key)
	default:
		return nil, ErrUnknownStoreType
	}
}

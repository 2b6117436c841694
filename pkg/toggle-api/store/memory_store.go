// Package store pkg/toggle-api/store/memory_store.go
package store

import (
	"fmt"
	"sync"

	"github.com/skycoin/dongle-services/internal/dongle"
)

// persister backs a memStore with a copy other processes may change.
type persister interface {
	// load returns the backing states and true when they changed since the
	// last load or persist, or false when the memory copy is current.
	load() (map[int]dongle.SubnetState, bool, error)
	persist(states map[int]dongle.SubnetState, changed []int) error
	close() error
}

type memStore struct {
	mu     sync.Mutex
	states map[int]dongle.SubnetState
	p      persister
}

// NewMemoryStore creates a store that keeps the state in memory only.
func NewMemoryStore() Store {
	return newMemStore(nil, nil)
}

func newMemStore(states map[int]dongle.SubnetState, p persister) *memStore {
	if states == nil {
		states = make(map[int]dongle.SubnetState)
	}
	return &memStore{states: states, p: p}
}

func (s *memStore) Get(subnet int) (dongle.SubnetState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(); err != nil {
		return dongle.SubnetState{}, false, err
	}
	st, ok := s.states[subnet]
	return st.Clone(), ok, nil
}

func (s *memStore) All() (map[int]dongle.SubnetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	out := make(map[int]dongle.SubnetState, len(s.states))
	for subnet, st := range s.states {
		out[subnet] = st.Clone()
	}
	return out, nil
}

func (s *memStore) Update(subnet int, fn func(st *dongle.SubnetState)) (dongle.SubnetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadForWriteLocked()
	st := s.states[subnet].Clone()
	fn(&st)
	s.states[subnet] = st

	return st.Clone(), s.persistLocked(subnet)
}

func (s *memStore) CreateIfAbsent(subnet int, st dongle.SubnetState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadForWriteLocked()
	if _, ok := s.states[subnet]; ok {
		return false, nil
	}
	s.states[subnet] = st.Clone()
	return true, s.persistLocked(subnet)
}

func (s *memStore) ResetTraffic(subnets ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadForWriteLocked()
	if len(subnets) == 0 {
		for subnet := range s.states {
			subnets = append(subnets, subnet)
		}
	}
	changed := make([]int, 0, len(subnets))
	for _, subnet := range subnets {
		st, ok := s.states[subnet]
		if !ok {
			continue
		}
		st.Traffic = dongle.Traffic{}
		s.states[subnet] = st
		changed = append(changed, subnet)
	}
	return s.persistLocked(changed...)
}

// reloadLocked replaces the memory copy when the backing copy was changed
// by someone else, e.g. a traffic reset run while the API is serving.
func (s *memStore) reloadLocked() error {
	if s.p == nil {
		return nil
	}
	states, changed, err := s.p.load()
	if err != nil {
		return fmt.Errorf("reload state: %w", err)
	}
	if changed {
		if states == nil {
			states = make(map[int]dongle.SubnetState)
		}
		s.states = states
	}
	return nil
}

// reloadForWriteLocked is reloadLocked for mutations: an unreadable backing
// copy is overwritten from memory by the following persist.
func (s *memStore) reloadForWriteLocked() {
	_ = s.reloadLocked()
}

func (s *memStore) persistLocked(changed ...int) error {
	if s.p == nil || len(changed) == 0 {
		return nil
	}
	if err := s.p.persist(s.states, changed); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *memStore) Close() error {
	if s.p == nil {
		return nil
	}
	return s.p.close()
}

package topology

import (
	"context"
	"sync"
)

// Static is an in-memory Reader and ServiceManager. It backs the --testing
// mode of the API and the package tests of its consumers.
type Static struct {
	mu         sync.Mutex
	interfaces map[int]bool
	ports      map[int]bool
	services   map[string]string
	restarts   []string

	// RestartErr is returned by RestartService when set.
	RestartErr error
	// OnRestart runs after a successful restart; by default the unit becomes active.
	OnRestart func(s *Static, name string)
}

// NewStatic returns an empty Static topology.
func NewStatic() *Static {
	return &Static{
		interfaces: make(map[int]bool),
		ports:      make(map[int]bool),
		services:   make(map[string]string),
	}
}

// SetInterface marks the interface of subnet up or down.
func (s *Static) SetInterface(subnet int, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfaces[subnet] = up
}

// SetPort marks port as listening or closed.
func (s *Static) SetPort(port int, listening bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[port] = listening
}

// SetService sets the reported state of a unit.
func (s *Static) SetService(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = state
}

// Restarts returns the units restarted so far.
func (s *Static) Restarts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.restarts...)
}

// ActiveInterfaceSubnets implements Reader.
func (s *Static) ActiveInterfaceSubnets(ctx context.Context) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTrue(s.interfaces), ctx.Err()
}

// ListeningPorts implements Reader.
func (s *Static) ListeningPorts(ctx context.Context) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTrue(s.ports), ctx.Err()
}

// IsPortListening implements Reader.
func (s *Static) IsPortListening(ctx context.Context, port int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ports[port], ctx.Err()
}

// ServiceStatus implements ServiceManager.
func (s *Static) ServiceStatus(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.services[name]
	if !ok {
		state = "inactive"
	}
	return state, ctx.Err()
}

// RestartService implements ServiceManager.
func (s *Static) RestartService(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.restarts = append(s.restarts, name)
	err := s.RestartErr
	hook := s.OnRestart
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(s, name)
		return nil
	}
	s.SetService(name, ServiceActive)
	return nil
}

func copyTrue(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}

// Package topology pkg/toggle-api/topology/topology.go
package topology

import (
	"context"
	"errors"
)

// ServiceActive is the systemd state of a running unit.
const ServiceActive = "active"

// ErrRestartFailed is returned when the service manager could not restart a unit.
var ErrRestartFailed = errors.New("service restart failed")

// Reader queries the live network state of the host. It is never cached:
// interfaces and sockets change without the API noticing (unplugged dongles, crashed proxies).
type Reader interface {
	// ActiveInterfaceSubnets returns the subnets that currently have an interface address.
	ActiveInterfaceSubnets(ctx context.Context) (map[int]bool, error)
	// ListeningPorts returns the TCP ports in LISTEN state.
	ListeningPorts(ctx context.Context) (map[int]bool, error)
	// IsPortListening reports whether port is in LISTEN state.
	IsPortListening(ctx context.Context, port int) (bool, error)
}

// ServiceManager queries and restarts the per-subnet proxy services.
type ServiceManager interface {
	ServiceStatus(ctx context.Context, name string) (string, error)
	RestartService(ctx context.Context, name string) error
}

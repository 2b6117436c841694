// Package topology pkg/toggle-api/topology/host.go
package topology

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitfield/script"
)

// Host reads the topology of the local machine with ip, ss and systemctl.
type Host struct {
	// NetworkPrefix and HostOctet locate a dongle interface: <prefix>.<subnet>.<octet>.
	NetworkPrefix  string
	HostOctet      int
	UseSudo        bool
	RestartTimeout time.Duration
}

// NewHost returns a Host reader for the given addressing scheme.
func NewHost(networkPrefix string, hostOctet int, useSudo bool, restartTimeout time.Duration) *Host {
	return &Host{
		NetworkPrefix:  networkPrefix,
		HostOctet:      hostOctet,
		UseSudo:        useSudo,
		RestartTimeout: restartTimeout,
	}
}

// ActiveInterfaceSubnets implements Reader.
func (h *Host) ActiveInterfaceSubnets(ctx context.Context) (map[int]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addrs, err := script.Exec("ip -4 -o addr show").Match(" inet ").Column(4).Slice()
	if err != nil {
		return nil, fmt.Errorf("ip addr: %w", err)
	}
	return parseInterfaceSubnets(addrs, h.NetworkPrefix, h.HostOctet), nil
}

// ListeningPorts implements Reader. netstat is used when ss is not installed.
func (h *Host) ListeningPorts(ctx context.Context) (map[int]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addrs, err := script.Exec("ss -H -tln").Column(4).Slice()
	if err != nil {
		addrs, err = script.Exec("netstat -tln").Match("LISTEN").Column(4).Slice()
		if err != nil {
			return nil, fmt.Errorf("listening ports: %w", err)
		}
	}
	return parseListeningPorts(addrs), nil
}

// IsPortListening implements Reader.
func (h *Host) IsPortListening(ctx context.Context, port int) (bool, error) {
	ports, err := h.ListeningPorts(ctx)
	if err != nil {
		return false, err
	}
	return ports[port], nil
}

// ServiceStatus implements ServiceManager. systemctl exits non-zero for
// inactive units, so the printed state wins over the exit status.
func (h *Host) ServiceStatus(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := script.Exec("systemctl is-active " + name).String()
	if state := firstLine(out); state != "" {
		return state, nil
	}
	if err != nil {
		return "", fmt.Errorf("systemctl is-active %s: %w", name, err)
	}
	return "unknown", nil
}

// RestartService implements ServiceManager.
func (h *Host) RestartService(ctx context.Context, name string) error {
	secs := int(h.RestartTimeout.Seconds())
	if secs < 1 {
		secs = 10
	}
	cmd := fmt.Sprintf("timeout %d systemctl restart %s", secs, name)
	if h.UseSudo {
		cmd = "sudo " + cmd
	}

	done := make(chan error, 1)
	go func() {
		_, err := script.Exec(cmd).String()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRestartFailed, name, err)
		}
		return nil
	}
}

// parseInterfaceSubnets extracts <subnet> from addresses like 192.168.<subnet>.100/24.
func parseInterfaceSubnets(addrs []string, prefix string, hostOctet int) map[int]bool {
	out := make(map[int]bool)
	for _, addr := range addrs {
		ip, _, _ := strings.Cut(strings.TrimSpace(addr), "/")
		rest, ok := strings.CutPrefix(ip, prefix+".")
		if !ok {
			continue
		}
		subnetPart, hostPart, ok := strings.Cut(rest, ".")
		if !ok || hostPart != strconv.Itoa(hostOctet) {
			continue
		}
		subnet, err := strconv.Atoi(subnetPart)
		if err != nil {
			continue
		}
		out[subnet] = true
	}
	return out
}

// parseListeningPorts extracts ports from local addresses like 0.0.0.0:10011, [::]:10011 or *:10011.
func parseListeningPorts(addrs []string) map[int]bool {
	out := make(map[int]bool)
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		i := strings.LastIndex(addr, ":")
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(addr[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			continue
		}
		out[port] = true
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

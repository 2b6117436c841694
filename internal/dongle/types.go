// Package dongle internal/dongle/types.go
package dongle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ToggleKind is the client visible state of a subnet's toggle.
type ToggleKind string

// Toggle kinds reported by the progress tracker.
const (
	ToggleIdle       ToggleKind = "idle"
	ToggleInProgress ToggleKind = "in_progress"
	ToggleRecent     ToggleKind = "recent"
	ToggleTimeout    ToggleKind = "timeout"
)

// Range is the inclusive range of valid subnet ids.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultRange is the range observed in the deployment (192.168.11.x - 192.168.30.x).
var DefaultRange = Range{Min: 11, Max: 30}

// Contains reports whether subnet is inside the range.
func (r Range) Contains(subnet int) bool {
	return subnet >= r.Min && subnet <= r.Max
}

// Parse reads a subnet id written as plain decimal digits and checks it
// against the range. Signs, spaces and other number forms are rejected.
func (r Range) Parse(s string) (int, error) {
	if s == "" || len(s) > 3 {
		return 0, fmt.Errorf("invalid subnet %q (%d-%d)", s, r.Min, r.Max)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid subnet %q (%d-%d)", s, r.Min, r.Max)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !r.Contains(n) {
		return 0, fmt.Errorf("invalid subnet %q (%d-%d)", s, r.Min, r.Max)
	}
	return n, nil
}

// StateKey returns the key a subnet is persisted under.
func StateKey(subnet int) string {
	return strconv.Itoa(subnet)
}

// Traffic counters of a dongle, in bytes.
type Traffic struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}

// IsZero reports whether no counter is set.
func (t Traffic) IsZero() bool {
	return t.Upload == 0 && t.Download == 0
}

// Max returns the per-field maximum of t and o.
func (t Traffic) Max(o Traffic) Traffic {
	if o.Upload > t.Upload {
		t.Upload = o.Upload
	}
	if o.Download > t.Download {
		t.Download = o.Download
	}
	return t
}

// SubnetState is the persisted record of one subnet.
type SubnetState struct {
	ExternalIP *string         `json:"external_ip"`
	LastToggle *Timestamp      `json:"last_toggle"`
	Traffic    Traffic         `json:"traffic"`
	Signal     json.RawMessage `json:"signal"`
}

// UnmarshalJSON also accepts the legacy "traffic_mb" field.
func (s *SubnetState) UnmarshalJSON(data []byte) error {
	type alias SubnetState
	aux := struct {
		*alias
		Traffic   *Traffic `json:"traffic"`
		TrafficMB *Traffic `json:"traffic_mb"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.Traffic != nil:
		s.Traffic = *aux.Traffic
	case aux.TrafficMB != nil:
		s.Traffic = *aux.TrafficMB
	}
	if IsNullJSON(s.Signal) {
		s.Signal = nil
	}
	return nil
}

// IP returns the external ip or an empty string when absent.
func (s SubnetState) IP() string {
	if s.ExternalIP == nil {
		return ""
	}
	return *s.ExternalIP
}

// Clone returns a deep copy of s.
func (s SubnetState) Clone() SubnetState {
	out := SubnetState{Traffic: s.Traffic}
	if s.ExternalIP != nil {
		ip := *s.ExternalIP
		out.ExternalIP = &ip
	}
	if s.LastToggle != nil {
		ts := *s.LastToggle
		out.LastToggle = &ts
	}
	if len(s.Signal) > 0 {
		out.Signal = append(json.RawMessage(nil), s.Signal...)
	}
	return out
}

// ToggleStatus is the toggle part of a proxy status.
type ToggleStatus struct {
	Status         ToggleKind `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
}

// ProxyStatusView is the per-subnet status returned by /status.
type ProxyStatusView struct {
	Subnet        int             `json:"subnet"`
	Port          int             `json:"port"`
	ProxyURL      string          `json:"proxy_url"`
	Connected     bool            `json:"connected"`
	PortListening bool            `json:"port_listening"`
	ExternalIP    *string         `json:"external_ip"`
	LastToggle    *Timestamp      `json:"last_toggle"`
	Traffic       Traffic         `json:"traffic"`
	Signal        json.RawMessage `json:"signal"`
	ToggleStatus  ToggleStatus    `json:"toggle_status"`
}

// DongleStatus aggregates the dongle counts.
type DongleStatus struct {
	Expected     int  `json:"expected"`
	Configured   int  `json:"configured"`
	Active       int  `json:"active"`
	AllConnected bool `json:"all_connected"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Status           string            `json:"status"`
	APIVersion       string            `json:"api_version"`
	Timestamp        string            `json:"timestamp"`
	AvailableProxies []ProxyStatusView `json:"available_proxies"`
	DongleStatus     DongleStatus      `json:"dongle_status"`
}

// ToggleResult is what the external toggle executable prints on stdout.
type ToggleResult struct {
	Success bool            `json:"success"`
	IP      *string         `json:"ip"`
	Traffic *Traffic        `json:"traffic,omitempty"`
	Signal  json.RawMessage `json:"signal,omitempty"`
	Step    int             `json:"step,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EventKind distinguishes history events.
type EventKind string

// History event kinds.
const (
	EventToggle    EventKind = "toggle"
	EventRecovery  EventKind = "recovery"
	EventBootstrap EventKind = "bootstrap"
)

// Event is one entry of the history journal.
type Event struct {
	ID         string        `json:"id"`
	Subnet     int           `json:"subnet"`
	Kind       EventKind     `json:"kind"`
	Time       time.Time     `json:"time"`
	Success    bool          `json:"success"`
	ExternalIP string        `json:"external_ip,omitempty"`
	Code       string        `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsNullJSON reports whether raw is empty or the JSON literal null.
func IsNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

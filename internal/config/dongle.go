package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/skycoin/dongle-services/internal/dongle"
)

var (
	// ErrConfigMissing indicates that the dongle mapping config does not exist.
	ErrConfigMissing = errors.New("dongle config not found")
	// ErrConfigMalformed indicates that the dongle mapping config cannot be used.
	ErrConfigMalformed = errors.New("dongle config malformed")
)

// DongleConfigHint tells an operator how to fix a config error.
const DongleConfigHint = `regenerate the dongle config (init_dongle_config.sh) so that it holds "expected_count" and a "socks5_ports" object mapping each subnet to its SOCKS5 port`

// DongleConfig is the subnet to SOCKS5 port mapping written by the dongle setup.
type DongleConfig struct {
	ExpectedCount int            `json:"expected_count" validate:"gte=0"`
	Socks5Ports   map[string]int `json:"socks5_ports" validate:"required,min=1,dive,keys,numeric,endkeys,gte=1,lte=65535"`
}

// Mapping is one configured subnet.
type Mapping struct {
	Subnet int
	Port   int
}

// LoadDongleConfig reads and validates the mapping at path.
// Every subnet must be inside r and every port must be unique.
func LoadDongleConfig(path string, r dongle.Range) (*DongleConfig, error) {
	raw, err := os.ReadFile(path) //nolint
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	var conf DongleConfig
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if err := validator.New().Struct(&conf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if _, err := conf.Mappings(r); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Mappings returns the configured subnets sorted by port.
func (c *DongleConfig) Mappings(r dongle.Range) ([]Mapping, error) {
	out := make([]Mapping, 0, len(c.Socks5Ports))
	seen := make(map[int]int, len(c.Socks5Ports))
	for key, port := range c.Socks5Ports {
		subnet, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: subnet key %q", ErrConfigMalformed, key)
		}
		if !r.Contains(subnet) {
			return nil, fmt.Errorf("%w: subnet %d outside %d-%d", ErrConfigMalformed, subnet, r.Min, r.Max)
		}
		if other, ok := seen[port]; ok {
			return nil, fmt.Errorf("%w: port %d used by subnets %d and %d", ErrConfigMalformed, port, other, subnet)
		}
		seen[port] = subnet
		out = append(out, Mapping{Subnet: subnet, Port: port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

// PortFor returns the configured SOCKS5 port of subnet.
func (c *DongleConfig) PortFor(subnet int) (int, bool) {
	port, ok := c.Socks5Ports[dongle.StateKey(subnet)]
	return port, ok
}

// PortOf returns the SOCKS5 port of subnet: the mapped port when the dongle
// config names one, base_port+subnet otherwise.
func (c *Config) PortOf(subnet int) int {
	if dc, err := LoadDongleConfig(c.DongleConfigPath, c.Subnets); err == nil {
		if port, ok := dc.PortFor(subnet); ok {
			return port
		}
	}
	return c.Port(subnet)
}

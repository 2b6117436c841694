// Package config internal/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/skycoin/dongle-services/internal/dongle"
)

// StoreType selects the state store backend.
type StoreType string

// Store backends.
const (
	FileStore   StoreType = "file"
	MemoryStore StoreType = "memory"
	RedisStore  StoreType = "redis"
)

// Duration is a time.Duration read from JSON as "30s" or as nanoseconds.
type Duration time.Duration

// D returns the value as time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration %s: %w", data, err)
	}
	*d = Duration(n)
	return nil
}

// StoreConfig configures the state store.
type StoreConfig struct {
	Type     StoreType `json:"type" validate:"oneof=file memory redis"`
	Path     string    `json:"path,omitempty" validate:"required_if=Type file"`
	URL      string    `json:"url,omitempty" validate:"required_if=Type redis"`
	Password string    `json:"password,omitempty"`
	Key      string    `json:"key,omitempty"`
}

// ToggleConfig configures the external toggle executable.
type ToggleConfig struct {
	Interpreter   string   `json:"interpreter,omitempty"`
	Script        string   `json:"script" validate:"required"`
	Timeout       Duration `json:"timeout"`
	MaxConcurrent int      `json:"max_concurrent" validate:"gte=0"`
}

// RecoveryConfig configures the SOCKS5 service recovery.
type RecoveryConfig struct {
	ServiceFormat  string   `json:"service_format" validate:"required"`
	RestartTimeout Duration `json:"restart_timeout"`
	SettleDelay    Duration `json:"settle_delay"`
	UseSudo        bool     `json:"use_sudo"`
}

// ProbeConfig configures external ip lookups.
type ProbeConfig struct {
	IPEchoURL     string   `json:"ip_echo_url" validate:"required,url"`
	PublicHost    string   `json:"public_host,omitempty"`
	Timeout       Duration `json:"timeout"`
	RetryInterval Duration `json:"retry_interval"`
}

// WatchdogConfig configures the automatic recovery loop. A zero interval disables it.
type WatchdogConfig struct {
	Interval      Duration `json:"interval"`
	FailThreshold int      `json:"fail_threshold" validate:"gte=1"`
	Cooldown      Duration `json:"cooldown"`
	MaxConcurrent int      `json:"max_concurrent" validate:"gte=1"`
	CheckTimeout  Duration `json:"check_timeout"`
}

// Config is the configuration of the toggle API.
type Config struct {
	Addr             string         `json:"addr" validate:"required"`
	MetricsAddr      string         `json:"metrics_addr,omitempty"`
	LogLevel         string         `json:"log_level,omitempty"`
	Store            StoreConfig    `json:"store"`
	HistoryPath      string         `json:"history_path,omitempty"`
	DongleConfigPath string         `json:"dongle_config_path" validate:"required"`
	Subnets          dongle.Range   `json:"subnets"`
	BasePort         int            `json:"base_port" validate:"gte=1,lte=65535"`
	NetworkPrefix    string         `json:"network_prefix" validate:"required"`
	HostOctet        int            `json:"host_octet" validate:"gte=1,lte=254"`
	Toggle           ToggleConfig   `json:"toggle"`
	Recovery         RecoveryConfig `json:"recovery"`
	Probe            ProbeConfig    `json:"probe"`
	Watchdog         WatchdogConfig `json:"watchdog"`
	CallbackURL      string         `json:"callback_url,omitempty" validate:"omitempty,url"`
	RateLimit        int            `json:"rate_limit" validate:"gte=0"`
}

// Default returns the configuration of the observed deployment.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Store: StoreConfig{
			Type: FileStore,
			Path: "/home/proxy/proxy_state.json",
			Key:  "dongle-services:state",
		},
		DongleConfigPath: "/home/proxy/config/dongle_config.json",
		Subnets:          dongle.DefaultRange,
		BasePort:         10000,
		NetworkPrefix:    "192.168",
		HostOctet:        100,
		Toggle: ToggleConfig{
			Interpreter: "python3",
			Script:      "/home/proxy/scripts/smart_toggle.py",
			Timeout:     Duration(60 * time.Second),
		},
		Recovery: RecoveryConfig{
			ServiceFormat:  "dongle-socks5-%d",
			RestartTimeout: Duration(10 * time.Second),
			SettleDelay:    Duration(3 * time.Second),
			UseSudo:        true,
		},
		Probe: ProbeConfig{
			IPEchoURL:     "https://api.ipify.org",
			Timeout:       Duration(2 * time.Second),
			RetryInterval: Duration(time.Minute),
		},
		Watchdog: WatchdogConfig{
			FailThreshold: 2,
			Cooldown:      Duration(3 * time.Minute),
			MaxConcurrent: 2,
			CheckTimeout:  Duration(5 * time.Second),
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Subnets.Min < 1 || c.Subnets.Max > 254 || c.Subnets.Min > c.Subnets.Max {
		return fmt.Errorf("invalid config: subnet range %d-%d", c.Subnets.Min, c.Subnets.Max)
	}
	if c.BasePort+c.Subnets.Max > 65535 {
		return errors.New("invalid config: base_port leaves no room for the subnet range")
	}
	return nil
}

// Port returns the default proxy port of a subnet.
func (c *Config) Port(subnet int) int {
	return c.BasePort + subnet
}

// ServiceName returns the SOCKS5 unit name of a subnet.
func (c *Config) ServiceName(subnet int) string {
	return fmt.Sprintf(c.Recovery.ServiceFormat, subnet)
}

// ReadConfig reads the config file over the defaults without opening or writing to it
func ReadConfig(confPath string) (*Config, error) {
	f, err := os.ReadFile(confPath) //nolint
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	raw, err := io.ReadAll(bytes.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	conf := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(conf); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

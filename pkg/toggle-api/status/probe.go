// Package status pkg/toggle-api/status/probe.go
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitfield/script"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// UnknownHost is reported when the egress address of the server cannot be found.
const UnknownHost = "0.0.0.0"

// ErrNoIP is returned when a probe did not yield an IPv4 address.
var ErrNoIP = errors.New("no ip in probe response")

// Prober learns the external ip of a dongle through its SOCKS5 port.
type Prober interface {
	ExternalIP(ctx context.Context, port int) (string, error)
}

// SOCKS5Prober fetches an ip echo service through a local SOCKS5 proxy.
type SOCKS5Prober struct {
	Host    string
	EchoURL string
	Timeout time.Duration
}

// NewSOCKS5Prober returns a prober for proxies listening on host.
func NewSOCKS5Prober(host, echoURL string, timeout time.Duration) *SOCKS5Prober {
	return &SOCKS5Prober{Host: host, EchoURL: echoURL, Timeout: timeout}
}

// ExternalIP implements Prober.
func (p *SOCKS5Prober) ExternalIP(ctx context.Context, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: p.Timeout})
	if err != nil {
		return "", fmt.Errorf("socks5 dialer %s: %w", addr, err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return "", fmt.Errorf("socks5 dialer %s does not support contexts", addr)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       cd.DialContext,
			DisableKeepAlives: true,
		},
	}
	return fetchIP(ctx, client, p.EchoURL)
}

func fetchIP(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip echo returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := firstIPv4(string(body))
	if ip == "" {
		return "", ErrNoIP
	}
	return ip, nil
}

func firstIPv4(s string) string {
	for _, f := range strings.Fields(s) {
		if ip := net.ParseIP(f); ip != nil && ip.To4() != nil {
			return ip.String()
		}
	}
	return ""
}

// Egress finds the address clients reach this server on. It is resolved
// once per process: configured host, ip echo service, default route source.
type Egress struct {
	publicHost string
	echoURL    string
	timeout    time.Duration
	routeSrc   func() (string, error)
	log        logrus.FieldLogger

	once sync.Once
	host string
}

// NewEgress returns an Egress. publicHost wins when set.
func NewEgress(publicHost, echoURL string, timeout time.Duration, log logrus.FieldLogger) *Egress {
	return &Egress{
		publicHost: publicHost,
		echoURL:    echoURL,
		timeout:    timeout,
		routeSrc:   defaultRouteSource,
		log:        log,
	}
}

// Host returns the egress host.
func (e *Egress) Host(ctx context.Context) string {
	e.once.Do(func() {
		e.host = e.detect(ctx)
	})
	return e.host
}

func (e *Egress) detect(ctx context.Context) string {
	if e.publicHost != "" {
		return e.publicHost
	}
	if e.echoURL != "" {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		ip, err := fetchIP(ctx, &http.Client{}, e.echoURL)
		if err == nil {
			return ip
		}
		e.log.WithError(err).Warn("Failed to detect the server ip through the echo service.")
	}
	if e.routeSrc != nil {
		if ip, err := e.routeSrc(); err == nil && ip != "" {
			return ip
		}
	}
	return UnknownHost
}

func defaultRouteSource() (string, error) {
	out, err := script.Exec("ip -4 route get 8.8.8.8").String()
	if err != nil {
		return "", err
	}
	return parseRouteSource(out), nil
}

// parseRouteSource returns the address after "src" in `ip route get` output.
func parseRouteSource(out string) string {
	fields := strings.Fields(out)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "src" {
			return firstIPv4(fields[i+1])
		}
	}
	return ""
}

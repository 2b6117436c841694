// Package notify pkg/toggle-api/notify/callback.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/pkg/toggle-api/toggle"
)

// Timeout bounds one callback request.
const Timeout = 5 * time.Second

// Payload is the body posted for every toggle.
type Payload struct {
	toggle.Outcome
	ServerIP string `json:"server_ip"`
	Port     int    `json:"port"`
}

// Callback posts toggle outcomes to a configured URL. Delivery is best effort.
type Callback struct {
	url      *url.URL
	client   *http.Client
	serverIP func(ctx context.Context) string
	port     func(subnet int) int
	log      *logging.Logger
	wg       sync.WaitGroup
}

// NewCallback returns a Callback posting to rawURL.
func NewCallback(rawURL string, serverIP func(ctx context.Context) string, port func(subnet int) int, log *logging.Logger) (*Callback, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("callback url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("callback url: unsupported scheme %q", u.Scheme)
	}
	return &Callback{
		url:      u,
		client:   &http.Client{Timeout: Timeout},
		serverIP: serverIP,
		port:     port,
		log:      log,
	}, nil
}

// NotifyToggle implements toggle.Notifier.
func (c *Callback) NotifyToggle(o toggle.Outcome) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		if err := c.post(ctx, o); err != nil {
			c.log.WithError(err).WithField("subnet", o.Subnet).Debug("Toggle callback failed.")
		}
	}()
}

// Wait blocks until every pending callback finished.
func (c *Callback) Wait() {
	c.wg.Wait()
}

func (c *Callback) post(ctx context.Context, o toggle.Outcome) error {
	p := Payload{Outcome: o, Port: c.port(o.Subnet)}
	if c.serverIP != nil {
		p.ServerIP = c.serverIP(ctx)
	}
	jsonData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url.String(), bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer res.Body.Close() //nolint

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("callback returned %s", res.Status)
	}
	return nil
}

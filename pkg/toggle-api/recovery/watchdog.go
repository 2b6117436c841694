package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/internal/config"
)

// Checker probes a proxy port, returning the external ip seen through it.
type Checker interface {
	ExternalIP(ctx context.Context, port int) (string, error)
}

// Recoverer repairs the proxy of a subnet.
type Recoverer interface {
	Recover(ctx context.Context, subnet int) Result
}

// BusyFunc reports whether a subnet must be left alone, e.g. while it toggles.
type BusyFunc func(subnet int) bool

// SubnetHealth is what the watchdog knows about one proxy.
type SubnetHealth struct {
	Subnet          int        `json:"subnet"`
	Port            int        `json:"port"`
	Healthy         bool       `json:"healthy"`
	FailCount       int        `json:"fail_count"`
	LastIP          string     `json:"last_ip,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastCheck       time.Time  `json:"last_check"`
	LastRecovery    *time.Time `json:"last_recovery,omitempty"`
	LastRecoveryOK  bool       `json:"last_recovery_ok"`
	RecoveriesTotal int        `json:"recoveries_total"`
}

// Snapshot is the read-only view of the watchdog.
type Snapshot struct {
	Enabled       bool           `json:"enabled"`
	Interval      string         `json:"interval"`
	FailThreshold int            `json:"fail_threshold"`
	Rounds        int            `json:"rounds"`
	LastRound     *time.Time     `json:"last_round,omitempty"`
	Subnets       []SubnetHealth `json:"subnets"`
}

// Watchdog probes every configured proxy periodically and recovers the
// ones that failed fail_threshold consecutive checks.
type Watchdog struct {
	conf      *config.Config
	checker   Checker
	recoverer Recoverer
	busy      BusyFunc
	log       *logging.Logger
	now       func() time.Time

	mu        sync.RWMutex
	health    map[int]*SubnetHealth
	rounds    int
	lastRound time.Time
}

// NewWatchdog returns a Watchdog. busy may be nil.
func NewWatchdog(conf *config.Config, checker Checker, recoverer Recoverer, busy BusyFunc, log *logging.Logger) *Watchdog {
	return &Watchdog{
		conf:      conf,
		checker:   checker,
		recoverer: recoverer,
		busy:      busy,
		log:       log,
		now:       time.Now,
		health:    make(map[int]*SubnetHealth),
	}
}

// Enabled reports whether Run does anything.
func (w *Watchdog) Enabled() bool {
	return w.conf.Watchdog.Interval.D() > 0
}

// Run runs a round every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	w.log.Infof("Watchdog started, checking every %s.", w.conf.Watchdog.Interval.D())

	ticker := time.NewTicker(w.conf.Watchdog.Interval.D())
	defer ticker.Stop()
	for {
		w.Round(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Round checks every configured proxy once and recovers the eligible ones.
// It returns the subnets handed to the recoverer.
func (w *Watchdog) Round(ctx context.Context) []int {
	dc, err := config.LoadDongleConfig(w.conf.DongleConfigPath, w.conf.Subnets)
	if err != nil {
		w.log.WithError(err).Warn("Watchdog skipped round.")
		return nil
	}
	mappings, err := dc.Mappings(w.conf.Subnets)
	if err != nil {
		w.log.WithError(err).Warn("Watchdog skipped round.")
		return nil
	}

	type check struct {
		mapping config.Mapping
		ip      string
		err     error
	}
	checks := make([]check, len(mappings))
	wg := new(sync.WaitGroup)
	for i, m := range mappings {
		wg.Add(1)
		go func(i int, m config.Mapping) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, w.conf.Watchdog.CheckTimeout.D())
			defer cancel()
			ip, err := w.checker.ExternalIP(cctx, m.Port)
			checks[i] = check{mapping: m, ip: ip, err: err}
		}(i, m)
	}
	wg.Wait()

	now := w.now()
	var candidates []int

	w.mu.Lock()
	w.rounds++
	w.lastRound = now
	configured := make(map[int]bool, len(checks))
	for _, c := range checks {
		subnet := c.mapping.Subnet
		configured[subnet] = true
		h := w.healthLocked(subnet)
		h.Port = c.mapping.Port
		h.LastCheck = now
		if c.err == nil {
			h.Healthy = true
			h.FailCount = 0
			h.LastIP = c.ip
			h.LastError = ""
			continue
		}
		h.Healthy = false
		h.FailCount++
		h.LastError = c.err.Error()

		log := w.log.WithField("subnet", subnet).WithField("fail_count", h.FailCount)
		switch {
		case h.FailCount < w.conf.Watchdog.FailThreshold:
			log.Debug("Proxy check failed.")
		case w.busy != nil && w.busy(subnet):
			log.Info("Proxy check failed, toggle in progress.")
		case h.LastRecovery != nil && now.Sub(*h.LastRecovery) < w.conf.Watchdog.Cooldown.D():
			log.Info("Proxy check failed, recovery cooling down.")
		case len(candidates) >= w.conf.Watchdog.MaxConcurrent:
			log.Info("Proxy check failed, recovery deferred to the next round.")
		default:
			candidates = append(candidates, subnet)
		}
	}
	for subnet := range w.health {
		if !configured[subnet] {
			delete(w.health, subnet)
		}
	}
	w.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}

	results := make([]Result, len(candidates))
	for i, subnet := range candidates {
		wg.Add(1)
		go func(i, subnet int) {
			defer wg.Done()
			w.log.WithField("subnet", subnet).Warn("Proxy failed repeatedly, recovering.")
			results[i] = w.recoverer.Recover(ctx, subnet)
		}(i, subnet)
	}
	wg.Wait()

	done := w.now()
	w.mu.Lock()
	for _, res := range results {
		h := w.healthLocked(res.Subnet)
		at := done
		h.LastRecovery = &at
		h.LastRecoveryOK = res.Success
		h.RecoveriesTotal++
		if res.Success {
			h.FailCount = 0
		}
	}
	w.mu.Unlock()

	return candidates
}

// Snapshot returns the current state, sorted by subnet.
func (w *Watchdog) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Snapshot{
		Enabled:       w.Enabled(),
		Interval:      w.conf.Watchdog.Interval.D().String(),
		FailThreshold: w.conf.Watchdog.FailThreshold,
		Rounds:        w.rounds,
		Subnets:       make([]SubnetHealth, 0, len(w.health)),
	}
	if !w.lastRound.IsZero() {
		last := w.lastRound
		s.LastRound = &last
	}
	for _, h := range w.health {
		c := *h
		if h.LastRecovery != nil {
			at := *h.LastRecovery
			c.LastRecovery = &at
		}
		s.Subnets = append(s.Subnets, c)
	}
	sort.Slice(s.Subnets, func(i, j int) bool { return s.Subnets[i].Subnet < s.Subnets[j].Subnet })
	return s
}

func (w *Watchdog) healthLocked(subnet int) *SubnetHealth {
	h, ok := w.health[subnet]
	if !ok {
		h = &SubnetHealth{Subnet: subnet}
		w.health[subnet] = h
	}
	return h
}

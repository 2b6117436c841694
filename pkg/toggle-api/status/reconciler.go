package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
	"github.com/skycoin/dongle-services/pkg/toggle-api/topology"
)

// APIVersion is reported by every status response.
const APIVersion = "v1-enhanced"

// StatusReady is the status of a served status response.
const StatusReady = "ready"

// ToggleStatuser derives the toggle status of a subnet.
type ToggleStatuser interface {
	Status(subnet int, lastToggle *dongle.Timestamp) dongle.ToggleStatus
}

// Reconciler merges live topology, persisted state and toggle progress
// into the status view.
type Reconciler struct {
	conf    *config.Config
	states  store.StateStore
	topo    topology.Reader
	toggles ToggleStatuser
	prober  Prober
	egress  *Egress
	history store.History
	log     *logging.Logger
	now     func() time.Time

	probeMu   sync.Mutex
	lastProbe map[int]time.Time
}

// NewReconciler returns a Reconciler. prober and history may be nil; a nil
// prober disables the bootstrap probe.
func NewReconciler(conf *config.Config, states store.StateStore, topo topology.Reader, toggles ToggleStatuser,
	prober Prober, egress *Egress, history store.History, log *logging.Logger) *Reconciler {
	return &Reconciler{
		conf:      conf,
		states:    states,
		topo:      topo,
		toggles:   toggles,
		prober:    prober,
		egress:    egress,
		history:   history,
		log:       log,
		now:       time.Now,
		lastProbe: make(map[int]time.Time),
	}
}

// GetStatus builds the status of every configured subnet, sorted by port.
// A missing or malformed dongle config fails the whole call.
func (r *Reconciler) GetStatus(ctx context.Context) (*dongle.StatusResponse, error) {
	dc, err := config.LoadDongleConfig(r.conf.DongleConfigPath, r.conf.Subnets)
	if err != nil {
		return nil, err
	}
	mappings, err := dc.Mappings(r.conf.Subnets)
	if err != nil {
		return nil, err
	}

	ifaces, err := r.topo.ActiveInterfaceSubnets(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Failed to list active interfaces.")
		ifaces = map[int]bool{}
	}
	ports, err := r.topo.ListeningPorts(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Failed to list listening ports.")
		ports = map[int]bool{}
	}
	states, err := r.states.All()
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	r.bootstrap(ctx, mappings, ports, states)

	host := r.egress.Host(ctx)
	resp := &dongle.StatusResponse{
		Status:           StatusReady,
		APIVersion:       APIVersion,
		Timestamp:        dongle.NewTimestamp(r.now()).String(),
		AvailableProxies: make([]dongle.ProxyStatusView, 0, len(mappings)),
		DongleStatus: dongle.DongleStatus{
			Expected:   dc.ExpectedCount,
			Configured: len(mappings),
		},
	}
	for _, m := range mappings {
		st := states[m.Subnet]
		view := dongle.ProxyStatusView{
			Subnet:        m.Subnet,
			Port:          m.Port,
			ProxyURL:      fmt.Sprintf("socks5://%s:%d", host, m.Port),
			Connected:     ifaces[m.Subnet],
			PortListening: ports[m.Port],
			ExternalIP:    st.ExternalIP,
			LastToggle:    st.LastToggle,
			Traffic:       st.Traffic,
			Signal:        st.Signal,
			ToggleStatus:  r.toggles.Status(m.Subnet, st.LastToggle),
		}
		if view.Connected {
			resp.DongleStatus.Active++
		}
		resp.AvailableProxies = append(resp.AvailableProxies, view)
	}
	resp.DongleStatus.AllConnected = resp.DongleStatus.Active == resp.DongleStatus.Configured

	return resp, nil
}

// bootstrap learns the external ip of listening subnets that have never been
// seen. Probes run concurrently; a failure only delays the next attempt.
func (r *Reconciler) bootstrap(ctx context.Context, mappings []config.Mapping, ports map[int]bool, states map[int]dongle.SubnetState) {
	if r.prober == nil {
		return
	}

	var targets []config.Mapping
	r.probeMu.Lock()
	now := r.now()
	for _, m := range mappings {
		if _, ok := states[m.Subnet]; ok || !ports[m.Port] {
			continue
		}
		if last, ok := r.lastProbe[m.Subnet]; ok && now.Sub(last) < r.conf.Probe.RetryInterval.D() {
			continue
		}
		r.lastProbe[m.Subnet] = now
		targets = append(targets, m)
	}
	r.probeMu.Unlock()
	if len(targets) == 0 {
		return
	}

	type found struct {
		subnet int
		st     dongle.SubnetState
	}
	results := make(chan found, len(targets))
	var wg sync.WaitGroup
	for _, m := range targets {
		wg.Add(1)
		go func(m config.Mapping) {
			defer wg.Done()
			log := r.log.WithField("subnet", m.Subnet)
			start := time.Now()
			ip, err := r.prober.ExternalIP(ctx, m.Port)
			if err != nil {
				log.WithError(err).Debug("Bootstrap probe failed.")
				return
			}
			st := dongle.SubnetState{ExternalIP: dongle.StringPtr(ip)}
			created, err := r.states.CreateIfAbsent(m.Subnet, st)
			if err != nil {
				log.WithError(err).Warn("Failed to store bootstrap ip.")
			}
			if !created {
				return
			}
			log.WithField("ip", ip).Info("Learned external ip by bootstrap probe.")
			r.record(m.Subnet, ip, time.Since(start))
			results <- found{subnet: m.Subnet, st: st}
		}(m)
	}
	wg.Wait()
	close(results)

	for f := range results {
		states[f.subnet] = f.st
	}
}

func (r *Reconciler) record(subnet int, ip string, d time.Duration) {
	if r.history == nil {
		return
	}
	ev := dongle.Event{
		ID:         uuid.NewString(),
		Subnet:     subnet,
		Kind:       dongle.EventBootstrap,
		Time:       r.now(),
		Success:    true,
		ExternalIP: ip,
		Duration:   d,
	}
	if err := r.history.Append(ev); err != nil {
		r.log.WithError(err).Warn("Failed to record bootstrap history.")
	}
}

// Package recovery pkg/toggle-api/recovery/operator.go
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/internal/togglemetrics"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
	"github.com/skycoin/dongle-services/pkg/toggle-api/topology"
)

// StateUnknown is reported when the service manager could not be queried.
const StateUnknown = "unknown"

// Result is the outcome of one recovery, with the evidence for each half of it.
type Result struct {
	Success         bool    `json:"success"`
	Subnet          int     `json:"subnet"`
	Service         string  `json:"service"`
	Port            int     `json:"port"`
	PreviousState   string  `json:"previous_state"`
	NewState        string  `json:"new_state"`
	PortListening   bool    `json:"port_listening"`
	Message         string  `json:"message"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Operator restarts the SOCKS5 service of a subnet and verifies it came back.
type Operator struct {
	conf    *config.Config
	topo    topology.Reader
	svc     topology.ServiceManager
	history store.History
	metrics togglemetrics.Metrics
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewOperator returns an Operator. history may be nil.
func NewOperator(conf *config.Config, topo topology.Reader, svc topology.ServiceManager, history store.History, log *logging.Logger) *Operator {
	return &Operator{
		conf:    conf,
		topo:    topo,
		svc:     svc,
		history: history,
		metrics: togglemetrics.NewEmpty(),
		log:     log,
		sleep:   sleepCtx,
	}
}

// SetMetrics sets the metrics sink.
func (o *Operator) SetMetrics(m togglemetrics.Metrics) {
	o.metrics = m
}

// Recover restarts the service of subnet, waits for it to settle and checks
// that it is active and listening. It blocks for the whole sequence.
func (o *Operator) Recover(ctx context.Context, subnet int) Result {
	start := time.Now()
	res := Result{
		Subnet:  subnet,
		Service: o.conf.ServiceName(subnet),
		Port:    o.conf.PortOf(subnet),
	}
	log := o.log.WithField("subnet", subnet).WithField("service", res.Service)

	res.PreviousState = o.serviceState(ctx, res.Service)
	log.Infof("Restarting proxy service (state %s).", res.PreviousState)

	restartCtx, cancel := context.WithTimeout(ctx, o.conf.Recovery.RestartTimeout.D())
	restartErr := o.svc.RestartService(restartCtx, res.Service)
	cancel()
	if restartErr != nil {
		log.WithError(restartErr).Warn("Service restart failed.")
	}

	if err := o.sleep(ctx, o.conf.Recovery.SettleDelay.D()); err != nil {
		res.NewState = StateUnknown
		res.Error = err.Error()
		res.Message = "recovery interrupted"
		return o.finish(res, start)
	}

	res.NewState = o.serviceState(ctx, res.Service)
	listening, err := o.topo.IsPortListening(ctx, res.Port)
	if err != nil {
		log.WithError(err).Warn("Failed to check the proxy port.")
	}
	res.PortListening = listening
	res.Success = res.NewState == topology.ServiceActive && res.PortListening

	switch {
	case res.Success:
		res.Message = fmt.Sprintf("SOCKS5 proxy for subnet %d recovered", subnet)
	case res.NewState != topology.ServiceActive && !res.PortListening:
		res.Message = fmt.Sprintf("service is %s and port %d is not listening", res.NewState, res.Port)
	case res.NewState != topology.ServiceActive:
		res.Message = fmt.Sprintf("port %d is listening but service is %s", res.Port, res.NewState)
	default:
		res.Message = fmt.Sprintf("service is active but port %d is not listening", res.Port)
	}
	if restartErr != nil {
		res.Error = restartErr.Error()
	}
	return o.finish(res, start)
}

func (o *Operator) finish(res Result, start time.Time) Result {
	elapsed := time.Since(start)
	res.DurationSeconds = elapsed.Seconds()

	log := o.log.WithField("subnet", res.Subnet)
	if res.Success {
		log.Infof("Recovery succeeded in %s.", elapsed.Round(time.Millisecond))
	} else {
		log.Warnf("Recovery failed: %s.", res.Message)
	}

	o.metrics.RecordRecovery(res.Subnet, res.Success)
	if o.history != nil {
		ev := dongle.Event{
			ID:       uuid.NewString(),
			Subnet:   res.Subnet,
			Kind:     dongle.EventRecovery,
			Time:     time.Now(),
			Success:  res.Success,
			Error:    res.Error,
			Duration: elapsed,
		}
		if !res.Success && ev.Error == "" {
			ev.Error = res.Message
		}
		if err := o.history.Append(ev); err != nil {
			log.WithError(err).Warn("Failed to record recovery history.")
		}
	}
	return res
}

func (o *Operator) serviceState(ctx context.Context, name string) string {
	state, err := o.svc.ServiceStatus(ctx, name)
	if err != nil {
		o.log.WithError(err).WithField("service", name).Warn("Failed to read service state.")
		return StateUnknown
	}
	return state
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

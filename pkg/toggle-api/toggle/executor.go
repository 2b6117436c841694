package toggle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/internal/togglemetrics"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
)

// Error codes of failed toggles.
const (
	CodeOK                = "OK"
	CodeExternalTimeout   = "EXTERNAL_TIMEOUT"
	CodeExternalFailure   = "EXTERNAL_FAILURE"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeInProgress        = "TOGGLE_IN_PROGRESS"
	CodeTooManyToggles    = "TOO_MANY_TOGGLES"
)

// ErrorCode maps a toggle error to its client code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrExternalTimeout):
		return CodeExternalTimeout
	case errors.Is(err, ErrMalformedResponse):
		return CodeMalformedResponse
	default:
		return CodeExternalFailure
	}
}

// Outcome is the result of one toggle attempt as returned to the client.
type Outcome struct {
	ID              string            `json:"toggle_id"`
	Subnet          int               `json:"subnet"`
	Success         bool              `json:"success"`
	IP              *string           `json:"ip"`
	Traffic         *dongle.Traffic   `json:"traffic,omitempty"`
	Signal          json.RawMessage   `json:"signal,omitempty"`
	Step            int               `json:"step,omitempty"`
	LastToggle      *dongle.Timestamp `json:"last_toggle"`
	DurationSeconds float64           `json:"duration_seconds"`
	Error           string            `json:"error,omitempty"`
	Code            string            `json:"code,omitempty"`

	// Err is the classified failure, nil on success.
	Err error `json:"-"`
}

// Notifier is told about every toggle outcome. NotifyToggle must not block.
type Notifier interface {
	NotifyToggle(o Outcome)
}

// Executor runs toggles and folds their results into the state store.
type Executor struct {
	runner   Runner
	states   store.StateStore
	history  store.History
	metrics  togglemetrics.Metrics
	notifier Notifier
	timeout  time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// NewExecutor returns an Executor. history may be nil.
func NewExecutor(runner Runner, states store.StateStore, history store.History, timeout time.Duration, log *logging.Logger) *Executor {
	return &Executor{
		runner:  runner,
		states:  states,
		history: history,
		metrics: togglemetrics.NewEmpty(),
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// SetMetrics sets the metrics sink.
func (e *Executor) SetMetrics(m togglemetrics.Metrics) {
	e.metrics = m
}

// SetNotifier sets the result notifier.
func (e *Executor) SetNotifier(n Notifier) {
	e.notifier = n
}

// Execute toggles subnet outside of any tracker.
func (e *Executor) Execute(ctx context.Context, subnet int) Outcome {
	return e.execute(ctx, subnet, uuid.NewString())
}

func (e *Executor) execute(ctx context.Context, subnet int, id string) Outcome {
	log := e.log.WithField("subnet", subnet).WithField("toggle_id", id)
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	out, runErr := e.runner.Run(runCtx, subnet)
	if runErr == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		runErr = ErrExternalTimeout
	}
	cancel()

	res, err := parseResult(out, runErr)

	st, perr := e.states.Update(subnet, func(st *dongle.SubnetState) {
		ts := dongle.Next(e.now(), st.LastToggle)
		st.LastToggle = &ts
		if err != nil {
			st.ExternalIP = nil
			return
		}
		st.ExternalIP = dongle.StringPtr(*res.IP)
		if res.Traffic != nil && !res.Traffic.IsZero() {
			st.Traffic = st.Traffic.Max(*res.Traffic)
		}
		if !dongle.IsNullJSON(res.Signal) {
			st.Signal = append(json.RawMessage(nil), res.Signal...)
		}
	})
	if perr != nil {
		log.WithError(perr).Warn("Failed to persist toggle result.")
	}

	elapsed := time.Since(start)
	o := Outcome{
		ID:              id,
		Subnet:          subnet,
		Success:         err == nil,
		Step:            res.Step,
		LastToggle:      st.LastToggle,
		DurationSeconds: elapsed.Seconds(),
		Err:             err,
	}
	if err == nil {
		traffic := st.Traffic
		o.IP = st.ExternalIP
		o.Traffic = &traffic
		o.Signal = st.Signal
		log.WithField("ip", st.IP()).Infof("Toggle succeeded in %s.", elapsed.Round(time.Millisecond))
	} else {
		o.Error = err.Error()
		o.Code = ErrorCode(err)
		log.WithError(err).Warnf("Toggle failed in %s.", elapsed.Round(time.Millisecond))
	}

	e.metrics.RecordToggle(subnet, ErrorCode(err), elapsed)
	e.record(o)
	if e.notifier != nil {
		e.notifier.NotifyToggle(o)
	}
	return o
}

func (e *Executor) record(o Outcome) {
	if e.history == nil {
		return
	}
	ev := dongle.Event{
		ID:       o.ID,
		Subnet:   o.Subnet,
		Kind:     dongle.EventToggle,
		Time:     e.now(),
		Success:  o.Success,
		Code:     o.Code,
		Error:    o.Error,
		Duration: time.Duration(o.DurationSeconds * float64(time.Second)),
	}
	if o.IP != nil {
		ev.ExternalIP = *o.IP
	}
	if err := e.history.Append(ev); err != nil {
		e.log.WithError(err).WithField("subnet", o.Subnet).Warn("Failed to record toggle history.")
	}
}

// parseResult classifies the output of a toggle run. A run that exited with
// an error but printed a result keeps that result's details.
func parseResult(out []byte, runErr error) (dongle.ToggleResult, error) {
	if errors.Is(runErr, ErrExternalTimeout) || errors.Is(runErr, context.DeadlineExceeded) {
		return dongle.ToggleResult{}, fmt.Errorf("%w", ErrExternalTimeout)
	}

	res, decErr := decodeResult(out)
	switch {
	case runErr != nil && decErr == nil:
		res.Success = false
		if res.Error != "" {
			return res, fmt.Errorf("%w: %s", ErrExternalFailure, res.Error)
		}
		return res, asFailure(runErr)
	case runErr != nil:
		return dongle.ToggleResult{}, asFailure(runErr)
	case decErr != nil:
		return dongle.ToggleResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, decErr)
	case !res.Success:
		if res.Error != "" {
			return res, fmt.Errorf("%w: %s", ErrExternalFailure, res.Error)
		}
		return res, fmt.Errorf("%w at step %d", ErrExternalFailure, res.Step)
	case res.IP == nil || *res.IP == "":
		return res, fmt.Errorf("%w: success without ip", ErrMalformedResponse)
	}
	return res, nil
}

func asFailure(err error) error {
	if errors.Is(err, ErrExternalFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExternalFailure, err)
}

// decodeResult reads the result object. Toggle scripts may log to stdout
// before printing it, so the last line is tried when the whole output is not JSON.
func decodeResult(out []byte) (dongle.ToggleResult, error) {
	var res dongle.ToggleResult
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return res, errors.New("empty output")
	}
	err := json.Unmarshal(out, &res)
	if err == nil {
		return res, nil
	}
	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		res = dongle.ToggleResult{}
		if lerr := json.Unmarshal(bytes.TrimSpace(out[i+1:]), &res); lerr == nil {
			return res, nil
		}
	}
	return dongle.ToggleResult{}, err
}

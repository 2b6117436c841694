// Package togglemetrics internal/togglemetrics/metrics.go
package togglemetrics

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics collects toggle api metrics.
type Metrics interface {
	RecordToggle(subnet int, code string, d time.Duration)
	RecordRecovery(subnet int, success bool)
	RecordRejected(code string)
	SetActiveToggles(f func() int)
}

// NewEmpty constructs Metrics that records nothing.
func NewEmpty() Metrics {
	return empty{}
}

type empty struct{}

func (empty) RecordToggle(int, string, time.Duration) {}
func (empty) RecordRecovery(int, bool)                {}
func (empty) RecordRejected(string)                   {}
func (empty) SetActiveToggles(func() int)             {}

// VictoriaMetrics implements Metrics on top of the VictoriaMetrics default set.
type VictoriaMetrics struct {
	duration *metrics.Histogram
}

// NewVictoriaMetrics returns the VictoriaMetrics implementation of Metrics.
func NewVictoriaMetrics() *VictoriaMetrics {
	return &VictoriaMetrics{
		duration: metrics.GetOrCreateHistogram("dongle_toggle_duration_seconds"),
	}
}

// RecordToggle implements Metrics.
func (m *VictoriaMetrics) RecordToggle(subnet int, code string, d time.Duration) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dongle_toggles_total{subnet="%d",code="%s"}`, subnet, code)).Inc()
	m.duration.Update(d.Seconds())
}

// RecordRecovery implements Metrics.
func (m *VictoriaMetrics) RecordRecovery(subnet int, success bool) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dongle_recoveries_total{subnet="%d",success="%t"}`, subnet, success)).Inc()
}

// RecordRejected implements Metrics.
func (m *VictoriaMetrics) RecordRejected(code string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dongle_toggles_rejected_total{code="%s"}`, code)).Inc()
}

// SetActiveToggles implements Metrics.
func (m *VictoriaMetrics) SetActiveToggles(f func() int) {
	metrics.GetOrCreateGauge("dongle_toggles_active", func() float64 {
		return float64(f())
	})
}

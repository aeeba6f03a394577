// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes pipeline progress as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cloudshift/internal/drift"
	"cloudshift/internal/migration"
	"cloudshift/internal/wave"
)

const namespace = "cloudshift"

// Metrics holds all pipeline metrics. It implements migration.Recorder,
// wave.Recorder and runner.CommandObserver.
type Metrics struct {
	PhaseDuration   *prometheus.HistogramVec
	PhaseAttempts   *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	UnitOutcomes    *prometheus.CounterVec
	UnitsInFlight   *prometheus.GaugeVec
	Waves           *prometheus.CounterVec
	WaveDuration    prometheus.Histogram
	CommandDuration *prometheus.HistogramVec
	DriftChecks     *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase attempts",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"phase", "success"},
		),

		PhaseAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_attempts_total",
				Help:      "Total number of phase attempts by error kind",
			},
			[]string{"phase", "error_kind"},
		),

		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_retries_total",
				Help:      "Total number of scheduled phase retries",
			},
			[]string{"phase"},
		),

		UnitOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_outcomes_total",
				Help:      "Units that reached a terminal phase",
			},
			[]string{"phase", "os_family"},
		),

		UnitsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "units_in_phase",
				Help:      "Units currently in each non-terminal phase",
			},
			[]string{"phase"},
		),

		Waves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waves_total",
				Help:      "Finished waves by status",
			},
			[]string{"status"},
		),

		WaveDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wave_duration_seconds",
				Help:      "Duration of waves",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),

		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of external tool invocations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool", "outcome"},
		),

		DriftChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_checks_total",
				Help:      "Resources reconciled, by result",
			},
			[]string{"kind", "result"},
		),
	}
}

// PhaseChanged implements migration.Recorder.
func (m *Metrics) PhaseChanged(_ context.Context, u *migration.Unit, from, to migration.Phase) {
	if from != migration.PhasePending && !from.Terminal() && from != "" {
		m.UnitsInFlight.WithLabelValues(string(from)).Dec()
	}
	if to.Terminal() {
		m.UnitOutcomes.WithLabelValues(string(to), string(u.OSFamily)).Inc()
		return
	}
	m.UnitsInFlight.WithLabelValues(string(to)).Inc()
}

// PhaseFinished implements migration.Recorder.
func (m *Metrics) PhaseFinished(_ context.Context, _ *migration.Unit, r migration.PhaseResult) {
	if r.Terminal {
		return
	}
	success := "false"
	if r.Success {
		success = "true"
	}
	m.PhaseDuration.WithLabelValues(string(r.Phase), success).Observe(r.Duration.Seconds())
	m.PhaseAttempts.WithLabelValues(string(r.Phase), string(r.ErrorKind)).Inc()
}

// RetryScheduled implements migration.Recorder.
func (m *Metrics) RetryScheduled(_ context.Context, _ *migration.Unit, phase migration.Phase, _ int, _ time.Duration) {
	m.Retries.WithLabelValues(string(phase)).Inc()
}

// WaveStarted implements wave.Recorder.
func (m *Metrics) WaveStarted(context.Context, *wave.Wave) {}

// WaveFinished implements wave.Recorder.
func (m *Metrics) WaveFinished(_ context.Context, _ *wave.Wave, r wave.Result) {
	m.Waves.WithLabelValues(string(r.Status)).Inc()
	m.WaveDuration.Observe(r.Duration.Seconds())
}

// ObserveCommand implements runner.CommandObserver.
func (m *Metrics) ObserveCommand(tool, outcome string, d time.Duration) {
	m.CommandDuration.WithLabelValues(tool, outcome).Observe(d.Seconds())
}

// DriftChecked counts one reconciled resource.
func (m *Metrics) DriftChecked(_ context.Context, r drift.Report) {
	result := "clean"
	switch {
	case r.Missing:
		result = "missing"
	case r.HasDrift:
		result = "drift"
	}
	m.DriftChecks.WithLabelValues(string(r.Kind), result).Inc()
}

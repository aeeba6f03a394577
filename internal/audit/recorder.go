// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cloudshift/internal/drift"
	"cloudshift/internal/migration"
	"cloudshift/internal/wave"
)

// Event types written by Recorder.
const (
	EventPhaseChanged   = "phase_changed"
	EventRetryScheduled = "retry_scheduled"
	EventWaveStarted    = "wave_started"
	EventWaveFinished   = "wave_finished"
	EventRolledBack     = "rolled_back"
)

// Recorder writes orchestrator and scheduler events of one execution to an
// Auditor. Write failures are logged and never interrupt the pipeline.
type Recorder struct {
	auditor     Auditor
	executionID int64
	logger      *zap.Logger
}

// NewRecorder returns a Recorder for executionID.
func NewRecorder(a Auditor, executionID int64, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{auditor: a, executionID: executionID, logger: logger}
}

// PhaseChanged implements migration.Recorder.
func (r *Recorder) PhaseChanged(ctx context.Context, u *migration.Unit, from, to migration.Phase) {
	rec := UnitRecord{
		UnitID:       u.ID,
		OSFamily:     string(u.OSFamily),
		SizeClass:    u.SizeClass,
		SourceEnv:    u.SourceEnvironment,
		Phase:        string(to),
		TotalRetries: u.TotalRetries(),
	}
	if err := u.LastError(); err != nil {
		rec.LastError = err.Error()
	}
	r.check("unit", r.auditor.RecordUnit(ctx, r.executionID, rec))

	eventType := EventPhaseChanged
	if to == migration.PhaseRolledBack {
		eventType = EventRolledBack
	}
	r.check("event", r.auditor.RecordEvent(ctx, r.executionID, EventRecord{
		UnitID:      u.ID,
		EventType:   eventType,
		Message:     fmt.Sprintf("%s -> %s", from, to),
		ErrorDetail: rec.LastError,
	}))
}

// PhaseFinished implements migration.Recorder.
func (r *Recorder) PhaseFinished(ctx context.Context, u *migration.Unit, res migration.PhaseResult) {
	r.check("phase result", r.auditor.RecordPhaseResult(ctx, r.executionID, PhaseResultRecord{
		UnitID:      u.ID,
		Phase:       string(res.Phase),
		Attempt:     res.Attempt,
		Success:     res.Success,
		Duration:    res.Duration,
		ErrorKind:   string(res.ErrorKind),
		ErrorDetail: res.Error,
		Retriable:   res.Retriable,
		Terminal:    res.Terminal,
		FinishedAt:  res.FinishedAt,
	}))
}

// RetryScheduled implements migration.Recorder.
func (r *Recorder) RetryScheduled(ctx context.Context, u *migration.Unit, phase migration.Phase, retry int, delay time.Duration) {
	r.check("event", r.auditor.RecordEvent(ctx, r.executionID, EventRecord{
		UnitID:    u.ID,
		EventType: EventRetryScheduled,
		Message:   fmt.Sprintf("%s retry %d in %s", phase, retry, delay),
	}))
}

// WaveStarted implements wave.Recorder.
func (r *Recorder) WaveStarted(ctx context.Context, w *wave.Wave) {
	r.check("wave", r.auditor.RecordWave(ctx, r.executionID, WaveRecord{
		Index:          w.Index,
		UnitCount:      len(w.UnitIDs),
		MaxConcurrency: w.MaxConcurrency,
		Independent:    w.Independent,
		Status:         string(wave.StatusRunning),
	}))
	idx := w.Index
	r.check("event", r.auditor.RecordEvent(ctx, r.executionID, EventRecord{
		WaveIndex: &idx,
		EventType: EventWaveStarted,
		Message:   fmt.Sprintf("wave %d started with %d units", w.Index, len(w.UnitIDs)),
	}))
}

// WaveFinished implements wave.Recorder.
func (r *Recorder) WaveFinished(ctx context.Context, w *wave.Wave, res wave.Result) {
	var detail string
	if res.Err != nil {
		detail = res.Err.Error()
	}
	r.check("wave", r.auditor.RecordWave(ctx, r.executionID, WaveRecord{
		Index:          w.Index,
		UnitCount:      len(w.UnitIDs),
		MaxConcurrency: w.MaxConcurrency,
		Independent:    w.Independent,
		Status:         string(res.Status),
		Completed:      res.Completed,
		RolledBack:     res.RolledBack,
		ErrorDetail:    detail,
		Finished:       true,
	}))
	idx := w.Index
	r.check("event", r.auditor.RecordEvent(ctx, r.executionID, EventRecord{
		WaveIndex:   &idx,
		EventType:   EventWaveFinished,
		Message:     fmt.Sprintf("wave %d %s: %d completed, %d rolled back", w.Index, res.Status, res.Completed, res.RolledBack),
		ErrorDetail: detail,
	}))
}

// DriftChecked records one drift report.
func (r *Recorder) DriftChecked(ctx context.Context, rep drift.Report) {
	r.check("drift", r.auditor.RecordDrift(ctx, r.executionID, DriftRecord{
		ResourceName:  rep.Name,
		ResourceKind:  string(rep.Kind),
		HasDrift:      rep.HasDrift,
		Missing:       rep.Missing,
		DifferingKeys: rep.DifferingKeys,
	}))
}

func (r *Recorder) check(what string, err error) {
	if err != nil {
		r.logger.Warn("Audit write failed", zap.String("record", what), zap.Error(err))
	}
}

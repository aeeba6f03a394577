// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package wave

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cloudshift/internal/checkpoint"
	"cloudshift/internal/constants"
	"cloudshift/internal/migration"
)

// UnitRunner drives one unit to a terminal phase.
type UnitRunner interface {
	Run(ctx context.Context, u *migration.Unit) migration.Phase
}

// Snapshotter captures the state a checkpoint restores. units are the
// wave's members, in wave order.
type Snapshotter interface {
	Snapshot(ctx context.Context, units []*migration.Unit) ([]byte, error)
}

// Restorer applies a consumed checkpoint after a wave failed.
type Restorer interface {
	Restore(ctx context.Context, cp checkpoint.Checkpoint) error
}

// Recorder receives wave events.
type Recorder interface {
	WaveStarted(ctx context.Context, w *Wave)
	WaveFinished(ctx context.Context, w *Wave, r Result)
}

// Result is the outcome of one wave.
type Result struct {
	Index      int
	Status     Status
	Completed  int
	RolledBack int
	// Pending counts units that never started.
	Pending  int
	Duration time.Duration
	// Err explains a failure outside the units themselves, such as a
	// checkpoint that could not be created or restored.
	Err error
}

// Report summarizes a pipeline run.
type Report struct {
	Status     Status
	Waves      []Result
	Units      []*migration.Unit
	Completed  int
	Failed     int
	RolledBack int
	Skipped    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSnapshotter sets the source of checkpoint snapshots.
func WithSnapshotter(sn Snapshotter) Option {
	return func(s *Scheduler) { s.snapshotter = sn }
}

// WithRestorer sets what a failed wave's checkpoint is handed to.
func WithRestorer(r Restorer) Option {
	return func(s *Scheduler) { s.restorer = r }
}

// WithRecorder adds a wave event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorders = append(s.recorders, r) }
}

// WithWaveSize sets the number of units per wave.
func WithWaveSize(n int) Option {
	return func(s *Scheduler) { s.waveSize = n }
}

// WithMaxConcurrency sets the in-flight unit limit per wave.
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) { s.maxConcurrency = n }
}

// WithIndependentWaves marks wave indexes that run even after a failure.
func WithIndependentWaves(indexes ...int) Option {
	return func(s *Scheduler) {
		for _, i := range indexes {
			s.independent[i] = true
		}
	}
}

// WithRunID sets the run identifier used in snapshot references.
func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

// Scheduler runs waves sequentially and units within a wave concurrently.
type Scheduler struct {
	runner         UnitRunner
	store          checkpoint.Store
	snapshotter    Snapshotter
	restorer       Restorer
	recorders      []Recorder
	logger         *zap.Logger
	waveSize       int
	maxConcurrency int
	independent    map[int]bool
	runID          string
}

// NewScheduler returns a Scheduler that runs units with r and keeps
// checkpoints in store.
func NewScheduler(r UnitRunner, store checkpoint.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:         r,
		store:          store,
		logger:         zap.NewNop(),
		waveSize:       constants.DefaultWaveSize,
		maxConcurrency: constants.DefaultMaxConcurrency,
		independent:    map[int]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run schedules units into waves and runs them in index order. After a
// failed wave, later waves are skipped unless marked independent. Once ctx
// is canceled no further wave starts.
func (s *Scheduler) Run(ctx context.Context, units []*migration.Unit) (Report, error) {
	waves, err := Schedule(units, s.waveSize, s.maxConcurrency)
	if err != nil {
		return Report{}, err
	}
	for _, w := range waves {
		w.Independent = s.independent[w.Index]
	}

	report := Report{Status: StatusCompleted, Units: units}
	failed := false
	for _, w := range waves {
		if (failed && !w.Independent) || ctx.Err() != nil {
			w.setStatus(StatusSkipped)
			s.logger.Info("Skipping wave", zap.Int("wave", w.Index), zap.Int("units", len(w.UnitIDs)))
			report.Waves = append(report.Waves, Result{Index: w.Index, Status: StatusSkipped, Pending: len(w.UnitIDs)})
			report.Skipped += len(w.UnitIDs)
			continue
		}
		res := s.RunWave(ctx, w, units)
		report.Waves = append(report.Waves, res)
		report.Completed += res.Completed
		report.RolledBack += res.RolledBack
		report.Failed += len(w.UnitIDs) - res.Completed
		if res.Status != StatusCompleted {
			failed = true
		}
	}
	if failed || report.Skipped > 0 {
		report.Status = StatusFailed
	}
	return report, nil
}

// RunWave checkpoints, runs every unit of w found in units, and waits for
// all of them to finish. A wave with any unit not Completed is Failed and
// its checkpoint is consumed and restored.
func (s *Scheduler) RunWave(ctx context.Context, w *Wave, units []*migration.Unit) Result {
	start := time.Now()
	log := s.logger.With(zap.Int("wave", w.Index))
	res := Result{Index: w.Index}

	members, err := collect(w, units)
	if err != nil {
		return s.finish(ctx, w, res, start, StatusFailed, err)
	}

	w.setStatus(StatusRunning)
	for _, r := range s.recorders {
		r.WaveStarted(context.WithoutCancel(ctx), w)
	}
	log.Info("Starting wave", zap.Int("units", len(members)), zap.Int("maxConcurrency", w.MaxConcurrency))

	if err := s.checkpoint(ctx, w, members); err != nil {
		log.Error("Checkpoint failed; no unit started", zap.Error(err))
		res.Pending = len(members)
		return s.finish(ctx, w, res, start, StatusFailed, err)
	}

	limit := w.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	phases := make([]migration.Phase, len(members))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range members {
		g.Go(func() error {
			phases[i] = s.runner.Run(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range phases {
		switch p {
		case migration.PhaseCompleted:
			res.Completed++
		case migration.PhaseRolledBack:
			res.RolledBack++
		}
	}
	if res.Completed == len(members) {
		return s.finish(ctx, w, res, start, StatusCompleted, nil)
	}

	res.Err = s.rollback(ctx, w)
	return s.finish(ctx, w, res, start, StatusFailed, res.Err)
}

func (s *Scheduler) checkpoint(ctx context.Context, w *Wave, members []*migration.Unit) error {
	var snapshot []byte
	if s.snapshotter != nil {
		var err error
		if snapshot, err = s.snapshotter.Snapshot(ctx, members); err != nil {
			return fmt.Errorf("capturing snapshot for wave %d: %w", w.Index, err)
		}
	}
	cp := checkpoint.Checkpoint{
		WaveIndex:   w.Index,
		CreatedAt:   time.Now(),
		SnapshotRef: checkpoint.Ref(s.runID, w.Index),
		Snapshot:    snapshot,
	}
	if err := s.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("saving checkpoint for wave %d: %w", w.Index, err)
	}
	return nil
}

// rollback consumes the wave checkpoint and hands it to the restorer. It
// runs to completion even when ctx is canceled.
func (s *Scheduler) rollback(ctx context.Context, w *Wave) error {
	ctx = context.WithoutCancel(ctx)
	cp, err := s.store.Consume(ctx, w.Index)
	if err != nil {
		return fmt.Errorf("consuming checkpoint for wave %d: %w", w.Index, err)
	}
	s.logger.Info("Wave failed; restoring checkpoint", zap.Int("wave", w.Index), zap.String("ref", cp.SnapshotRef))
	if s.restorer == nil {
		return nil
	}
	if err := s.restorer.Restore(ctx, cp); err != nil {
		return fmt.Errorf("restoring checkpoint %s: %w", cp.SnapshotRef, err)
	}
	return nil
}

func (s *Scheduler) finish(ctx context.Context, w *Wave, res Result, start time.Time, status Status, err error) Result {
	w.setStatus(status)
	res.Status = status
	res.Err = err
	res.Duration = time.Since(start)
	for _, r := range s.recorders {
		r.WaveFinished(context.WithoutCancel(ctx), w, res)
	}
	fields := []zap.Field{
		zap.Int("wave", w.Index),
		zap.String("status", string(status)),
		zap.Int("completed", res.Completed),
		zap.Int("rolledBack", res.RolledBack),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		s.logger.Warn("Wave finished", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("Wave finished", fields...)
	}
	return res
}

func collect(w *Wave, units []*migration.Unit) ([]*migration.Unit, error) {
	byID := make(map[string]*migration.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	members := make([]*migration.Unit, 0, len(w.UnitIDs))
	for _, id := range w.UnitIDs {
		u, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("wave %d: unit %q not found", w.Index, id)
		}
		members = append(members, u)
	}
	return members, nil
}

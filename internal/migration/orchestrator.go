// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package migration drives a single migration unit through its phase state
// machine: Pending, Provisioning, Replicating, CuttingOver, Configuring,
// Validating and finally Completed. Any unrecoverable failure moves the unit
// to RolledBack.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cloudshift/internal/constants"
	"cloudshift/internal/drift"
	"cloudshift/internal/faults"
)

// Provisioner creates the infrastructure a unit lands on.
type Provisioner interface {
	Provision(ctx context.Context, u *Unit) error
}

// Platform moves a unit's workload to the target and can undo that move.
type Platform interface {
	Replicate(ctx context.Context, u *Unit) error
	Cutover(ctx context.Context, u *Unit) error
	Revert(ctx context.Context, u *Unit) error
}

// Configurator applies post-migration configuration to a unit.
type Configurator interface {
	Configure(ctx context.Context, u *Unit) error
}

// DriftChecker reconciles one declared resource.
type DriftChecker interface {
	Reconcile(ctx context.Context, name string) (drift.Report, error)
}

// Recorder receives phase events. Calls are made from the goroutine
// running the unit, with a context that is never canceled.
type Recorder interface {
	PhaseChanged(ctx context.Context, u *Unit, from, to Phase)
	PhaseFinished(ctx context.Context, u *Unit, result PhaseResult)
	RetryScheduled(ctx context.Context, u *Unit, phase Phase, retry int, delay time.Duration)
}

// Handlers are the collaborators that do the work of each phase.
type Handlers struct {
	Provisioner  Provisioner
	Platform     Platform
	Configurator Configurator
	Checker      DriftChecker
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRecorder adds a phase event recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorders = append(o.recorders, r) }
}

// Orchestrator runs units through the phase state machine. One Orchestrator
// may run many units concurrently; each unit is owned by the goroutine
// passed to Run.
type Orchestrator struct {
	handlers  Handlers
	policy    Policy
	recorders []Recorder
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewOrchestrator returns an Orchestrator. Every handler is required.
func NewOrchestrator(h Handlers, policy Policy, opts ...Option) (*Orchestrator, error) {
	switch {
	case h.Provisioner == nil:
		return nil, errors.New("provisioner is required")
	case h.Platform == nil:
		return nil, errors.New("platform is required")
	case h.Configurator == nil:
		return nil, errors.New("configurator is required")
	case h.Checker == nil:
		return nil, errors.New("drift checker is required")
	}
	if policy.MaxRetries < 0 || policy.MaxValidationRetries < 0 {
		return nil, fmt.Errorf("retry limits must not be negative (max retries %d, max validation retries %d)",
			policy.MaxRetries, policy.MaxValidationRetries)
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = constants.DefaultRetryBaseDelay
	}
	o := &Orchestrator{
		handlers: h,
		policy:   policy,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run drives u to a terminal phase and returns it. A unit that is already
// terminal is returned unchanged.
func (o *Orchestrator) Run(ctx context.Context, u *Unit) Phase {
	if p := u.Phase(); p.Terminal() {
		return p
	}
	log := o.logger.With(zap.String("unit", u.ID), zap.String("os", string(u.OSFamily)))

	if !u.OSFamily.Valid() {
		err := faults.Newf(faults.UnsupportedConfiguration, "validate unit", "unsupported OS family %q", u.OSFamily)
		return o.rollback(ctx, log, u, err)
	}

	for _, phase := range WorkPhases {
		if err := ctx.Err(); err != nil {
			return o.rollback(ctx, log, u, faults.New(faults.Canceled, string(phase), err))
		}
		o.transition(ctx, log, u, phase)
		if err := o.runPhase(ctx, log, u, phase); err != nil {
			return o.rollback(ctx, log, u, err)
		}
	}
	o.transition(ctx, log, u, PhaseCompleted)
	log.Info("Unit migrated", zap.Int("retries", u.TotalRetries()))
	return PhaseCompleted
}

// runPhase attempts phase until it succeeds, fails non-retriably or runs
// out of retries.
func (o *Orchestrator) runPhase(ctx context.Context, log *zap.Logger, u *Unit, phase Phase) error {
	limit := o.policy.Limit(phase)
	for attempt := 1; ; attempt++ {
		start := o.now()
		err := o.step(ctx, u, phase)
		result := PhaseResult{
			Phase:      phase,
			Attempt:    attempt,
			Success:    err == nil,
			Duration:   o.now().Sub(start),
			FinishedAt: o.now(),
		}
		if err == nil {
			o.record(ctx, u, result)
			log.Debug("Phase succeeded", zap.String("phase", string(phase)), zap.Int("attempt", attempt))
			return nil
		}

		kind := faults.KindOf(err)
		if ctx.Err() != nil && kind != faults.Canceled {
			err = faults.New(faults.Canceled, string(phase), fmt.Errorf("%w (after: %v)", ctx.Err(), err))
			kind = faults.Canceled
		}
		result.Error = err.Error()
		result.ErrorKind = kind
		action := o.policy.Decide(phase, kind)
		exhausted := u.Retries() >= limit
		result.Retriable = action == ActionRetry && !exhausted
		o.record(ctx, u, result)
		u.setLastError(err)

		if action != ActionRetry {
			log.Warn("Phase failed", zap.String("phase", string(phase)),
				zap.String("kind", string(kind)), zap.Error(err))
			return err
		}
		if exhausted {
			log.Warn("Phase retries exhausted", zap.String("phase", string(phase)),
				zap.Int("retries", limit), zap.Error(err))
			if phase == PhaseValidating {
				return faults.New(faults.DriftUnresolved, string(phase),
					fmt.Errorf("drift persisted after %d validation retries: %w", limit, err))
			}
			return faults.New(faults.RetriesExhausted, string(phase),
				fmt.Errorf("gave up after %d retries: %w", limit, err))
		}

		n := u.incRetries()
		delay := o.policy.Delay(n)
		for _, r := range o.recorders {
			r.RetryScheduled(context.WithoutCancel(ctx), u, phase, n, delay)
		}
		log.Info("Retrying phase", zap.String("phase", string(phase)), zap.Int("retry", n),
			zap.Duration("delay", delay), zap.String("kind", string(kind)))
		if serr := o.sleep(ctx, delay); serr != nil {
			return faults.New(faults.Canceled, string(phase), serr)
		}
	}
}

func (o *Orchestrator) step(ctx context.Context, u *Unit, phase Phase) error {
	switch phase {
	case PhaseProvisioning:
		return o.handlers.Provisioner.Provision(ctx, u)
	case PhaseReplicating:
		return o.handlers.Platform.Replicate(ctx, u)
	case PhaseCuttingOver:
		return o.handlers.Platform.Cutover(ctx, u)
	case PhaseConfiguring:
		return o.handlers.Configurator.Configure(ctx, u)
	case PhaseValidating:
		return o.validate(ctx, u)
	}
	return faults.Newf(faults.Unknown, string(phase), "phase has no handler")
}

// validate reconciles every resource the unit depends on. Any drift fails
// the attempt with DriftUnresolved.
func (o *Orchestrator) validate(ctx context.Context, u *Unit) error {
	var drifted []string
	for _, name := range u.DependsOn {
		report, err := o.handlers.Checker.Reconcile(ctx, name)
		if err != nil {
			return fmt.Errorf("reconciling %s: %w", name, err)
		}
		if report.HasDrift {
			drifted = append(drifted, fmt.Sprintf("%s [%s]", name, strings.Join(report.DifferingKeys, ",")))
		}
	}
	if len(drifted) > 0 {
		return faults.Newf(faults.DriftUnresolved, string(PhaseValidating),
			"drift detected in %s", strings.Join(drifted, "; "))
	}
	return nil
}

// rollback reverts the unit's platform work, if any was started, and ends
// the unit in RolledBack with a terminal result carrying cause.
func (o *Orchestrator) rollback(ctx context.Context, log *zap.Logger, u *Unit, cause error) Phase {
	failed := u.Phase()
	detail := cause
	if failed != PhasePending {
		if err := o.handlers.Platform.Revert(context.WithoutCancel(ctx), u); err != nil {
			log.Error("Revert failed", zap.String("phase", string(failed)), zap.Error(err))
			detail = fmt.Errorf("%w (revert failed: %v)", cause, err)
		}
	}
	u.setLastError(cause)
	o.transition(ctx, log, u, PhaseRolledBack)
	o.record(ctx, u, PhaseResult{
		Phase:      PhaseRolledBack,
		Attempt:    1,
		Error:      fmt.Sprintf("failed in %s: %v", failed, detail),
		ErrorKind:  faults.KindOf(cause),
		Terminal:   true,
		FinishedAt: o.now(),
	})
	log.Error("Unit rolled back", zap.String("phase", string(failed)),
		zap.String("kind", string(faults.KindOf(cause))), zap.Error(cause))
	return PhaseRolledBack
}

func (o *Orchestrator) transition(ctx context.Context, log *zap.Logger, u *Unit, to Phase) {
	from := u.setPhase(to)
	log.Debug("Phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, r := range o.recorders {
		r.PhaseChanged(context.WithoutCancel(ctx), u, from, to)
	}
}

func (o *Orchestrator) record(ctx context.Context, u *Unit, r PhaseResult) {
	u.appendResult(r)
	for _, rec := range o.recorders {
		rec.PhaseFinished(context.WithoutCancel(ctx), u, r)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"sync"

	"cloudshift/internal/drift"
	"cloudshift/internal/migration"
)

// AnyUnit matches every unit in a ScriptedHandlers script.
const AnyUnit = "*"

type script struct {
	errs   []error
	always bool
}

// ScriptedHandlers implements every orchestrator collaborator with scripted
// per-unit, per-phase errors. Unscripted steps succeed.
type ScriptedHandlers struct {
	// Hook, if set, runs at the start of every step.
	Hook func(ctx context.Context, unitID string, phase migration.Phase)

	mu      sync.Mutex
	scripts map[string]*script
	calls   map[string]int
	reports map[string][]drift.Report
	reverts []string
	revErr  error
}

// NewScriptedHandlers returns handlers that succeed until scripted otherwise.
func NewScriptedHandlers() *ScriptedHandlers {
	return &ScriptedHandlers{
		scripts: map[string]*script{},
		calls:   map[string]int{},
		reports: map[string][]drift.Report{},
	}
}

// Handlers returns h as orchestrator handlers.
func (h *ScriptedHandlers) Handlers() migration.Handlers {
	return migration.Handlers{Provisioner: h, Platform: h, Configurator: h, Checker: h}
}

// Fail makes the next len(errs) attempts of phase fail in order.
func (h *ScriptedHandlers) Fail(unitID string, phase migration.Phase, errs ...error) *ScriptedHandlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[key(unitID, phase)] = &script{errs: errs}
	return h
}

// FailAlways makes every attempt of phase fail with err.
func (h *ScriptedHandlers) FailAlways(unitID string, phase migration.Phase, err error) *ScriptedHandlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[key(unitID, phase)] = &script{errs: []error{err}, always: true}
	return h
}

// FailRevert makes every Revert return err.
func (h *ScriptedHandlers) FailRevert(err error) *ScriptedHandlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revErr = err
	return h
}

// Drift scripts the reports returned for a resource; the last one repeats.
func (h *ScriptedHandlers) Drift(name string, reports ...drift.Report) *ScriptedHandlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports[name] = reports
	return h
}

// Calls returns how many times phase ran for unitID.
func (h *ScriptedHandlers) Calls(unitID string, phase migration.Phase) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key(unitID, phase)]
}

// Reverts returns the IDs of reverted units in call order.
func (h *ScriptedHandlers) Reverts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reverts...)
}

func (h *ScriptedHandlers) Provision(ctx context.Context, u *migration.Unit) error {
	return h.step(ctx, u.ID, migration.PhaseProvisioning)
}

func (h *ScriptedHandlers) Replicate(ctx context.Context, u *migration.Unit) error {
	return h.step(ctx, u.ID, migration.PhaseReplicating)
}

func (h *ScriptedHandlers) Cutover(ctx context.Context, u *migration.Unit) error {
	return h.step(ctx, u.ID, migration.PhaseCuttingOver)
}

func (h *ScriptedHandlers) Configure(ctx context.Context, u *migration.Unit) error {
	return h.step(ctx, u.ID, migration.PhaseConfiguring)
}

func (h *ScriptedHandlers) Revert(_ context.Context, u *migration.Unit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reverts = append(h.reverts, u.ID)
	return h.revErr
}

// Reconcile returns the next scripted report for name, or a clean one.
func (h *ScriptedHandlers) Reconcile(_ context.Context, name string) (drift.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[key(AnyUnit, migration.PhaseValidating)+"/"+name]++
	reports := h.reports[name]
	if len(reports) == 0 {
		return drift.Report{Name: name}, nil
	}
	r := reports[0]
	if len(reports) > 1 {
		h.reports[name] = reports[1:]
	}
	return r, nil
}

// Reconciles returns how many times name was reconciled.
func (h *ScriptedHandlers) Reconciles(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key(AnyUnit, migration.PhaseValidating)+"/"+name]
}

func (h *ScriptedHandlers) step(ctx context.Context, unitID string, phase migration.Phase) error {
	if h.Hook != nil {
		h.Hook(ctx, unitID, phase)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[key(unitID, phase)]++
	s, ok := h.scripts[key(unitID, phase)]
	if !ok {
		s, ok = h.scripts[key(AnyUnit, phase)]
	}
	if !ok || len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	if !s.always {
		s.errs = s.errs[1:]
	}
	return err
}

func key(unitID string, phase migration.Phase) string {
	return unitID + "/" + string(phase)
}

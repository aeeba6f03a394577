// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"strings"
	"sync"
	"time"

	"cloudshift/internal/faults"
)

// OSFamily is the guest operating system family of a unit.
type OSFamily string

const (
	Linux   OSFamily = "Linux"
	Windows OSFamily = "Windows"
)

// ParseOSFamily matches s case-insensitively. Unrecognized values are kept
// as-is so the orchestrator can reject them with a recorded result.
func ParseOSFamily(s string) OSFamily {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linux":
		return Linux
	case "windows":
		return Windows
	}
	return OSFamily(s)
}

// Valid reports whether f is a supported family.
func (f OSFamily) Valid() bool {
	return f == Linux || f == Windows
}

// Phase is a state of the per-unit migration state machine.
type Phase string

const (
	PhasePending      Phase = "Pending"
	PhaseProvisioning Phase = "Provisioning"
	PhaseReplicating  Phase = "Replicating"
	PhaseCuttingOver  Phase = "CuttingOver"
	PhaseConfiguring  Phase = "Configuring"
	PhaseValidating   Phase = "Validating"
	PhaseCompleted    Phase = "Completed"
	PhaseRolledBack   Phase = "RolledBack"
)

// WorkPhases lists the phases that do work, in execution order.
var WorkPhases = []Phase{
	PhaseProvisioning,
	PhaseReplicating,
	PhaseCuttingOver,
	PhaseConfiguring,
	PhaseValidating,
}

// Terminal reports whether p is Completed or RolledBack.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRolledBack
}

// PhaseResult is the immutable outcome of one phase attempt. The last entry
// of a rolled-back unit's history is a Terminal result explaining why.
type PhaseResult struct {
	Phase      Phase
	Attempt    int
	Success    bool
	Duration   time.Duration
	Error      string
	ErrorKind  faults.Kind
	Retriable  bool
	Terminal   bool
	FinishedAt time.Time
}

// Unit is one VM or VM group being migrated. Identity fields are set at
// creation; progress fields are owned by the orchestrator running the unit.
type Unit struct {
	ID                string
	OSFamily          OSFamily
	SizeClass         string
	SourceEnvironment string
	// SourceImage locates the source disk for platforms that import disks.
	SourceImage string
	// DependsOn names the inventory resources validated before completion.
	DependsOn []string

	mu           sync.RWMutex
	phase        Phase
	retries      int
	totalRetries int
	lastErr      error
	history      []PhaseResult
}

// NewUnit returns a Pending unit.
func NewUnit(id string, os OSFamily, sizeClass, sourceEnv string) *Unit {
	return &Unit{ID: id, OSFamily: os, SizeClass: sizeClass, SourceEnvironment: sourceEnv, phase: PhasePending}
}

// Phase returns the current phase.
func (u *Unit) Phase() Phase {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.phase == "" {
		return PhasePending
	}
	return u.phase
}

// Retries returns the retry count of the current phase.
func (u *Unit) Retries() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.retries
}

// TotalRetries returns the retries spent across all phases.
func (u *Unit) TotalRetries() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.totalRetries
}

// LastError returns the most recent phase error, if any.
func (u *Unit) LastError() error {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastErr
}

// History returns a copy of the phase result log.
func (u *Unit) History() []PhaseResult {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]PhaseResult(nil), u.history...)
}

// setPhase moves the unit to p, resetting the per-phase retry count, and
// returns the previous phase.
func (u *Unit) setPhase(p Phase) Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	from := u.phase
	if from == "" {
		from = PhasePending
	}
	u.phase = p
	u.retries = 0
	return from
}

func (u *Unit) incRetries() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.retries++
	u.totalRetries++
	return u.retries
}

func (u *Unit) setLastError(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastErr = err
}

func (u *Unit) appendResult(r PhaseResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.history = append(u.history, r)
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package wave partitions migration units into ordered waves and runs each
// wave with bounded concurrency behind a rollback checkpoint.
package wave

import (
	"fmt"
	"sync"

	"cloudshift/internal/migration"
)

// Status is the lifecycle state of a wave.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusSkipped   Status = "Skipped"
)

// Wave is an ordered batch of units executed concurrently.
type Wave struct {
	Index          int      `json:"index"`
	UnitIDs        []string `json:"units"`
	MaxConcurrency int      `json:"maxConcurrency"`
	// Independent waves still run after an earlier wave failed.
	Independent bool `json:"independent,omitempty"`

	mu     sync.Mutex
	status Status
}

// Status returns the wave status.
func (w *Wave) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == "" {
		return StatusPending
	}
	return w.status
}

func (w *Wave) setStatus(s Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

// Schedule partitions units into waves of waveSize in input order. The last
// wave holds the remainder. Empty input yields no waves.
func Schedule(units []*migration.Unit, waveSize, maxConcurrency int) ([]*Wave, error) {
	if waveSize <= 0 {
		return nil, fmt.Errorf("wave size must be positive, got %d", waveSize)
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency per wave must be positive, got %d", maxConcurrency)
	}
	seen := make(map[string]struct{}, len(units))
	waves := make([]*Wave, 0, (len(units)+waveSize-1)/waveSize)
	for start := 0; start < len(units); start += waveSize {
		end := min(start+waveSize, len(units))
		w := &Wave{Index: len(waves), MaxConcurrency: maxConcurrency, status: StatusPending}
		for _, u := range units[start:end] {
			if _, dup := seen[u.ID]; dup {
				return nil, fmt.Errorf("unit %q scheduled twice", u.ID)
			}
			seen[u.ID] = struct{}{}
			w.UnitIDs = append(w.UnitIDs, u.ID)
		}
		waves = append(waves, w)
	}
	return waves, nil
}

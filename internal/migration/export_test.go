// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"context"
	"time"
)

// SetSleep replaces the backoff sleep so tests can capture delays.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	o.sleep = fn
}

// SetClock replaces the orchestrator clock.
func (o *Orchestrator) SetClock(fn func() time.Time) {
	o.now = fn
}

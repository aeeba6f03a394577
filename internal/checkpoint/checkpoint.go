// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint stores the per-wave rollback checkpoints taken before
// a wave starts. A checkpoint is consumed at most once.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a wave.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrConsumed is returned when a checkpoint was already consumed.
	ErrConsumed = errors.New("checkpoint already consumed")
	// ErrExists is returned when a wave already has a checkpoint.
	ErrExists = errors.New("checkpoint already exists")
)

// Checkpoint is a snapshot of declared state taken at the start of a wave.
type Checkpoint struct {
	WaveIndex   int
	CreatedAt   time.Time
	SnapshotRef string
	Snapshot    []byte
	// ConsumedAt is zero until the checkpoint is consumed.
	ConsumedAt time.Time
}

// Consumed reports whether the checkpoint has been consumed.
func (c Checkpoint) Consumed() bool {
	return !c.ConsumedAt.IsZero()
}

// Ref returns the conventional snapshot reference for a wave.
func Ref(runID string, waveIndex int) string {
	if runID == "" {
		return fmt.Sprintf("wave-%d", waveIndex)
	}
	return fmt.Sprintf("%s/wave-%d", runID, waveIndex)
}

// Store persists checkpoints by wave index.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, waveIndex int) (Checkpoint, error)
	// Consume marks the checkpoint consumed and returns it. A second call
	// for the same wave returns ErrConsumed.
	Consume(ctx context.Context, waveIndex int) (Checkpoint, error)
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[int]Checkpoint
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[int]Checkpoint{}, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[cp.WaveIndex]; ok {
		return fmt.Errorf("wave %d: %w", cp.WaveIndex, ErrExists)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.Snapshot = append([]byte(nil), cp.Snapshot...)
	s.items[cp.WaveIndex] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, waveIndex int) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.items[waveIndex]
	if !ok {
		return Checkpoint{}, fmt.Errorf("wave %d: %w", waveIndex, ErrNotFound)
	}
	return cp, nil
}

func (s *MemoryStore) Consume(_ context.Context, waveIndex int) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.items[waveIndex]
	if !ok {
		return Checkpoint{}, fmt.Errorf("wave %d: %w", waveIndex, ErrNotFound)
	}
	if cp.Consumed() {
		return Checkpoint{}, fmt.Errorf("wave %d: %w", waveIndex, ErrConsumed)
	}
	cp.ConsumedAt = s.now()
	s.items[waveIndex] = cp
	return cp, nil
}

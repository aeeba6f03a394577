// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package inventory tracks declared infrastructure resources and their
// observed state, keyed by logical name.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cloudshift/internal/faults"
	"cloudshift/internal/resource"
)

// ErrKindChange is returned when a name is redeclared with a different kind.
var ErrKindChange = errors.New("resource kind cannot change")

// Record holds the declared and observed state of one resource. Observed is
// nil until the first observation.
type Record struct {
	Name       string
	Kind       resource.Kind
	Declared   resource.Attributes
	Observed   resource.Attributes
	Drift      bool
	ObservedAt time.Time
}

func (r Record) clone() Record {
	r.Declared = r.Declared.Clone()
	r.Observed = r.Observed.Clone()
	return r
}

// Observer reads the current attributes of a resource from an external
// source of truth. declared supplies the addressing scope.
type Observer interface {
	Observe(ctx context.Context, kind resource.Kind, name string, declared resource.Attributes) (resource.Attributes, error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, kind resource.Kind, name string, declared resource.Attributes) (resource.Attributes, error)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, kind resource.Kind, name string, declared resource.Attributes) (resource.Attributes, error) {
	return f(ctx, kind, name, declared)
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Option configures an Inventory.
type Option func(*Inventory)

// WithLogger sets the inventory logger.
func WithLogger(l *zap.Logger) Option {
	return func(inv *Inventory) { inv.logger = l }
}

// Inventory is safe for concurrent use. Access to one record is serialized;
// different records are read and updated concurrently.
type Inventory struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// New returns an empty Inventory that observes through observer.
func New(observer Observer, opts ...Option) *Inventory {
	inv := &Inventory{
		entries:  map[string]*entry{},
		observer: observer,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Declare adds a resource or replaces the declared attributes of an existing
// one. The kind of a declared name never changes.
func (inv *Inventory) Declare(name string, kind resource.Kind, attrs resource.Attributes) error {
	if name == "" {
		return faults.Newf(faults.UnsupportedConfiguration, "declare", "resource name is required")
	}
	if err := resource.Validate(kind, attrs); err != nil {
		return fmt.Errorf("declaring %s: %w", name, err)
	}
	if attrs == nil {
		attrs = resource.Attributes{}
	}

	inv.mu.Lock()
	e, ok := inv.entries[name]
	if !ok {
		inv.entries[name] = &entry{rec: Record{Name: name, Kind: kind, Declared: attrs.Clone()}}
		inv.order = append(inv.order, name)
		inv.mu.Unlock()
		inv.logger.Debug("Declared resource", zap.String("name", name), zap.String("kind", string(kind)))
		return nil
	}
	inv.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Kind != kind {
		return fmt.Errorf("declaring %s as %s (was %s): %w", name, kind, e.rec.Kind, ErrKindChange)
	}
	e.rec.Declared = attrs.Clone()
	return nil
}

// Observe refreshes the observed attributes of name and returns a copy of the
// record. Declared attributes are never modified.
func (inv *Inventory) Observe(ctx context.Context, name string) (Record, error) {
	return inv.ObserveAndMark(ctx, name, nil)
}

// ObserveAndMark refreshes name like Observe, then sets the drift flag to
// mark(record) while still holding the record, so the flag always matches
// the observation it was computed from. A nil mark leaves the flag alone.
func (inv *Inventory) ObserveAndMark(ctx context.Context, name string, mark func(Record) bool) (Record, error) {
	e, err := inv.lookup(name)
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	observed, err := inv.observer.Observe(ctx, e.rec.Kind, name, e.rec.Declared.Clone())
	if err != nil {
		return Record{}, fmt.Errorf("observing %s: %w", name, err)
	}
	if observed == nil {
		observed = resource.Attributes{}
	}
	e.rec.Observed = observed.Clone()
	e.rec.ObservedAt = inv.now()
	if mark != nil {
		e.rec.Drift = mark(e.rec.clone())
	}
	return e.rec.clone(), nil
}

// Get returns a copy of the record for name.
func (inv *Inventory) Get(name string) (Record, bool) {
	e, err := inv.lookup(name)
	if err != nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), true
}

// List returns copies of all records in declaration order.
func (inv *Inventory) List() []Record {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]Record, 0, len(inv.order))
	for _, name := range inv.order {
		e := inv.entries[name]
		e.mu.Lock()
		out = append(out, e.rec.clone())
		e.mu.Unlock()
	}
	return out
}

// Names returns the declared names in declaration order.
func (inv *Inventory) Names() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]string(nil), inv.order...)
}

func (inv *Inventory) lookup(name string) (*entry, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	e, ok := inv.entries[name]
	if !ok {
		return nil, faults.Newf(faults.UnsupportedConfiguration, "inventory", "resource %q is not declared", name)
	}
	return e, nil
}

type snapshotRecord struct {
	Name     string              `json:"name"`
	Kind     resource.Kind       `json:"kind"`
	Declared resource.Attributes `json:"declared"`
}

// Snapshot encodes the declared state of every record.
func (inv *Inventory) Snapshot() ([]byte, error) {
	recs := inv.List()
	out := make([]snapshotRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, snapshotRecord{Name: r.Name, Kind: r.Kind, Declared: r.Declared})
	}
	return json.Marshal(out)
}

// Restore replaces the declared state with a snapshot. Records declared
// after the snapshot was taken are dropped; observed state is kept for
// records that survive with the same kind.
func (inv *Inventory) Restore(data []byte) error {
	var recs []snapshotRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("decoding inventory snapshot: %w", err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	entries := make(map[string]*entry, len(recs))
	order := make([]string, 0, len(recs))
	for _, r := range recs {
		rec := Record{Name: r.Name, Kind: r.Kind, Declared: r.Declared.Clone()}
		if old, ok := inv.entries[r.Name]; ok {
			old.mu.Lock()
			if old.rec.Kind == r.Kind {
				rec.Observed = old.rec.Observed.Clone()
				rec.ObservedAt = old.rec.ObservedAt
				rec.Drift = old.rec.Drift
			}
			old.mu.Unlock()
		}
		entries[r.Name] = &entry{rec: rec}
		order = append(order, r.Name)
	}
	inv.entries = entries
	inv.order = order
	inv.logger.Info("Restored inventory snapshot", zap.Int("records", len(order)))
	return nil
}

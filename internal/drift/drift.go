// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package drift compares declared resource state with observed state.
// Declared attributes are the source of truth only for the keys they name;
// observed keys that were never declared, such as provider-injected tags,
// are ignored. Drift is reported, never remediated.
package drift

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/resource"
)

// Diff describes one differing declared key.
type Diff struct {
	Key      string
	Declared string
	Observed string
	Missing  bool
}

// Report is the outcome of reconciling one resource.
type Report struct {
	Name          string
	Kind          resource.Kind
	HasDrift      bool
	DifferingKeys []string
	Diffs         []Diff
	// Missing is set when the resource does not exist at all.
	Missing bool
}

// Result pairs a report with the error that prevented it, if any.
type Result struct {
	Report Report
	Err    error
}

// Inventory is the part of inventory.Inventory the detector uses.
type Inventory interface {
	ObserveAndMark(ctx context.Context, name string, mark func(inventory.Record) bool) (inventory.Record, error)
	Get(name string) (inventory.Record, bool)
	Names() []string
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithConcurrency bounds parallel observations in ReconcileAll.
func WithConcurrency(n int) Option {
	return func(d *Detector) { d.concurrency = n }
}

// Detector reconciles inventory records.
type Detector struct {
	inv         Inventory
	logger      *zap.Logger
	concurrency int
}

// NewDetector returns a Detector over inv.
func NewDetector(inv Inventory, opts ...Option) *Detector {
	d := &Detector{inv: inv, logger: zap.NewNop(), concurrency: 4}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Compare returns the declared keys whose observed value is absent or
// different, sorted by key.
func Compare(declared, observed resource.Attributes) []Diff {
	var diffs []Diff
	for _, key := range declared.Keys() {
		want := declared[key]
		got, ok := observed[key]
		switch {
		case !ok:
			diffs = append(diffs, Diff{Key: key, Declared: want, Missing: true})
		case got != want:
			diffs = append(diffs, Diff{Key: key, Declared: want, Observed: got})
		}
	}
	return diffs
}

// Reconcile observes name, compares it with its declaration and records the
// drift flag on the inventory record.
func (d *Detector) Reconcile(ctx context.Context, name string) (Report, error) {
	var diffs []Diff
	rec, err := d.inv.ObserveAndMark(ctx, name, func(r inventory.Record) bool {
		diffs = Compare(r.Declared, r.Observed)
		return len(diffs) > 0
	})
	if err != nil {
		return Report{Name: name}, err
	}

	report := newReport(rec.Name, rec.Kind, diffs)
	if report.HasDrift {
		d.logger.Info("Drift detected",
			zap.String("resource", name),
			zap.String("kind", string(rec.Kind)),
			zap.Strings("keys", report.DifferingKeys))
	} else {
		d.logger.Debug("No drift", zap.String("resource", name))
	}
	return report, nil
}

// ReconcileAll reconciles every declared record. A resource that does not
// exist is reported as missing with every declared key differing; other
// errors are returned per result. Results follow declaration order.
func (d *Detector) ReconcileAll(ctx context.Context) []Result {
	names := d.inv.Names()
	results := make([]Result, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			report, err := d.Reconcile(gctx, name)
			if faults.Is(err, faults.ResourceNotFound) {
				results[i] = Result{Report: d.missingReport(name)}
				return nil
			}
			results[i] = Result{Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Detector) missingReport(name string) Report {
	rec, _ := d.inv.Get(name)
	report := newReport(name, rec.Kind, Compare(rec.Declared, nil))
	report.Missing = true
	report.HasDrift = true
	return report
}

func newReport(name string, kind resource.Kind, diffs []Diff) Report {
	keys := make([]string, 0, len(diffs))
	for _, df := range diffs {
		keys = append(keys, df.Key)
	}
	sort.Strings(keys)
	return Report{
		Name:          name,
		Kind:          kind,
		HasDrift:      len(diffs) > 0,
		DifferingKeys: keys,
		Diffs:         diffs,
	}
}

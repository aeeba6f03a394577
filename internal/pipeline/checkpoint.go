// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cloudshift/internal/checkpoint"
	"cloudshift/internal/controlplane"
	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/migration"
	"cloudshift/internal/resource"
)

// WaveState captures what a wave may change and puts it back when the wave
// fails. The inventory's declared state is always captured. Client is set
// when resources are converged through the control plane, Terraform when
// they are converged by a Terraform apply.
type WaveState struct {
	Inventory *inventory.Inventory
	Client    controlplane.Client
	Terraform *TerraformProvisioner
	Logger    *zap.Logger
}

type waveSnapshot struct {
	Inventory json.RawMessage      `json:"inventory"`
	Resources []resourceState      `json:"resources,omitempty"`
	Terraform *terraformCheckpoint `json:"terraform,omitempty"`
}

// resourceState is a resource as the control plane reported it at wave
// start. Scope is the declared attribute set used to address it.
type resourceState struct {
	Name       string              `json:"name"`
	Kind       resource.Kind       `json:"kind"`
	Scope      resource.Attributes `json:"scope"`
	Exists     bool                `json:"exists"`
	Attributes resource.Attributes `json:"attributes,omitempty"`
}

// Snapshot implements wave.Snapshotter. Only the resources the wave's
// units depend on are read from the control plane.
func (s WaveState) Snapshot(ctx context.Context, units []*migration.Unit) ([]byte, error) {
	inv, err := s.Inventory.Snapshot()
	if err != nil {
		return nil, err
	}
	snap := waveSnapshot{Inventory: inv}
	if s.Client != nil {
		if snap.Resources, err = s.captureResources(ctx, units); err != nil {
			return nil, err
		}
	}
	if s.Terraform != nil {
		if snap.Terraform, err = s.Terraform.checkpoint(ctx); err != nil {
			return nil, err
		}
	}
	return json.Marshal(snap)
}

func (s WaveState) captureResources(ctx context.Context, units []*migration.Unit) ([]resourceState, error) {
	wanted := map[string]bool{}
	for _, u := range units {
		for _, name := range u.DependsOn {
			wanted[name] = true
		}
	}
	var out []resourceState
	for _, rec := range s.Inventory.List() {
		if !wanted[rec.Name] {
			continue
		}
		st := resourceState{Name: rec.Name, Kind: rec.Kind, Scope: rec.Declared}
		attrs, err := s.Client.Get(ctx, rec.Kind, rec.Name, rec.Declared)
		switch {
		case err == nil:
			st.Exists, st.Attributes = true, attrs
		case faults.Is(err, faults.ResourceNotFound):
		default:
			return nil, fmt.Errorf("capturing %s %q: %w", rec.Kind, rec.Name, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Restore implements wave.Restorer. Resources that existed at wave start
// are converged back to their captured attributes and resources the wave
// created are deleted. Every step runs; the errors are joined.
func (s WaveState) Restore(ctx context.Context, cp checkpoint.Checkpoint) error {
	if len(cp.Snapshot) == 0 {
		return nil
	}
	var snap waveSnapshot
	if err := json.Unmarshal(cp.Snapshot, &snap); err != nil {
		return fmt.Errorf("decoding wave snapshot: %w", err)
	}

	var errs []error
	if len(snap.Inventory) > 0 {
		if err := s.Inventory.Restore(snap.Inventory); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Client != nil {
		errs = append(errs, s.restoreResources(ctx, snap.Resources)...)
	}
	if s.Terraform != nil && snap.Terraform != nil {
		if err := s.Terraform.restore(ctx, *snap.Terraform); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s WaveState) restoreResources(ctx context.Context, states []resourceState) []error {
	log := logger(s.Logger)
	var errs []error
	for _, st := range states {
		if !st.Exists {
			continue
		}
		current, err := s.Client.Get(ctx, st.Kind, st.Name, st.Scope)
		if err != nil && !faults.Is(err, faults.ResourceNotFound) {
			errs = append(errs, fmt.Errorf("restoring %s %q: %w", st.Kind, st.Name, err))
			continue
		}
		if err == nil && current.Canonical() == st.Attributes.Canonical() {
			continue
		}
		log.Info("Restoring resource", zap.String("resource", st.Name), zap.String("kind", string(st.Kind)))
		if err := s.Client.CreateOrUpdate(ctx, st.Kind, st.Name, st.Attributes); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s %q: %w", st.Kind, st.Name, err))
		}
	}
	// Parents are declared before their children, so delete in reverse.
	for i := len(states) - 1; i >= 0; i-- {
		st := states[i]
		if st.Exists {
			continue
		}
		log.Info("Deleting resource created by the failed wave", zap.String("resource", st.Name), zap.String("kind", string(st.Kind)))
		if err := s.Client.Delete(ctx, st.Kind, st.Name, st.Scope); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s %q: %w", st.Kind, st.Name, err))
		}
	}
	return errs
}

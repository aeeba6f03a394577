// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"cloudshift/internal/controlplane"
	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/migration"
	"cloudshift/internal/tools"
)

// TerraformProvisioner provisions a unit's landing zone by planning and
// applying the Terraform configuration with the unit's variables. Applies
// are serialized: the configuration has a single state.
type TerraformProvisioner struct {
	Terraform   *tools.Terraform
	PlanFile    string
	Environment string
	Location    string
	Logger      *zap.Logger

	mu sync.Mutex
	// applied holds the variables of the last successful apply.
	applied map[string]string
}

type terraformCheckpoint struct {
	Serial    int64             `json:"serial"`
	Lineage   string            `json:"lineage,omitempty"`
	Addresses []string          `json:"addresses,omitempty"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// Provision implements migration.Provisioner.
func (p *TerraformProvisioner) Provision(ctx context.Context, u *migration.Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vars := map[string]string{
		"environment": p.Environment,
		"location":    p.Location,
		"unit_id":     u.ID,
		"os_family":   string(u.OSFamily),
		"size_class":  u.SizeClass,
	}
	if err := p.Terraform.Plan(ctx, p.PlanFile, vars); err != nil {
		return fmt.Errorf("provisioning %s: %w", u.ID, err)
	}
	if err := p.Terraform.Apply(ctx, p.PlanFile); err != nil {
		return fmt.Errorf("provisioning %s: %w", u.ID, err)
	}
	p.applied = vars
	logger(p.Logger).Debug("Landing zone applied", zap.String("unit", u.ID))
	return nil
}

func (p *TerraformProvisioner) checkpoint(ctx context.Context) (*terraformCheckpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.Terraform.CurrentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing terraform state: %w", err)
	}
	return &terraformCheckpoint{
		Serial:    st.Serial,
		Lineage:   st.Lineage,
		Addresses: st.Addresses,
		Vars:      maps.Clone(p.applied),
	}, nil
}

// restore converges the state back to cp. With the variables of an earlier
// apply the configuration is re-applied with them; otherwise the resources
// added since cp are destroyed.
func (p *TerraformProvisioner) restore(ctx context.Context, cp terraformCheckpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.Terraform.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("restoring terraform state: %w", err)
	}
	if st.Serial == cp.Serial && st.Lineage == cp.Lineage {
		return nil
	}
	log := logger(p.Logger)

	if len(cp.Vars) > 0 {
		log.Info("Re-applying checkpointed variables", zap.Int64("serial", cp.Serial), zap.String("unit", cp.Vars["unit_id"]))
		if err := p.Terraform.Plan(ctx, p.PlanFile, cp.Vars); err != nil {
			return fmt.Errorf("restoring terraform state: %w", err)
		}
		if err := p.Terraform.Apply(ctx, p.PlanFile); err != nil {
			return fmt.Errorf("restoring terraform state: %w", err)
		}
		p.applied = cp.Vars
		return nil
	}

	known := make(map[string]bool, len(cp.Addresses))
	for _, a := range cp.Addresses {
		known[a] = true
	}
	var added []string
	for _, a := range st.Addresses {
		if !known[a] {
			added = append(added, a)
		}
	}
	if len(added) == 0 {
		return faults.Newf(faults.DriftUnresolved, "restore terraform state",
			"state moved from serial %d to %d with no earlier apply to re-converge to", cp.Serial, st.Serial)
	}
	log.Info("Destroying resources created by the failed wave", zap.Strings("addresses", added))
	if err := p.Terraform.PlanDestroy(ctx, p.PlanFile, added); err != nil {
		return fmt.Errorf("restoring terraform state: %w", err)
	}
	if err := p.Terraform.Apply(ctx, p.PlanFile); err != nil {
		return fmt.Errorf("restoring terraform state: %w", err)
	}
	return nil
}

// ControlPlaneProvisioner creates or updates the declared resources a unit
// depends on directly through the cloud control plane.
type ControlPlaneProvisioner struct {
	Client    controlplane.Client
	Inventory *inventory.Inventory
	Logger    *zap.Logger
}

// Provision implements migration.Provisioner.
func (p *ControlPlaneProvisioner) Provision(ctx context.Context, u *migration.Unit) error {
	for _, name := range u.DependsOn {
		rec, ok := p.Inventory.Get(name)
		if !ok {
			return faults.Newf(faults.InvalidConfiguration, "provision "+u.ID, "resource %q is not declared", name)
		}
		if err := p.Client.CreateOrUpdate(ctx, rec.Kind, rec.Name, rec.Declared); err != nil {
			return fmt.Errorf("provisioning %s: %w", u.ID, err)
		}
		logger(p.Logger).Debug("Resource applied", zap.String("unit", u.ID),
			zap.String("resource", name), zap.String("kind", string(rec.Kind)))
	}
	return nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

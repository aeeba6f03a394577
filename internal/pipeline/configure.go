// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"cloudshift/internal/migration"
	"cloudshift/internal/osprofile"
	"cloudshift/internal/tools"
)

// AnsibleConfigurator runs the OS family's post-migration playbook against
// the unit's inventory host.
type AnsibleConfigurator struct {
	Ansible     *tools.Ansible
	Profiles    osprofile.Registry
	ProfileOpts []osprofile.Option
}

// Configure implements migration.Configurator.
func (c *AnsibleConfigurator) Configure(ctx context.Context, u *migration.Unit) error {
	profile, err := c.Profiles.Get(u.OSFamily, c.ProfileOpts...)
	if err != nil {
		return err
	}
	if err := c.Ansible.Apply(ctx, profile.Playbook, u.ID, playbookVars(profile, u)); err != nil {
		return fmt.Errorf("configuring %s: %w", u.ID, err)
	}
	return nil
}

// playbookVars are the extra vars every post-migration play of u receives.
func playbookVars(profile osprofile.Profile, u *migration.Unit) map[string]string {
	vars := make(map[string]string, len(profile.ConnectionVars)+2)
	for k, v := range profile.ConnectionVars {
		vars[k] = v
	}
	vars["unit_id"] = u.ID
	vars["source_environment"] = u.SourceEnvironment
	return vars
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cloudshift/internal/faults"
)

// Check is the outcome of one preflight step.
type Check struct {
	Name string
	Err  error
}

// Preflight verifies the tools and inventory before a run: terraform init
// and validate, a syntax check of every OS profile playbook and the presence
// of every unit in the Ansible inventory. With check mode configured, each
// unit's playbook is also run with --check once its host is known. Every
// check runs; failures do not stop later checks unless terraform init fails.
func (p *Pipeline) Preflight(ctx context.Context) []Check {
	var checks []Check
	add := func(name string, err error) {
		if err != nil {
			p.logger.Warn("Preflight check failed", zap.String("check", name), zap.Error(err))
		}
		checks = append(checks, Check{Name: name, Err: err})
	}

	initErr := p.Terraform.Init(ctx)
	add("terraform init", initErr)
	if initErr == nil {
		add("terraform validate", p.Terraform.Validate(ctx))
	}

	for _, playbook := range p.Profiles.Playbooks(p.ProfileOpts...) {
		add("syntax-check "+playbook, p.Ansible.SyntaxCheck(ctx, playbook))
	}

	hosts, err := p.Ansible.ListHosts(ctx, "all")
	if err != nil {
		add("inventory hosts", err)
		return checks
	}
	known := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		known[h] = true
	}
	var missing []error
	for _, u := range p.Plan.Units {
		if !known[u.ID] {
			missing = append(missing, fmt.Errorf("unit %q is not in inventory %s", u.ID, p.Ansible.Inventory))
		}
	}
	if len(missing) > 0 {
		add("inventory hosts", faults.New(faults.InvalidConfiguration, "inventory hosts", errors.Join(missing...)))
	} else {
		add("inventory hosts", nil)
	}

	if !p.Config.CheckMode {
		return checks
	}
	for _, u := range p.Units() {
		if !known[u.ID] {
			continue
		}
		profile, err := p.Profiles.Get(u.OSFamily, p.ProfileOpts...)
		if err != nil {
			add("check-mode "+u.ID, err)
			continue
		}
		add("check-mode "+u.ID, p.Ansible.Check(ctx, profile.Playbook, u.ID, playbookVars(profile, u)))
	}
	return checks
}

// Failed returns the checks that did not pass.
func Failed(checks []Check) []Check {
	var out []Check
	for _, c := range checks {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

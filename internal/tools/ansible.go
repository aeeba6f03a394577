// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloudshift/internal/faults"
	"cloudshift/internal/runner"
)

// Ansible runs playbooks and ad-hoc inventory queries.
type Ansible struct {
	Runner         runner.Runner
	PlaybookBinary string
	AdhocBinary    string
	Inventory      string
	Dir            string
	Timeout        time.Duration
}

func (a *Ansible) playbook(ctx context.Context, op string, args ...string) (*runner.Result, error) {
	res, err := a.Runner.Execute(ctx, a.PlaybookBinary, args, a.Dir, a.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, CheckExit(op, res)
}

// SyntaxCheck validates a playbook without contacting hosts. A syntax error
// is never retriable.
func (a *Ansible) SyntaxCheck(ctx context.Context, playbook string) error {
	res, err := a.playbook(ctx, "ansible syntax-check", "--syntax-check", "-i", a.Inventory, playbook)
	if err != nil && res != nil {
		return faults.New(faults.InvalidConfiguration, "ansible syntax-check", err)
	}
	return err
}

// Apply runs playbook against the hosts matched by limit.
func (a *Ansible) Apply(ctx context.Context, playbook, limit string, extraVars map[string]string) error {
	args := []string{"-i", a.Inventory, playbook}
	if limit != "" {
		args = append(args, "--limit", limit)
	}
	args = append(args, varArgs("-e", extraVars)...)
	_, err := a.playbook(ctx, "ansible apply", args...)
	return err
}

// Check runs playbook in check mode against the hosts matched by limit.
// Nothing is changed on the hosts.
func (a *Ansible) Check(ctx context.Context, playbook, limit string, extraVars map[string]string) error {
	args := []string{"--check", "-i", a.Inventory, playbook}
	if limit != "" {
		args = append(args, "--limit", limit)
	}
	args = append(args, varArgs("-e", extraVars)...)
	_, err := a.playbook(ctx, "ansible check", args...)
	return err
}

// ListHosts returns the inventory hosts matching pattern.
func (a *Ansible) ListHosts(ctx context.Context, pattern string) ([]string, error) {
	res, err := a.Runner.Execute(ctx, a.AdhocBinary, []string{"-i", a.Inventory, "--list-hosts", pattern}, a.Dir, a.Timeout)
	if err != nil {
		return nil, fmt.Errorf("ansible list-hosts: %w", err)
	}
	if err := CheckExit("ansible list-hosts", res); err != nil {
		return nil, err
	}
	return parseHostList(res.Stdout), nil
}

// parseHostList reads the output of --list-hosts:
//
//	hosts (2):
//	  web-server-01
//	  db-server-01
func parseHostList(out string) []string {
	var hosts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "hosts (") || strings.HasPrefix(line, "[WARNING]") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts
}

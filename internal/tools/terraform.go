// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package tools wraps the infrastructure and configuration-management tools
// invoked through a runner.Runner. Only success or failure is interpreted;
// plan diffs and playbook output are not parsed beyond error classification.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cloudshift/internal/faults"
	"cloudshift/internal/runner"
)

// Terraform runs terraform verbs against one configuration directory.
type Terraform struct {
	Runner      runner.Runner
	Binary      string
	Dir         string
	Timeout     time.Duration
	LockTimeout time.Duration
}

// State is the part of a Terraform state that identifies its version and
// the resources it manages.
type State struct {
	Serial  int64
	Lineage string
	// Addresses are the managed resource addresses, sorted.
	Addresses []string
}

type rawState struct {
	Serial    int64  `json:"serial"`
	Lineage   string `json:"lineage"`
	Resources []struct {
		Module string `json:"module"`
		Mode   string `json:"mode"`
		Type   string `json:"type"`
		Name   string `json:"name"`
	} `json:"resources"`
}

// ParseState decodes the output of `terraform state pull`. Empty input is
// the empty state of a configuration that was never applied.
func ParseState(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return State{}, nil
	}
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("decoding terraform state: %w", err)
	}
	st := State{Serial: raw.Serial, Lineage: raw.Lineage}
	for _, r := range raw.Resources {
		if r.Mode == "data" {
			continue
		}
		addr := r.Type + "." + r.Name
		if r.Module != "" {
			addr = r.Module + "." + addr
		}
		st.Addresses = append(st.Addresses, addr)
	}
	sort.Strings(st.Addresses)
	return st, nil
}

func (t *Terraform) run(ctx context.Context, verb string, args ...string) (*runner.Result, error) {
	full := append([]string{verb}, args...)
	res, err := t.Runner.Execute(ctx, t.Binary, full, t.Dir, t.Timeout)
	if err != nil {
		return nil, fmt.Errorf("terraform %s: %w", verb, err)
	}
	if err := CheckExit("terraform "+verb, res); err != nil {
		return res, err
	}
	return res, nil
}

// Init initializes providers and the backend.
func (t *Terraform) Init(ctx context.Context) error {
	_, err := t.run(ctx, "init", "-input=false", "-no-color")
	return err
}

// Validate checks the configuration. A validation failure is never retriable.
func (t *Terraform) Validate(ctx context.Context) error {
	res, err := t.run(ctx, "validate", "-no-color")
	if err != nil && res != nil {
		return faults.New(faults.InvalidConfiguration, "terraform validate", err)
	}
	return err
}

// Plan writes an execution plan to planFile.
func (t *Terraform) Plan(ctx context.Context, planFile string, vars map[string]string) error {
	args := []string{"-input=false", "-no-color", "-out=" + planFile}
	args = append(args, varArgs("-var", vars)...)
	_, err := t.run(ctx, "plan", args...)
	return err
}

// Apply applies a previously written plan.
func (t *Terraform) Apply(ctx context.Context, planFile string) error {
	args := []string{"-input=false", "-no-color", "-auto-approve"}
	if t.LockTimeout > 0 {
		args = append(args, "-lock-timeout="+t.LockTimeout.String())
	}
	args = append(args, planFile)
	_, err := t.run(ctx, "apply", args...)
	return err
}

// PlanDestroy writes a plan to planFile that destroys only the resources
// at targets.
func (t *Terraform) PlanDestroy(ctx context.Context, planFile string, targets []string) error {
	args := []string{"-destroy", "-input=false", "-no-color", "-out=" + planFile}
	for _, target := range targets {
		args = append(args, "-target="+target)
	}
	_, err := t.run(ctx, "plan", args...)
	return err
}

// StatePull returns the raw JSON state.
func (t *Terraform) StatePull(ctx context.Context) ([]byte, error) {
	res, err := t.run(ctx, "state", "pull")
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// CurrentState pulls and parses the state.
func (t *Terraform) CurrentState(ctx context.Context) (State, error) {
	data, err := t.StatePull(ctx)
	if err != nil {
		return State{}, err
	}
	return ParseState(data)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
)

// Action is the policy decision for a failed phase attempt.
type Action int

const (
	ActionFail Action = iota
	ActionRetry
)

func (a Action) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "fail"
}

// Policy maps (phase, error kind) to an action and bounds retries.
type Policy struct {
	MaxRetries           int
	MaxValidationRetries int
	BaseDelay            time.Duration

	defaults  map[faults.Kind]Action
	overrides map[Phase]map[faults.Kind]Action
}

// DefaultPolicy returns the standard retry table. Transient tool and
// control-plane failures retry; configuration, quota and credential
// failures do not. A missing resource is only retried where it may still be
// appearing.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           constants.DefaultMaxRetries,
		MaxValidationRetries: constants.DefaultMaxValidationRetries,
		BaseDelay:            constants.DefaultRetryBaseDelay,
		defaults: map[faults.Kind]Action{
			faults.ExecutionTimeout:   ActionRetry,
			faults.ServiceUnavailable: ActionRetry,
			faults.CommandFailed:      ActionRetry,
			faults.DriftUnresolved:    ActionRetry,
		},
		overrides: map[Phase]map[faults.Kind]Action{
			PhaseReplicating: {faults.ResourceNotFound: ActionRetry},
			PhaseCuttingOver: {faults.ResourceNotFound: ActionRetry},
			PhaseValidating:  {faults.ResourceNotFound: ActionRetry},
		},
	}
}

// Decide returns the action for a failure of kind in phase. Kinds not in
// the table fail.
func (p Policy) Decide(phase Phase, kind faults.Kind) Action {
	if a, ok := p.overrides[phase][kind]; ok {
		return a
	}
	if a, ok := p.defaults[kind]; ok {
		return a
	}
	return ActionFail
}

// WithRule returns a copy of p with an override for (phase, kind).
func (p Policy) WithRule(phase Phase, kind faults.Kind, a Action) Policy {
	overrides := make(map[Phase]map[faults.Kind]Action, len(p.overrides)+1)
	for ph, rules := range p.overrides {
		cp := make(map[faults.Kind]Action, len(rules))
		for k, v := range rules {
			cp[k] = v
		}
		overrides[ph] = cp
	}
	if overrides[phase] == nil {
		overrides[phase] = map[faults.Kind]Action{}
	}
	overrides[phase][kind] = a
	p.overrides = overrides
	return p
}

// ParseRule parses a policy override written as phase:kind=action, for
// example "Provisioning:ResourceNotFound=retry". Only work phases can be
// overridden. Names are matched without regard to case.
func ParseRule(s string) (Phase, faults.Kind, Action, error) {
	target, verb, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return "", "", ActionFail, fmt.Errorf("retry rule %q: want phase:kind=retry|fail", s)
	}
	phaseName, kindName, ok := strings.Cut(target, ":")
	if !ok {
		return "", "", ActionFail, fmt.Errorf("retry rule %q: want phase:kind=retry|fail", s)
	}

	var phase Phase
	for _, p := range WorkPhases {
		if strings.EqualFold(string(p), strings.TrimSpace(phaseName)) {
			phase = p
		}
	}
	if phase == "" {
		return "", "", ActionFail, fmt.Errorf("retry rule %q: unknown phase %q", s, phaseName)
	}
	kind, ok := faults.ParseKind(kindName)
	if !ok {
		return "", "", ActionFail, fmt.Errorf("retry rule %q: unknown error kind %q", s, kindName)
	}

	switch strings.ToLower(strings.TrimSpace(verb)) {
	case "retry":
		return phase, kind, ActionRetry, nil
	case "fail":
		return phase, kind, ActionFail, nil
	}
	return "", "", ActionFail, fmt.Errorf("retry rule %q: action must be retry or fail", s)
}

// Limit returns the retry budget of phase.
func (p Policy) Limit(phase Phase) int {
	if phase == PhaseValidating {
		return p.MaxValidationRetries
	}
	return p.MaxRetries
}

// Delay returns the wait before retry n (1-based): BaseDelay * 2^(n-1).
// There is no cap, so each delay is strictly longer than the previous one.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	b := wait.Backoff{Duration: p.BaseDelay, Factor: 2, Steps: n}
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.Step()
	}
	return d
}

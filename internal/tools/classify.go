// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"strings"

	"cloudshift/internal/faults"
	"cloudshift/internal/runner"
)

// stderrPatterns maps lower-cased output fragments to failure kinds. Order
// matters: the first matching group wins.
var stderrPatterns = []struct {
	kind     faults.Kind
	patterns []string
}{
	{faults.QuotaExceeded, []string{"quotaexceeded", "quota exceeded", "exceeding approved", "operation could not be completed as it results in exceeding"}},
	{faults.AuthFailure, []string{"authorizationfailed", "authenticationfailed", "invalidauthenticationtoken", "permission denied (publickey", "unauthorized", "status code: 401", "status code: 403"}},
	{faults.InvalidConfiguration, []string{"invalid configuration", "unsupported argument", "syntax error", "error: invalid", "could not be found or access denied", "missing required argument", "error parsing"}},
	{faults.ServiceUnavailable, []string{"toomanyrequests", "status code: 429", "rate limit", "unreachable!", "connection timed out", "timed out", "serviceunavailable", "status code: 503", "status code: 502", "connection reset"}},
}

// classifyOutput returns the failure kind implied by a tool's output.
func classifyOutput(stdout, stderr string) faults.Kind {
	text := strings.ToLower(stderr + "\n" + stdout)
	for _, group := range stderrPatterns {
		for _, p := range group.patterns {
			if strings.Contains(text, p) {
				return group.kind
			}
		}
	}
	return faults.CommandFailed
}

// CheckExit converts a non-zero exit into an error classified from the
// process output.
func CheckExit(op string, res *runner.Result) error {
	if res.Succeeded() {
		return nil
	}
	kind := classifyOutput(res.Stdout, res.Stderr)
	return faults.Newf(kind, op, "exit code %d: %s", res.ExitCode, lastLine(res.Stderr, res.Stdout))
}

// lastLine returns the last non-empty line of the first non-empty text.
func lastLine(texts ...string) string {
	for _, t := range texts {
		lines := strings.Split(strings.TrimSpace(t), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if l := strings.TrimSpace(lines[i]); l != "" {
				return l
			}
		}
	}
	return "no output"
}

func varArgs(flag string, vars map[string]string) []string {
	keys := sortedKeys(vars)
	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, flag, fmt.Sprintf("%s=%s", k, vars[k]))
	}
	return args
}

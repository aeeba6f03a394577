// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"cloudshift/internal/runner"
)

// Call is one recorded invocation of a FakeRunner.
type Call struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// CommandLine joins the name and arguments with single spaces.
func (c Call) CommandLine() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is a scripted reply for a FakeRunner rule.
type Response struct {
	Result runner.Result
	Err    error
	Delay  time.Duration
}

// Stdout returns a successful response with the given output.
func Stdout(out string) Response {
	return Response{Result: runner.Result{Stdout: out}}
}

// Exit returns a response with a non-zero exit code and stderr.
func Exit(code int, stderr string) Response {
	return Response{Result: runner.Result{ExitCode: code, Stderr: stderr}}
}

// Fail returns a response whose Execute call fails with err.
func Fail(err error) Response {
	return Response{Err: err}
}

type rule struct {
	match     string
	responses []Response
}

// FakeRunner is a scripted runner.Runner. Rules match on a substring of the
// command line; each matching call consumes the next response and the last
// response repeats. Unmatched calls succeed with empty output.
type FakeRunner struct {
	mu    sync.Mutex
	rules []*rule
	calls []Call
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On adds a rule. Earlier rules take precedence.
func (f *FakeRunner) On(match string, responses ...Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, responses: responses})
	return f
}

// Execute implements runner.Runner.
func (f *FakeRunner) Execute(ctx context.Context, name string, args []string, dir string, timeout time.Duration) (*runner.Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...), Dir: dir, Timeout: timeout}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	resp := Response{}
	line := call.CommandLine()
	for _, r := range f.rules {
		if !strings.Contains(line, r.match) || len(r.responses) == 0 {
			continue
		}
		resp = r.responses[0]
		if len(r.responses) > 1 {
			r.responses = r.responses[1:]
		}
		break
	}
	f.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	res := resp.Result
	if res.Duration == 0 {
		res.Duration = resp.Delay
	}
	return &res, nil
}

// Calls returns a copy of all recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns the number of calls whose command line contains match.
func (f *FakeRunner) Count(match string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.CommandLine(), match) {
			n++
		}
	}
	return n
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package runner executes external provisioning and configuration tools as
// subprocesses with captured output, a timeout and exit-code reporting.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cloudshift/internal/faults"
)

// Result is the outcome of one finished process. A non-zero ExitCode is a
// normal result, not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the process exited with code 0.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner runs one external command to completion.
type Runner interface {
	Execute(ctx context.Context, name string, args []string, dir string, timeout time.Duration) (*Result, error)
}

// CommandObserver receives the duration and outcome of every invocation.
type CommandObserver interface {
	ObserveCommand(tool, outcome string, d time.Duration)
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets the logger used for per-invocation debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *ExecRunner) { r.logger = l }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) { r.env = append(r.env, env...) }
}

// WithObserver registers an observer for command durations.
func WithObserver(o CommandObserver) Option {
	return func(r *ExecRunner) { r.observer = o }
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger   *zap.Logger
	env      []string
	observer CommandObserver
}

// New returns an ExecRunner.
func New(opts ...Option) *ExecRunner {
	r := &ExecRunner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// waitDelay is the grace period for output pipes held open by grandchildren
// after a timeout kill.
const waitDelay = 500 * time.Millisecond

// Outcome labels reported to the CommandObserver.
const (
	OutcomeSuccess = "success"
	OutcomeNonZero = "nonzero"
	OutcomeTimeout = "timeout"
	OutcomeFailure = "failure"
)

// Execute runs name with args in dir. The process is detached from ctx
// cancellation and is only killed when timeout elapses, so a caller that
// cancels still observes the result of the invocation in flight. The tool
// runs in its own process group and the whole group is killed at the
// timeout. A timeout of zero means no limit.
func (r *ExecRunner) Execute(ctx context.Context, name string, args []string, dir string, timeout time.Duration) (*Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	op := fmt.Sprintf("exec %s", name)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	tool := filepath.Base(name)

	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.observe(tool, OutcomeTimeout, duration)
		r.logger.Warn("Command timed out",
			zap.String("command", name),
			zap.Strings("args", args),
			zap.Duration("timeout", timeout))
		return nil, faults.Newf(faults.ExecutionTimeout, op, "exceeded %s", timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.observe(tool, OutcomeFailure, duration)
			return nil, faults.New(faults.ExecutionFailure, op, err)
		}
	}

	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	outcome := OutcomeSuccess
	if res.ExitCode != 0 {
		outcome = OutcomeNonZero
	}
	r.observe(tool, outcome, duration)
	r.logger.Debug("Command finished",
		zap.String("command", name),
		zap.Strings("args", args),
		zap.String("dir", dir),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", duration))
	return res, nil
}

func (r *ExecRunner) observe(tool, outcome string, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveCommand(tool, outcome, d)
	}
}

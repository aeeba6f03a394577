// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"bytes"
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	kwait "k8s.io/apimachinery/pkg/util/wait"

	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/runner"
	"cloudshift/internal/tools"
)

// CommandConfig holds the command templates of a Command platform. Each
// template is rendered against the unit ({{.ID}}, {{.OSFamily}},
// {{.SizeClass}}, {{.SourceEnvironment}}, {{.SourceImage}}) and split with
// POSIX shell quoting rules into a binary and its arguments. No shell runs
// the result.
type CommandConfig struct {
	Replicate string
	// Status, when set, is polled after Replicate until it prints a
	// completed state.
	Status  string
	Cutover string
	// Revert is optional; an empty template makes revert a no-op.
	Revert       string
	Dir          string
	Timeout      time.Duration
	PollInterval time.Duration
	ReadyTimeout time.Duration
}

// Replication states printed by the status command.
var (
	doneStates   = map[string]bool{"completed": true, "ready": true, "succeeded": true}
	failedStates = map[string]bool{"failed": true, "error": true}
)

// Command is a Platform driven by an external migration tool.
type Command struct {
	runner    runner.Runner
	cfg       CommandConfig
	templates map[string]*template.Template
	logger    *zap.Logger
}

// NewCommand parses the command templates. Replicate and Cutover are
// required.
func NewCommand(r runner.Runner, cfg CommandConfig, opts ...Option) (*Command, error) {
	if cfg.Replicate == "" || cfg.Cutover == "" {
		return nil, faults.Newf(faults.InvalidConfiguration, "command platform", "replicate and cutover commands are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = constants.DefaultReadyTimeout
	}
	p := &Command{runner: r, cfg: cfg, templates: map[string]*template.Template{}, logger: resolve(opts).logger}
	for name, text := range map[string]string{
		"replicate": cfg.Replicate,
		"status":    cfg.Status,
		"cutover":   cfg.Cutover,
		"revert":    cfg.Revert,
	} {
		if text == "" {
			continue
		}
		t, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, faults.New(faults.InvalidConfiguration, name+" command", err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// Replicate starts replication and, with a status command, waits for it.
func (p *Command) Replicate(ctx context.Context, u *migration.Unit) error {
	if _, err := p.run(ctx, "replicate", u); err != nil {
		return wrap("replicate", u.ID, err)
	}
	if _, ok := p.templates["status"]; !ok {
		return nil
	}
	return wrap("replicate", u.ID, p.waitReplicated(ctx, u))
}

// Cutover switches the unit to the target.
func (p *Command) Cutover(ctx context.Context, u *migration.Unit) error {
	_, err := p.run(ctx, "cutover", u)
	return wrap("cutover", u.ID, err)
}

// Revert undoes replication and cutover for the unit.
func (p *Command) Revert(ctx context.Context, u *migration.Unit) error {
	if _, ok := p.templates["revert"]; !ok {
		return nil
	}
	_, err := p.run(ctx, "revert", u)
	return wrap("revert", u.ID, err)
}

func (p *Command) waitReplicated(ctx context.Context, u *migration.Unit) error {
	var last string
	err := kwait.PollUntilContextTimeout(ctx, p.cfg.PollInterval, p.cfg.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		res, err := p.run(ctx, "status", u)
		if err != nil {
			return false, err
		}
		last = strings.ToLower(strings.TrimSpace(res.Stdout))
		if i := strings.LastIndex(last, "\n"); i >= 0 {
			last = strings.TrimSpace(last[i+1:])
		}
		switch {
		case doneStates[last]:
			return true, nil
		case failedStates[last]:
			return false, faults.Newf(faults.CommandFailed, "replication status", "replication reported %q", last)
		}
		p.logger.Debug("replication in progress", zap.String("unit", u.ID), zap.String("state", last))
		return false, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case kwait.Interrupted(err):
		return faults.Newf(faults.ExecutionTimeout, "replication status",
			"not completed after %s (last state %q)", p.cfg.ReadyTimeout, last)
	}
	return err
}

func (p *Command) run(ctx context.Context, name string, u *migration.Unit) (*runner.Result, error) {
	argv, err := p.render(name, u)
	if err != nil {
		return nil, err
	}
	res, err := p.runner.Execute(ctx, argv[0], argv[1:], p.cfg.Dir, p.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return res, tools.CheckExit(name+" command", res)
}

func (p *Command) render(name string, u *migration.Unit) ([]string, error) {
	var buf bytes.Buffer
	data := map[string]string{
		"ID":                u.ID,
		"OSFamily":          string(u.OSFamily),
		"SizeClass":         u.SizeClass,
		"SourceEnvironment": u.SourceEnvironment,
		"SourceImage":       u.SourceImage,
	}
	if err := p.templates[name].Execute(&buf, data); err != nil {
		return nil, faults.New(faults.InvalidConfiguration, name+" command", err)
	}
	argv, err := shellquote.Split(buf.String())
	if err != nil {
		return nil, faults.New(faults.InvalidConfiguration, name+" command", err)
	}
	if len(argv) == 0 {
		return nil, faults.Newf(faults.InvalidConfiguration, name+" command", "rendered to an empty command")
	}
	return argv, nil
}

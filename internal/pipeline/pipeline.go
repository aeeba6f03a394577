// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package pipeline assembles a migration run from configuration and a plan:
// the tool wrappers, the inventory and its observer, the drift detector, the
// target platform, the orchestrator and the wave scheduler.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/checkpoint"
	"cloudshift/internal/config"
	"cloudshift/internal/constants"
	"cloudshift/internal/controlplane"
	"cloudshift/internal/drift"
	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/migration"
	"cloudshift/internal/osprofile"
	"cloudshift/internal/plan"
	"cloudshift/internal/platform"
	"cloudshift/internal/runner"
	"cloudshift/internal/tools"
	"cloudshift/internal/wave"
)

// Recorder receives every pipeline event: phase changes, wave progress and
// drift checks. audit.Recorder and metrics.Metrics implement it.
type Recorder interface {
	migration.Recorder
	wave.Recorder
	DriftChecked(ctx context.Context, r drift.Report)
}

// Deps are the external handles a pipeline is built on. Nil fields are
// created from configuration where possible.
type Deps struct {
	Runner       runner.Runner
	ControlPlane controlplane.Client
	// Kube is required for the kubevirt platform.
	Kube      client.Client
	Store     checkpoint.Store
	Recorders []Recorder
	Profiles  osprofile.Registry
	RunID     string
	Logger    *zap.Logger
}

// Pipeline is a fully wired migration run.
type Pipeline struct {
	Config       *config.Config
	Plan         *plan.Plan
	Terraform    *tools.Terraform
	Ansible      *tools.Ansible
	Inventory    *inventory.Inventory
	Detector     *drift.Detector
	Orchestrator *migration.Orchestrator
	Scheduler    *wave.Scheduler
	Profiles     osprofile.Registry
	ProfileOpts  []osprofile.Option

	checker *recordingChecker
	runID   string
	logger  *zap.Logger
}

// Build wires a pipeline for p. The plan's resources are declared into the
// inventory before Build returns.
func Build(cfg *config.Config, p *plan.Plan, deps Deps) (*Pipeline, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := deps.Runner
	if r == nil {
		r = runner.New(runner.WithLogger(log.Named("runner")))
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = osprofile.DefaultRegistry()
	}

	pl := &Pipeline{
		Config:   cfg,
		Plan:     p,
		Profiles: profiles,
		ProfileOpts: []osprofile.Option{
			osprofile.WithPlaybookDir(cfg.PlaybookDir),
			osprofile.WithSSHCredentials(cfg.SSHUser, cfg.SSHAuthorizedKeys),
		},
		Terraform: &tools.Terraform{
			Runner:      r,
			Binary:      valueOr(cfg.TerraformBinary, constants.DefaultTerraformBinary),
			Dir:         cfg.TerraformDir,
			Timeout:     cfg.CommandTimeout,
			LockTimeout: cfg.LockTimeout,
		},
		Ansible: &tools.Ansible{
			Runner:         r,
			PlaybookBinary: valueOr(cfg.AnsiblePlaybookBinary, constants.DefaultAnsiblePlaybookBinary),
			AdhocBinary:    valueOr(cfg.AnsibleBinary, constants.DefaultAnsibleBinary),
			Inventory:      valueOr(cfg.AnsibleInventory, constants.DefaultAnsibleInventory),
			Timeout:        cfg.CommandTimeout,
		},
		runID:  deps.RunID,
		logger: log,
	}

	cp := deps.ControlPlane
	if cp == nil {
		var err error
		if cp, err = NewControlPlane(cfg, log); err != nil {
			return nil, err
		}
	}

	observer, err := NewObserver(cfg.Observer, pl.Terraform, cp)
	if err != nil {
		return nil, err
	}
	pl.Inventory = inventory.New(observer, inventory.WithLogger(log.Named("inventory")))
	if err := p.Declare(pl.Inventory); err != nil {
		return nil, err
	}
	pl.Detector = drift.NewDetector(pl.Inventory,
		drift.WithLogger(log.Named("drift")),
		drift.WithConcurrency(cfg.MaxConcurrency))
	pl.checker = &recordingChecker{detector: pl.Detector, recorders: deps.Recorders}

	provisioner, err := pl.provisioner(cp)
	if err != nil {
		return nil, err
	}
	target, err := pl.platform(r, deps.Kube)
	if err != nil {
		return nil, err
	}

	state := WaveState{Inventory: pl.Inventory, Logger: log.Named("checkpoint")}
	switch prov := provisioner.(type) {
	case *ControlPlaneProvisioner:
		state.Client = prov.Client
	case *TerraformProvisioner:
		state.Terraform = prov
	}

	policy := migration.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.MaxValidationRetries = cfg.MaxValidationRetries
	policy.BaseDelay = cfg.RetryBaseDelay
	for _, rule := range cfg.RetryRules {
		phase, kind, action, err := migration.ParseRule(rule)
		if err != nil {
			return nil, faults.New(faults.InvalidConfiguration, "retry rules", err)
		}
		policy = policy.WithRule(phase, kind, action)
	}

	orchOpts := []migration.Option{migration.WithLogger(log.Named("orchestrator"))}
	schedOpts := []wave.Option{
		wave.WithLogger(log.Named("scheduler")),
		wave.WithWaveSize(cfg.WaveSize),
		wave.WithMaxConcurrency(cfg.MaxConcurrency),
		wave.WithIndependentWaves(p.IndependentWaves...),
		wave.WithSnapshotter(state),
		wave.WithRestorer(state),
		wave.WithRunID(deps.RunID),
	}
	for _, rec := range deps.Recorders {
		orchOpts = append(orchOpts, migration.WithRecorder(rec))
		schedOpts = append(schedOpts, wave.WithRecorder(rec))
	}

	pl.Orchestrator, err = migration.NewOrchestrator(migration.Handlers{
		Provisioner: provisioner,
		Platform:    target,
		Configurator: &AnsibleConfigurator{
			Ansible:     pl.Ansible,
			Profiles:    profiles,
			ProfileOpts: pl.ProfileOpts,
		},
		Checker: pl.checker,
	}, policy, orchOpts...)
	if err != nil {
		return nil, faults.New(faults.InvalidConfiguration, "build orchestrator", err)
	}

	store := deps.Store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	pl.Scheduler = wave.NewScheduler(pl.Orchestrator, store, schedOpts...)
	return pl, nil
}

// Units returns fresh Pending units for the plan.
func (p *Pipeline) Units() []*migration.Unit {
	return p.Plan.MigrationUnits()
}

// Waves partitions the plan's units without running them.
func (p *Pipeline) Waves() ([]*wave.Wave, error) {
	return Waves(p.Config, p.Plan)
}

// Waves partitions the units of pl the way a run with cfg would. It needs
// no tools or cloud access.
func Waves(cfg *config.Config, pl *plan.Plan) ([]*wave.Wave, error) {
	waves, err := wave.Schedule(pl.MigrationUnits(), cfg.WaveSize, cfg.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	independent := map[int]bool{}
	for _, i := range pl.IndependentWaves {
		independent[i] = true
	}
	for _, w := range waves {
		w.Independent = independent[w.Index]
	}
	return waves, nil
}

// Run migrates every unit of the plan.
func (p *Pipeline) Run(ctx context.Context) (wave.Report, error) {
	units := p.Units()
	p.logger.Info("Starting migration",
		zap.Int("units", len(units)),
		zap.Int("waveSize", p.Config.WaveSize),
		zap.Int("maxConcurrency", p.Config.MaxConcurrency))
	return p.Scheduler.Run(ctx, units)
}

// CheckDrift reconciles every declared resource and records each report.
func (p *Pipeline) CheckDrift(ctx context.Context) []drift.Result {
	results := p.Detector.ReconcileAll(ctx)
	for _, res := range results {
		if res.Err == nil {
			p.checker.record(ctx, res.Report)
		}
	}
	return results
}

func (p *Pipeline) provisioner(cp controlplane.Client) (migration.Provisioner, error) {
	switch p.Config.Provisioner {
	case constants.ProvisionerControlPlane:
		if cp == nil {
			return nil, faults.Newf(faults.InvalidConfiguration, "provisioner", "controlplane provisioner requires a control-plane client")
		}
		return &ControlPlaneProvisioner{Client: cp, Inventory: p.Inventory, Logger: p.logger.Named("provisioner")}, nil
	case constants.ProvisionerTerraform, "":
		planFile := p.Config.PlanFile
		if planFile == "" {
			planFile = constants.DefaultPlanFile
		}
		return &TerraformProvisioner{
			Terraform:   p.Terraform,
			PlanFile:    planFile,
			Environment: p.Plan.Environment,
			Location:    p.Plan.Location,
			Logger:      p.logger.Named("provisioner"),
		}, nil
	}
	return nil, faults.Newf(faults.UnsupportedConfiguration, "provisioner", "unknown provisioner %q", p.Config.Provisioner)
}

func (p *Pipeline) platform(r runner.Runner, kube client.Client) (migration.Platform, error) {
	opts := []platform.Option{platform.WithLogger(p.logger.Named("platform"))}
	switch p.Config.Platform {
	case constants.PlatformKubeVirt:
		if kube == nil {
			return nil, faults.Newf(faults.InvalidConfiguration, "platform", "kubevirt platform requires a cluster connection")
		}
		return platform.NewKubeVirt(kube, platform.KubeVirtConfig{
			Namespace:    p.Config.Namespace,
			ReadyTimeout: p.Config.ReadyTimeout,
			Profiles:     p.Profiles,
			ProfileOpts:  p.ProfileOpts,
			RunID:        p.runID,
		}, opts...), nil
	case constants.PlatformCommand, "":
		return platform.NewCommand(r, platform.CommandConfig{
			Replicate:    p.Config.ReplicateCommand,
			Status:       p.Config.ReplicationStatusCommand,
			Cutover:      p.Config.CutoverCommand,
			Revert:       p.Config.RevertCommand,
			Timeout:      p.Config.CommandTimeout,
			ReadyTimeout: p.Config.ReadyTimeout,
		}, opts...)
	}
	return nil, faults.Newf(faults.UnsupportedConfiguration, "platform", "unknown platform %q", p.Config.Platform)
}

// NewControlPlane returns the control-plane client the configuration needs,
// or nil when neither the provisioner nor the observer uses one.
func NewControlPlane(cfg *config.Config, log *zap.Logger) (controlplane.Client, error) {
	switch {
	case cfg.Observer == constants.ObserverMemory:
		return controlplane.NewMemoryClient(), nil
	case cfg.Provisioner == constants.ProvisionerControlPlane || cfg.Observer == constants.ObserverAzure:
		c, err := controlplane.NewAzureClient(controlplane.AzureConfig{
			SubscriptionID: cfg.SubscriptionID,
			Logger:         log.Named("controlplane"),
		})
		if err != nil {
			return nil, faults.New(faults.AuthFailure, "azure control plane", err)
		}
		return c, nil
	}
	return nil, nil
}

// NewObserver returns the inventory observer named by kind.
func NewObserver(kind string, tf *tools.Terraform, cp controlplane.Client) (inventory.Observer, error) {
	switch kind {
	case constants.ObserverTerraform, "":
		return &inventory.StateObserver{Source: tf}, nil
	case constants.ObserverAzure, constants.ObserverMemory:
		if cp == nil {
			return nil, faults.Newf(faults.InvalidConfiguration, "observer", "%s observer requires a control-plane client", kind)
		}
		return &inventory.ControlPlaneObserver{Client: cp}, nil
	}
	return nil, faults.Newf(faults.UnsupportedConfiguration, "observer", "unknown observer %q", kind)
}

// recordingChecker reconciles through the detector and reports every check
// to the recorders.
type recordingChecker struct {
	detector  *drift.Detector
	recorders []Recorder
}

func (c *recordingChecker) Reconcile(ctx context.Context, name string) (drift.Report, error) {
	report, err := c.detector.Reconcile(ctx, name)
	if err == nil {
		c.record(ctx, report)
	}
	return report, err
}

func (c *recordingChecker) record(ctx context.Context, r drift.Report) {
	for _, rec := range c.recorders {
		rec.DriftChecked(context.WithoutCancel(ctx), r)
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

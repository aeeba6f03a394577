// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/audit"
	"cloudshift/internal/checkpoint"
	"cloudshift/internal/cleanup"
	"cloudshift/internal/cluster"
	"cloudshift/internal/config"
	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/metrics"
	"cloudshift/internal/pipeline"
	"cloudshift/internal/plan"
	"cloudshift/internal/runner"
	"cloudshift/internal/wave"
)

// Replaced in tests.
var (
	connect   = cluster.Connect
	newRunner = func(opts ...runner.Option) runner.Runner { return runner.New(opts...) }
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudshift",
		Short: "Migrate on-premises VMs to the cloud in waves",
		Long: `Cloudshift migrates virtual machines in ordered waves. Every unit moves
through provisioning, replication, cutover, configuration and validation, and
is rolled back when a phase fails for good. Declared infrastructure is checked
for drift before a unit is marked complete.`,
		SilenceUsage: true,
	}

	config.BindPersistentFlags(rootCmd)
	rootCmd.AddCommand(newRunCmd(), newValidateCmd(), newDriftCmd(), newCleanupCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every unit of a plan",
		Long: `Partition the plan's units into waves and migrate them. A wave is
checkpointed before it starts and restored when any of its units fails; later
waves are skipped unless the plan marks them independent.`,
		RunE: runE,
	}
	config.BindFlags(cmd)
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the plan, tools and inventory without migrating",
		RunE:  validateE,
	}
	config.BindFlags(cmd)
	return cmd
}

func newDriftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare declared resources with what exists",
		Long: `Observe every resource the plan declares and report the attributes that
differ from the declaration. Drift is reported, never remediated.`,
		RunE: driftE,
	}
	config.BindFlags(cmd)
	return cmd
}

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete the KubeVirt objects created by migrations",
		Long:  `Delete the VMs, DataVolumes and cloud-init secrets cloudshift created, and optionally the namespace.`,
		RunE:  cleanupE,
	}

	f := cmd.Flags()
	f.Bool("delete-namespace", false, "Also delete the namespace")
	f.String("unit", "", "Only remove the objects of this unit")
	f.Bool("audit", true, "Record the cleanup in the audit database")
	f.String("audit-db", "", "Audit database path")
	return cmd
}

// runE is the migration flow for the "run" subcommand.
func runE(cmd *cobra.Command, _ []string) error {
	cfg, p, err := loadPlan(cmd)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		return printDryRun(cmd, cfg, p)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := startExecution(ctx, "run", cfg, logger)
	if err != nil {
		return err
	}
	report, err := migrate(ctx, cmd, cfg, p, exec, logger)
	if err == nil {
		if cerr := exec.auditor.RecordRunCounts(context.WithoutCancel(ctx), exec.id, audit.RunCounts{
			Units:      len(report.Units),
			Waves:      len(report.Waves),
			Completed:  report.Completed,
			Failed:     report.Failed,
			RolledBack: report.RolledBack,
			Skipped:    report.Skipped,
		}); cerr != nil {
			logger.Warn("Recording run counts failed", zap.Error(cerr))
		}
		printSummary(cmd, cfg, exec.runID, report)
		if report.Status != wave.StatusCompleted {
			err = fmt.Errorf("migration incomplete: %d of %d units completed", report.Completed, len(report.Units))
		}
	}
	exec.finish(ctx, err)
	return err
}

// migrate wires the pipeline for one run and executes it.
func migrate(ctx context.Context, cmd *cobra.Command, cfg *config.Config, p *plan.Plan, exec *execution, logger *zap.Logger) (wave.Report, error) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	if cfg.MetricsAddress != "" {
		srv := metrics.NewServer(cfg.MetricsAddress, reg, logger.Named("metrics"))
		if err := srv.Start(); err != nil {
			return wave.Report{}, fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	deps := pipeline.Deps{
		Runner: newRunner(runner.WithLogger(logger.Named("runner")), runner.WithObserver(m)),
		Recorders: []pipeline.Recorder{
			audit.NewRecorder(exec.auditor, exec.id, logger.Named("audit")),
			m,
		},
		RunID:  exec.runID,
		Logger: logger,
	}
	if db, ok := exec.auditor.(*audit.SQLiteAuditor); ok {
		store, err := checkpoint.NewSQLiteStore(ctx, db.DB(), exec.runID)
		if err != nil {
			return wave.Report{}, fmt.Errorf("opening checkpoint store: %w", err)
		}
		deps.Store = store
	}
	if cfg.Platform == constants.PlatformKubeVirt {
		c, err := connectKubeVirt(ctx, cfg)
		if err != nil {
			return wave.Report{}, err
		}
		deps.Kube = c
	}

	pl, err := pipeline.Build(cfg, p, deps)
	if err != nil {
		return wave.Report{}, fmt.Errorf("building pipeline: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: migrating %d units\n", exec.runID, len(p.Units))
	return pl.Run(ctx)
}

// validateE runs the preflight checks for the "validate" subcommand.
func validateE(cmd *cobra.Command, _ []string) error {
	cfg, p, err := loadPlan(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pl, err := pipeline.Build(cfg, p, pipeline.Deps{
		Runner: newRunner(runner.WithLogger(logger.Named("runner"))),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	checks := pl.Preflight(cmd.Context())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan %s: %d units, %d resources\n", cfg.PlanPath, len(p.Units), len(p.AllResources()))
	for _, c := range checks {
		if c.Err != nil {
			fmt.Fprintf(out, "  FAIL  %s: %v\n", c.Name, c.Err)
			continue
		}
		fmt.Fprintf(out, "  ok    %s\n", c.Name)
	}
	if failed := pipeline.Failed(checks); len(failed) > 0 {
		return fmt.Errorf("%d of %d preflight checks failed", len(failed), len(checks))
	}
	return nil
}

// driftE reports drift for the "drift" subcommand.
func driftE(cmd *cobra.Command, _ []string) error {
	cfg, p, err := loadPlan(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	exec, err := startExecution(ctx, "drift", cfg, logger)
	if err != nil {
		return err
	}
	err = checkDrift(ctx, cmd, cfg, p, exec, logger)
	exec.finish(ctx, err)
	return err
}

func checkDrift(ctx context.Context, cmd *cobra.Command, cfg *config.Config, p *plan.Plan, exec *execution, logger *zap.Logger) error {
	pl, err := pipeline.Build(cfg, p, pipeline.Deps{
		Runner:    newRunner(runner.WithLogger(logger.Named("runner"))),
		Recorders: []pipeline.Recorder{audit.NewRecorder(exec.auditor, exec.id, logger.Named("audit"))},
		RunID:     exec.runID,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	results := pl.CheckDrift(ctx)
	out := cmd.OutOrStdout()
	var errs []error
	drifted := 0
	for _, res := range results {
		r := res.Report
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "  ERROR    %s: %v\n", r.Name, res.Err)
			errs = append(errs, res.Err)
		case r.Missing:
			fmt.Fprintf(out, "  MISSING  %s (%s)\n", r.Name, r.Kind)
			drifted++
		case r.HasDrift:
			fmt.Fprintf(out, "  DRIFT    %s (%s)\n", r.Name, r.Kind)
			for _, d := range r.Diffs {
				fmt.Fprintf(out, "           %s: declared %q, observed %q\n", d.Key, d.Declared, d.Observed)
			}
			drifted++
		default:
			fmt.Fprintf(out, "  ok       %s (%s)\n", r.Name, r.Kind)
		}
	}
	if drifted > 0 {
		errs = append(errs, faults.Newf(faults.DriftUnresolved, "drift", "%d of %d resources drifted", drifted, len(results)))
	}
	return errors.Join(errs...)
}

// cleanupE is the cleanup flow for the "cleanup" subcommand.
func cleanupE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deleteNS, _ := cmd.Flags().GetBool("delete-namespace")
	unitID, _ := cmd.Flags().GetString("unit")

	c, err := connect(cfg.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("connecting to cluster: %w", err)
	}

	ctx := cmd.Context()
	exec, err := startExecution(ctx, "cleanup", cfg, logger)
	if err != nil {
		return err
	}

	result, err := cleanup.Managed(ctx, c, cleanup.Scope{
		Namespace:       cfg.Namespace,
		UnitID:          unitID,
		DeleteNamespace: deleteNS,
	})
	if err != nil {
		err = fmt.Errorf("cleanup failed: %w", err)
		exec.finish(ctx, err)
		return err
	}

	if lerr := exec.auditor.LinkCleanupToRuns(ctx, exec.id, result.RunIDs); lerr != nil {
		logger.Warn("Linking cleanup to runs failed", zap.Error(lerr))
	}
	if cerr := exec.auditor.RecordCleanupCounts(ctx, exec.id, audit.CleanupCounts{
		VMsDeleted:         result.VMsDeleted,
		DataVolumesDeleted: result.DataVolumesDeleted,
		SecretsDeleted:     result.SecretsDeleted,
		NamespaceDeleted:   result.NamespaceDeleted,
	}); cerr != nil {
		logger.Warn("Recording cleanup counts failed", zap.Error(cerr))
	}
	exec.finish(ctx, nil)

	fmt.Fprintf(cmd.OutOrStdout(), "Cleanup complete: %d VMs, %d DataVolumes, %d secrets deleted",
		result.VMsDeleted, result.DataVolumesDeleted, result.SecretsDeleted)
	if result.NamespaceDeleted {
		fmt.Fprintf(cmd.OutOrStdout(), ", namespace deleted")
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if len(result.Errors) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warnings (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
	}
	return nil
}

// loadPlan loads the configuration and the plan it names.
func loadPlan(cmd *cobra.Command) (*config.Config, *plan.Plan, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.PlanPath == "" {
		return nil, nil, faults.Newf(faults.InvalidConfiguration, "load plan", "--plan is required")
	}
	p, err := plan.Load(cfg.PlanPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading plan: %w", err)
	}
	return cfg, p, nil
}

func connectKubeVirt(ctx context.Context, cfg *config.Config) (client.Client, error) {
	c, err := connect(cfg.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to cluster: %w", err)
	}
	if err := cluster.CheckKubeVirt(ctx, c, cfg.Namespace); err != nil {
		return nil, err
	}
	return c, nil
}

// newLogger builds a production logger, or a development logger when
// verbose. Logs go to stderr.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Verbose {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, faults.New(faults.InvalidConfiguration, "log level", err)
		}
		zc.Level = level
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// execution is one audited command invocation.
type execution struct {
	auditor audit.Auditor
	id      int64
	runID   string
	logger  *zap.Logger
}

func startExecution(ctx context.Context, command string, cfg *config.Config, logger *zap.Logger) (*execution, error) {
	var a audit.Auditor = audit.NoOpAuditor{}
	if cfg.AuditEnabled {
		sqlite, err := audit.NewSQLiteAuditor(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("opening audit database: %w", err)
		}
		a = sqlite
	}
	id, runID, err := a.StartExecution(ctx, command, cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("starting audit record: %w", err)
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	return &execution{auditor: a, id: id, runID: runID, logger: logger}, nil
}

// finish completes the audit record with the outcome of err and closes the
// auditor.
func (e *execution) finish(ctx context.Context, err error) {
	status, summary := "completed", ""
	if err != nil {
		status, summary = "failed", err.Error()
	}
	if cerr := e.auditor.CompleteExecution(context.WithoutCancel(ctx), e.id, status, summary); cerr != nil {
		e.logger.Warn("Completing audit record failed", zap.Error(cerr))
	}
	if cerr := e.auditor.Close(); cerr != nil {
		e.logger.Warn("Closing audit database failed", zap.Error(cerr))
	}
}

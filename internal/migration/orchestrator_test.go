// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package migration_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/drift"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/testutil"
)

type transition struct {
	From, To migration.Phase
}

type eventRecorder struct {
	mu          sync.Mutex
	transitions []transition
	results     []migration.PhaseResult
	retries     []time.Duration
}

func (r *eventRecorder) PhaseChanged(_ context.Context, _ *migration.Unit, from, to migration.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{from, to})
}

func (r *eventRecorder) PhaseFinished(_ context.Context, _ *migration.Unit, res migration.PhaseResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *eventRecorder) RetryScheduled(_ context.Context, _ *migration.Unit, _ migration.Phase, _ int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, d)
}

func phasesOf(history []migration.PhaseResult) []migration.Phase {
	out := make([]migration.Phase, 0, len(history))
	for _, r := range history {
		out = append(out, r.Phase)
	}
	return out
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		handlers *testutil.ScriptedHandlers
		rec      *eventRecorder
		slept    []time.Duration
		policy   migration.Policy
		unit     *migration.Unit
	)

	newOrchestrator := func() *migration.Orchestrator {
		o, err := migration.NewOrchestrator(handlers.Handlers(), policy, migration.WithRecorder(rec))
		Expect(err).NotTo(HaveOccurred())
		o.SetSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		})
		return o
	}

	BeforeEach(func() {
		ctx = context.Background()
		handlers = testutil.NewScriptedHandlers()
		rec = &eventRecorder{}
		slept = nil
		policy = migration.DefaultPolicy()
		policy.BaseDelay = 10 * time.Millisecond
		unit = migration.NewUnit("vm-1", migration.Linux, "Standard_B2s", "onprem")
	})

	Describe("NewOrchestrator", func() {
		It("should require every handler", func() {
			h := handlers.Handlers()
			h.Checker = nil
			_, err := migration.NewOrchestrator(h, policy)
			Expect(err).To(MatchError(ContainSubstring("drift checker")))
		})

		It("should reject negative retry limits", func() {
			policy.MaxRetries = -1
			_, err := migration.NewOrchestrator(handlers.Handlers(), policy)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when every phase succeeds", func() {
		It("should complete with one successful result per phase", func() {
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(unit.Phase()).To(Equal(migration.PhaseCompleted))

			history := unit.History()
			Expect(phasesOf(history)).To(Equal(migration.WorkPhases))
			for _, r := range history {
				Expect(r.Success).To(BeTrue())
				Expect(r.Attempt).To(Equal(1))
			}
			Expect(unit.LastError()).NotTo(HaveOccurred())
			Expect(handlers.Reverts()).To(BeEmpty())
		})

		It("should publish every transition in order", func() {
			newOrchestrator().Run(ctx, unit)
			Expect(rec.transitions).To(Equal([]transition{
				{migration.PhasePending, migration.PhaseProvisioning},
				{migration.PhaseProvisioning, migration.PhaseReplicating},
				{migration.PhaseReplicating, migration.PhaseCuttingOver},
				{migration.PhaseCuttingOver, migration.PhaseConfiguring},
				{migration.PhaseConfiguring, migration.PhaseValidating},
				{migration.PhaseValidating, migration.PhaseCompleted},
			}))
			Expect(rec.results).To(HaveLen(5))
		})

		It("should not run a terminal unit again", func() {
			o := newOrchestrator()
			o.Run(ctx, unit)
			Expect(o.Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(handlers.Calls("vm-1", migration.PhaseProvisioning)).To(Equal(1))
		})
	})

	Context("when a phase fails transiently", func() {
		It("should retry and complete", func() {
			handlers.Fail("vm-1", migration.PhaseConfiguring,
				faults.Newf(faults.ServiceUnavailable, "ansible", "host unreachable"),
				faults.Newf(faults.ExecutionTimeout, "ansible", "timed out"))

			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(handlers.Calls("vm-1", migration.PhaseConfiguring)).To(Equal(3))
			Expect(unit.TotalRetries()).To(Equal(2))
			Expect(slept).To(Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}))

			configuring := unit.History()[3:6]
			Expect(configuring[0].Success).To(BeFalse())
			Expect(configuring[0].Retriable).To(BeTrue())
			Expect(configuring[0].ErrorKind).To(Equal(faults.ServiceUnavailable))
			Expect(configuring[1].ErrorKind).To(Equal(faults.ExecutionTimeout))
			Expect(configuring[2].Success).To(BeTrue())
			Expect(configuring[2].Attempt).To(Equal(3))
		})

		It("should reset the retry counter for each phase", func() {
			handlers.Fail("vm-1", migration.PhaseProvisioning, faults.Newf(faults.CommandFailed, "terraform", "x"))
			handlers.Fail("vm-1", migration.PhaseReplicating, faults.Newf(faults.CommandFailed, "replicate", "x"))

			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(slept).To(Equal([]time.Duration{10 * time.Millisecond, 10 * time.Millisecond}))
		})
	})

	Context("when retries are exhausted", func() {
		BeforeEach(func() {
			handlers.FailAlways("vm-1", migration.PhaseConfiguring,
				faults.Newf(faults.CommandFailed, "ansible-playbook", "task failed"))
		})

		It("should attempt MaxRetries+1 times and roll back", func() {
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseConfiguring)).To(Equal(4))
			Expect(handlers.Calls("vm-1", migration.PhaseValidating)).To(BeZero())
			Expect(slept).To(Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}))
			Expect(rec.retries).To(Equal(slept))
			Expect(handlers.Reverts()).To(Equal([]string{"vm-1"}))
		})

		It("should end the history with a terminal RolledBack result", func() {
			newOrchestrator().Run(ctx, unit)
			history := unit.History()
			last := history[len(history)-1]
			Expect(last.Phase).To(Equal(migration.PhaseRolledBack))
			Expect(last.Success).To(BeFalse())
			Expect(last.Terminal).To(BeTrue())
			Expect(last.ErrorKind).To(Equal(faults.RetriesExhausted))
			Expect(last.Error).To(ContainSubstring("Configuring"))
			Expect(last.Error).To(ContainSubstring("task failed"))

			finalAttempt := history[len(history)-2]
			Expect(finalAttempt.Attempt).To(Equal(4))
			Expect(finalAttempt.Retriable).To(BeFalse())
			Expect(faults.Is(unit.LastError(), faults.RetriesExhausted)).To(BeTrue())
		})

		It("should keep history phases in sequence order", func() {
			newOrchestrator().Run(ctx, unit)
			Expect(phasesOf(unit.History())).To(Equal([]migration.Phase{
				migration.PhaseProvisioning,
				migration.PhaseReplicating,
				migration.PhaseCuttingOver,
				migration.PhaseConfiguring,
				migration.PhaseConfiguring,
				migration.PhaseConfiguring,
				migration.PhaseConfiguring,
				migration.PhaseRolledBack,
			}))
		})

		It("should report a failed revert in the terminal result", func() {
			handlers.FailRevert(errors.New("snapshot gone"))
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			history := unit.History()
			Expect(history[len(history)-1].Error).To(ContainSubstring("revert failed: snapshot gone"))
		})
	})

	Context("when a phase fails non-retriably", func() {
		It("should roll back after a single quota failure", func() {
			handlers.Fail("vm-1", migration.PhaseProvisioning,
				faults.Newf(faults.QuotaExceeded, "terraform apply", "regional vCPU quota exceeded"))

			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseProvisioning)).To(Equal(1))
			Expect(handlers.Calls("vm-1", migration.PhaseReplicating)).To(BeZero())
			Expect(slept).To(BeEmpty())

			history := unit.History()
			Expect(history).To(HaveLen(2))
			Expect(history[0].Retriable).To(BeFalse())
			Expect(history[1].ErrorKind).To(Equal(faults.QuotaExceeded))
		})

		It("should not retry a missing resource while provisioning", func() {
			handlers.Fail("vm-1", migration.PhaseProvisioning, faults.Newf(faults.ResourceNotFound, "get", "gone"))
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseProvisioning)).To(Equal(1))
		})

		It("should retry a missing resource while replicating", func() {
			handlers.Fail("vm-1", migration.PhaseReplicating, faults.Newf(faults.ResourceNotFound, "get", "not yet"))
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(handlers.Calls("vm-1", migration.PhaseReplicating)).To(Equal(2))
		})

		It("should treat unclassified errors as fatal", func() {
			handlers.Fail("vm-1", migration.PhaseCuttingOver, errors.New("boom"))
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			history := unit.History()
			Expect(history[len(history)-1].ErrorKind).To(Equal(faults.Unknown))
		})
	})

	Context("when validating", func() {
		BeforeEach(func() {
			unit.DependsOn = []string{"vnet", "nsg"}
		})

		It("should reconcile every dependency", func() {
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(handlers.Reconciles("vnet")).To(Equal(1))
			Expect(handlers.Reconciles("nsg")).To(Equal(1))
		})

		It("should retry until drift clears", func() {
			handlers.Drift("nsg",
				drift.Report{Name: "nsg", HasDrift: true, DifferingKeys: []string{"security_rules"}},
				drift.Report{Name: "nsg"})
			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseCompleted))
			Expect(handlers.Reconciles("nsg")).To(Equal(2))

			history := unit.History()
			Expect(history[4].ErrorKind).To(Equal(faults.DriftUnresolved))
			Expect(history[4].Error).To(ContainSubstring("security_rules"))
		})

		It("should roll back with DriftUnresolved when drift persists", func() {
			policy.MaxValidationRetries = 2
			handlers.Drift("vnet", drift.Report{Name: "vnet", HasDrift: true, DifferingKeys: []string{"address_space"}})

			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Reconciles("vnet")).To(Equal(3))
			history := unit.History()
			last := history[len(history)-1]
			Expect(last.ErrorKind).To(Equal(faults.DriftUnresolved))
			Expect(last.Retriable).To(BeFalse())
			Expect(handlers.Reverts()).To(Equal([]string{"vm-1"}))
		})
	})

	Context("with an unsupported OS family", func() {
		It("should roll back before provisioning", func() {
			unit = migration.NewUnit("vm-9", migration.ParseOSFamily("Solaris"), "Standard_B2s", "onprem")

			Expect(newOrchestrator().Run(ctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-9", migration.PhaseProvisioning)).To(BeZero())
			Expect(handlers.Reverts()).To(BeEmpty())

			history := unit.History()
			Expect(history).To(HaveLen(1))
			Expect(history[0].ErrorKind).To(Equal(faults.UnsupportedConfiguration))
			Expect(history[0].Terminal).To(BeTrue())
		})
	})

	Context("when the context is canceled", func() {
		It("should roll back a unit that has not started", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Expect(newOrchestrator().Run(cctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseProvisioning)).To(BeZero())
			Expect(handlers.Reverts()).To(BeEmpty())
			Expect(faults.Is(unit.LastError(), faults.Canceled)).To(BeTrue())
		})

		It("should stop after the in-flight call and revert with a live context", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			handlers.Hook = func(_ context.Context, _ string, phase migration.Phase) {
				if phase == migration.PhaseReplicating {
					cancel()
				}
			}
			var revertCtxErr error
			platform := &ctxPlatform{ScriptedHandlers: handlers, revertCtxErr: &revertCtxErr}
			h := handlers.Handlers()
			h.Platform = platform
			o, err := migration.NewOrchestrator(h, policy)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.Run(cctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseReplicating)).To(Equal(1))
			Expect(handlers.Calls("vm-1", migration.PhaseCuttingOver)).To(BeZero())
			Expect(platform.reverted).To(BeTrue())
			Expect(revertCtxErr).NotTo(HaveOccurred())
			Expect(faults.Is(unit.LastError(), faults.Canceled)).To(BeTrue())
		})

		It("should abort a backoff sleep", func() {
			cctx, cancel := context.WithCancel(ctx)
			handlers.FailAlways("vm-1", migration.PhaseProvisioning, faults.Newf(faults.ServiceUnavailable, "arm", "429"))
			o := newOrchestrator()
			o.SetSleep(func(ctx context.Context, _ time.Duration) error {
				cancel()
				return ctx.Err()
			})

			Expect(o.Run(cctx, unit)).To(Equal(migration.PhaseRolledBack))
			Expect(handlers.Calls("vm-1", migration.PhaseProvisioning)).To(Equal(1))
			history := unit.History()
			Expect(history[len(history)-1].ErrorKind).To(Equal(faults.Canceled))
		})
	})
})

// ctxPlatform records the context Revert receives.
type ctxPlatform struct {
	*testutil.ScriptedHandlers
	revertCtxErr *error
	reverted     bool
}

func (p *ctxPlatform) Revert(ctx context.Context, u *migration.Unit) error {
	p.reverted = true
	*p.revertCtxErr = ctx.Err()
	return p.ScriptedHandlers.Revert(ctx, u)
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/checkpoint"
	"cloudshift/internal/config"
	"cloudshift/internal/constants"
	"cloudshift/internal/controlplane"
	"cloudshift/internal/drift"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/pipeline"
	"cloudshift/internal/plan"
	"cloudshift/internal/resource"
	"cloudshift/internal/testutil"
	"cloudshift/internal/wave"
)

const testPlan = `
environment: test
location: eastus
landingZone: true
independentWaves: [1]
units:
  - id: web-1
    osFamily: Linux
    sizeClass: Standard_B2s
    dependsOn: [migration-vnet-test, migration-subnet-test]
  - id: web-2
    osFamily: Linux
    sizeClass: Standard_B2s
    dependsOn: [migration-vnet-test]
  - id: sql-1
    osFamily: Windows
    sizeClass: Standard_D4s_v3
    dependsOn: [migration-nsg-test]
`

func testConfig() *config.Config {
	return &config.Config{
		Environment:          "test",
		Location:             "eastus",
		TerraformDir:         "terraform",
		PlanFile:             "tfplan",
		PlaybookDir:          "playbooks",
		AnsibleInventory:     "hosts.ini",
		Platform:             constants.PlatformCommand,
		Provisioner:          constants.ProvisionerControlPlane,
		Observer:             constants.ObserverMemory,
		WaveSize:             2,
		MaxConcurrency:       2,
		MaxRetries:           1,
		MaxValidationRetries: 1,
		RetryBaseDelay:       time.Millisecond,
		CommandTimeout:       time.Minute,
		ReplicateCommand:     "migrate replicate {{.ID}} --size {{.SizeClass}}",
		CutoverCommand:       "migrate cutover {{.ID}}",
		RevertCommand:        "migrate revert {{.ID}}",
		SSHUser:              "azureuser",
	}
}

type driftRecorder struct {
	mu      sync.Mutex
	reports []drift.Report
	waves   int
	phases  int
}

func (r *driftRecorder) PhaseChanged(context.Context, *migration.Unit, migration.Phase, migration.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases++
}
func (r *driftRecorder) PhaseFinished(context.Context, *migration.Unit, migration.PhaseResult) {}
func (r *driftRecorder) RetryScheduled(context.Context, *migration.Unit, migration.Phase, int, time.Duration) {
}
func (r *driftRecorder) WaveStarted(context.Context, *wave.Wave) {}
func (r *driftRecorder) WaveFinished(context.Context, *wave.Wave, wave.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waves++
}
func (r *driftRecorder) DriftChecked(_ context.Context, rep drift.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

var _ = Describe("Pipeline", func() {
	var (
		ctx    context.Context
		cfg    *config.Config
		p      *plan.Plan
		fake   *testutil.FakeRunner
		memory *controlplane.MemoryClient
		rec    *driftRecorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = testConfig()
		var err error
		p, err = plan.ParseBytes([]byte(testPlan))
		Expect(err).NotTo(HaveOccurred())
		fake = testutil.NewFakeRunner()
		memory = controlplane.NewMemoryClient()
		rec = &driftRecorder{}
	})

	build := func() *pipeline.Pipeline {
		pl, err := pipeline.Build(cfg, p, pipeline.Deps{
			Runner:       fake,
			ControlPlane: memory,
			Recorders:    []pipeline.Recorder{rec},
			RunID:        "run-1",
		})
		Expect(err).NotTo(HaveOccurred())
		return pl
	}

	Describe("Build", func() {
		It("should declare the plan's resources", func() {
			pl := build()
			Expect(pl.Inventory.Names()).To(HaveLen(7))
			_, ok := pl.Inventory.Get("migration-vnet-test")
			Expect(ok).To(BeTrue())
		})

		It("should reject an unknown platform", func() {
			cfg.Platform = "hyperv"
			_, err := pipeline.Build(cfg, p, pipeline.Deps{Runner: fake, ControlPlane: memory})
			Expect(faults.Is(err, faults.UnsupportedConfiguration)).To(BeTrue())
		})

		It("should require a cluster for the kubevirt platform", func() {
			cfg.Platform = constants.PlatformKubeVirt
			_, err := pipeline.Build(cfg, p, pipeline.Deps{Runner: fake, ControlPlane: memory})
			Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
		})

		It("should reject a malformed retry rule", func() {
			cfg.RetryRules = []string{"Configuring:CommandFailed=maybe"}
			_, err := pipeline.Build(cfg, p, pipeline.Deps{Runner: fake, ControlPlane: memory})
			Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
		})

		It("should require replicate and cutover commands", func() {
			cfg.CutoverCommand = ""
			_, err := pipeline.Build(cfg, p, pipeline.Deps{Runner: fake, ControlPlane: memory})
			Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
		})
	})

	Describe("Run", func() {
		It("should migrate every unit through the wired collaborators", func() {
			report, err := build().Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(wave.StatusCompleted))
			Expect(report.Completed).To(Equal(3))
			Expect(report.Waves).To(HaveLen(2))

			Expect(fake.Count("migrate replicate web-1 --size Standard_B2s")).To(Equal(1))
			Expect(fake.Count("migrate cutover sql-1")).To(Equal(1))
			Expect(fake.Count("migrate revert")).To(BeZero())
			Expect(fake.Count("playbooks/linux-post-migration.yml --limit web-1")).To(Equal(1))
			Expect(fake.Count("playbooks/windows-post-migration.yml --limit sql-1")).To(Equal(1))
			Expect(fake.Count("-e ansible_connection=winrm")).To(Equal(1))
			Expect(fake.Count("-e ansible_user=azureuser")).To(Equal(2))

			attrs, err := memory.Get(ctx, resource.VirtualNetwork, "migration-vnet-test", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(attrs).To(HaveKeyWithValue(resource.KeyAddressSpace, "10.0.0.0/16"))

			// web-1 checks two resources, web-2 and sql-1 one each.
			Expect(rec.reports).To(HaveLen(4))
			Expect(rec.waves).To(Equal(2))
		})

		It("should roll back a unit whose configuration keeps failing", func() {
			fake.On("--limit web-2", testutil.Exit(2, "fatal: [web-2]: UNREACHABLE! connection timed out"))
			report, err := build().Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Status).To(Equal(wave.StatusFailed))
			Expect(report.RolledBack).To(Equal(1))
			// The failed first wave does not stop independent wave 1.
			Expect(report.Waves[1].Status).To(Equal(wave.StatusCompleted))
			Expect(fake.Count("--limit web-2")).To(Equal(2))
			Expect(fake.Count("migrate revert web-2")).To(Equal(1))

			var web2 *migration.Unit
			for _, u := range report.Units {
				if u.ID == "web-2" {
					web2 = u
				}
			}
			Expect(web2.Phase()).To(Equal(migration.PhaseRolledBack))
			Expect(faults.KindOf(web2.LastError())).To(Equal(faults.RetriesExhausted))
		})

		It("should honour a retry rule that fails a phase without retrying", func() {
			fake.On("--limit web-2", testutil.Exit(2, "fatal: [web-2]: FAILED! => {\"msg\": \"package not found\"}"))
			cfg.RetryRules = []string{"Configuring:CommandFailed=fail"}
			report, err := build().Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.RolledBack).To(Equal(1))
			Expect(fake.Count("--limit web-2")).To(Equal(1))
			Expect(fake.Count("migrate revert web-2")).To(Equal(1))
		})

		It("should fail validation when drift persists", func() {
			cfg.Provisioner = constants.ProvisionerTerraform
			pl := build()
			seed(ctx, pl, memory)
			vnet, _ := pl.Inventory.Get("migration-vnet-test")
			changed := vnet.Declared.Clone()
			changed[resource.KeyAddressSpace] = "10.9.0.0/16"
			memory.Set(resource.VirtualNetwork, "migration-vnet-test", changed)

			report, err := pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Completed).To(Equal(1))
			for _, u := range report.Units {
				if u.ID == "sql-1" {
					Expect(u.Phase()).To(Equal(migration.PhaseCompleted))
					continue
				}
				Expect(u.Phase()).To(Equal(migration.PhaseRolledBack))
				Expect(faults.KindOf(u.LastError())).To(Equal(faults.DriftUnresolved))
			}
		})

		It("should plan and apply terraform per unit with the terraform provisioner", func() {
			cfg.Provisioner = constants.ProvisionerTerraform
			pl := build()
			seed(ctx, pl, memory)
			report, err := pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Completed).To(Equal(3))
			Expect(fake.Count("terraform plan -input=false -no-color -out=tfplan")).To(Equal(3))
			Expect(fake.Count("-var unit_id=sql-1")).To(Equal(1))
			Expect(fake.Count("terraform apply")).To(Equal(3))
			for _, c := range fake.Calls() {
				if c.Name == constants.DefaultTerraformBinary {
					Expect(c.Dir).To(Equal("terraform"))
				}
			}
		})

		It("should put back control-plane resources a failed wave changed", func() {
			pl := build()
			vnet, _ := pl.Inventory.Get("migration-vnet-test")
			before := vnet.Declared.Clone()
			before[resource.KeyAddressSpace] = "10.5.0.0/16"
			memory.Set(resource.VirtualNetwork, "migration-vnet-test", before)
			fake.On("--limit web-2", testutil.Exit(2, "fatal: [web-2]: FAILED! => {\"msg\": \"package not found\"}"))

			report, err := pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Waves[0].Status).To(Equal(wave.StatusFailed))
			Expect(report.Waves[0].Err).NotTo(HaveOccurred())

			attrs, err := memory.Get(ctx, resource.VirtualNetwork, "migration-vnet-test", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(attrs).To(HaveKeyWithValue(resource.KeyAddressSpace, "10.5.0.0/16"))
			_, err = memory.Get(ctx, resource.Subnet, "migration-subnet-test", nil)
			Expect(faults.Is(err, faults.ResourceNotFound)).To(BeTrue())
			// The independent second wave completed and keeps its resources.
			_, err = memory.Get(ctx, resource.SecurityGroup, "migration-nsg-test", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should not start a wave whose resources cannot be read", func() {
			memory.FailNext(resource.VirtualNetwork, "migration-vnet-test",
				faults.New(faults.ServiceUnavailable, "get", nil))
			report, err := build().Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Waves[0].Status).To(Equal(wave.StatusFailed))
			Expect(report.Waves[0].Pending).To(Equal(2))
			Expect(report.Waves[0].Err).To(MatchError(ContainSubstring("migration-vnet-test")))
			Expect(fake.Count("migrate replicate web-")).To(BeZero())
		})

		It("should destroy terraform resources a failed first wave created", func() {
			cfg.Provisioner = constants.ProvisionerTerraform
			pl := build()
			seed(ctx, pl, memory)
			fake.On("terraform state pull",
				testutil.Stdout(""),
				testutil.Stdout(`{"serial": 2, "lineage": "l1", "resources": [
					{"mode": "managed", "type": "azurerm_virtual_network", "name": "web"},
					{"mode": "managed", "type": "azurerm_subnet", "name": "web"}
				]}`))
			fake.On("--limit web-2", testutil.Exit(2, "fatal: [web-2]: FAILED! => {\"msg\": \"package not found\"}"))

			report, err := pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Waves[0].Status).To(Equal(wave.StatusFailed))
			Expect(fake.Count("terraform plan -destroy -input=false -no-color -out=tfplan -target=azurerm_subnet.web -target=azurerm_virtual_network.web")).To(Equal(1))
			Expect(fake.Count("terraform apply")).To(Equal(4))
		})

		It("should re-apply the last good terraform variables when a later wave fails", func() {
			cfg.Provisioner = constants.ProvisionerTerraform
			cfg.MaxConcurrency = 1
			pl := build()
			seed(ctx, pl, memory)
			fake.On("terraform state pull",
				testutil.Stdout(""),
				testutil.Stdout(`{"serial": 2, "lineage": "l1", "resources": []}`),
				testutil.Stdout(`{"serial": 3, "lineage": "l1", "resources": []}`))
			fake.On("--limit sql-1", testutil.Exit(2, "fatal: [sql-1]: FAILED! => {\"msg\": \"feature install failed\"}"))

			report, err := pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Waves[0].Status).To(Equal(wave.StatusCompleted))
			Expect(report.Waves[1].Status).To(Equal(wave.StatusFailed))
			Expect(report.Waves[1].Err).NotTo(HaveOccurred())
			Expect(fake.Count("-var unit_id=web-2")).To(Equal(2))
			Expect(fake.Count("plan -destroy")).To(BeZero())
			Expect(fake.Count("terraform apply")).To(Equal(4))
		})

		It("should persist checkpoints in the given store", func() {
			store := checkpoint.NewMemoryStore()
			pl, err := pipeline.Build(cfg, p, pipeline.Deps{Runner: fake, ControlPlane: memory, Store: store, RunID: "run-9"})
			Expect(err).NotTo(HaveOccurred())
			_, err = pl.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			cp, err := store.Load(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(cp.SnapshotRef).To(ContainSubstring("run-9"))
			Expect(cp.Snapshot).NotTo(BeEmpty())
		})
	})

	Describe("Waves", func() {
		It("should partition units and mark independent waves", func() {
			waves, err := build().Waves()
			Expect(err).NotTo(HaveOccurred())
			Expect(waves).To(HaveLen(2))
			Expect(waves[0].UnitIDs).To(Equal([]string{"web-1", "web-2"}))
			Expect(waves[0].Independent).To(BeFalse())
			Expect(waves[1].Independent).To(BeTrue())
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	Describe("CheckDrift", func() {
		It("should report missing and drifted resources", func() {
			pl := build()
			vnet, _ := pl.Inventory.Get("migration-vnet-test")
			changed := vnet.Declared.Clone()
			changed[resource.KeyAddressSpace] = "10.9.0.0/16"
			memory.Set(resource.VirtualNetwork, "migration-vnet-test", changed)

			results := pl.CheckDrift(ctx)
			Expect(results).To(HaveLen(7))
			for _, r := range results {
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Report.HasDrift).To(BeTrue())
				if r.Report.Name == "migration-vnet-test" {
					Expect(r.Report.Missing).To(BeFalse())
					Expect(r.Report.DifferingKeys).To(Equal([]string{resource.KeyAddressSpace}))
				} else {
					Expect(r.Report.Missing).To(BeTrue())
				}
			}
			Expect(rec.reports).To(HaveLen(7))
		})
	})

	Describe("Preflight", func() {
		It("should pass when tools succeed and every unit is known", func() {
			fake.On("--list-hosts", testutil.Stdout("  hosts (3):\n    web-1\n    web-2\n    sql-1\n"))
			checks := build().Preflight(ctx)
			Expect(pipeline.Failed(checks)).To(BeEmpty())
			Expect(fake.Count("--syntax-check")).To(Equal(2))
			Expect(fake.Count("terraform validate")).To(Equal(1))
		})

		It("should report every failing check", func() {
			fake.On("terraform validate", testutil.Exit(1, "Error: Unsupported argument"))
			fake.On("windows-post-migration.yml", testutil.Exit(4, "ERROR! Syntax Error while loading YAML."))
			fake.On("--list-hosts", testutil.Stdout("  hosts (1):\n    web-1\n"))

			failed := pipeline.Failed(build().Preflight(ctx))
			Expect(failed).To(HaveLen(3))
			for _, c := range failed {
				Expect(faults.Is(c.Err, faults.InvalidConfiguration)).To(BeTrue(), c.Name)
			}
			Expect(failed[2].Err.Error()).To(ContainSubstring(`"sql-1"`))
			Expect(failed[2].Err.Error()).NotTo(ContainSubstring(`"web-1"`))
		})

		It("should dry-run every unit's playbook in check mode", func() {
			fake.On("--list-hosts", testutil.Stdout("  hosts (3):\n    web-1\n    web-2\n    sql-1\n"))
			cfg.CheckMode = true
			checks := build().Preflight(ctx)
			Expect(pipeline.Failed(checks)).To(BeEmpty())
			Expect(fake.Count("--check")).To(Equal(3))
			Expect(fake.Count("windows-post-migration.yml --limit sql-1")).To(Equal(1))
		})

		It("should skip validate when init fails", func() {
			fake.On("terraform init", testutil.Exit(1, "Error: Failed to query available provider packages"))
			failed := pipeline.Failed(build().Preflight(ctx))
			Expect(failed[0].Name).To(Equal("terraform init"))
			Expect(fake.Count("terraform validate")).To(BeZero())
		})
	})
})

var _ = Describe("NewObserver", func() {
	It("should require a client for control-plane observers", func() {
		_, err := pipeline.NewObserver(constants.ObserverAzure, nil, nil)
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
	})

	It("should reject unknown observers", func() {
		_, err := pipeline.NewObserver("pulumi", nil, nil)
		Expect(faults.Is(err, faults.UnsupportedConfiguration)).To(BeTrue())
	})
})

// seed creates every declared resource in the control plane, standing in
// for a terraform apply.
func seed(ctx context.Context, pl *pipeline.Pipeline, memory *controlplane.MemoryClient) {
	for _, rec := range pl.Inventory.List() {
		Expect(memory.CreateOrUpdate(ctx, rec.Kind, rec.Name, rec.Declared)).To(Succeed())
	}
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	kubevirtv1 "kubevirt.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"cloudshift/internal/audit"
	"cloudshift/internal/cluster"
	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/runner"
	"cloudshift/internal/testutil"
	"cloudshift/internal/vm"
)

const cliPlan = `
environment: test
location: eastus
landingZone: true
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

// execute runs a fresh command tree and returns its stdout.
func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var _ = Describe("Command tree", func() {
	var root *cobra.Command

	BeforeEach(func() {
		root = newRootCmd()
	})

	It("should register every subcommand", func() {
		for _, name := range []string{"run", "validate", "drift", "cleanup"} {
			cmd, _, err := root.Find([]string{name})
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.Name()).To(Equal(name))
		}
	})

	It("should share the persistent flags", func() {
		for _, name := range []string{"config", "namespace", "kubeconfig", "log-level", "verbose"} {
			Expect(root.PersistentFlags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("should give pipeline flags to the plan commands", func() {
		for _, name := range []string{"run", "validate", "drift"} {
			cmd, _, _ := root.Find([]string{name})
			Expect(cmd.Flags().Lookup("plan")).NotTo(BeNil())
			Expect(cmd.Flags().Lookup("wave-size")).NotTo(BeNil())
			Expect(cmd.Flags().Lookup("dry-run")).NotTo(BeNil())
			Expect(cmd.Flags().Lookup("retry-rule")).NotTo(BeNil())
			Expect(cmd.Flags().Lookup("check-mode")).NotTo(BeNil())
		}
	})

	It("should scope cleanup by unit and namespace", func() {
		cmd, _, _ := root.Find([]string{"cleanup"})
		Expect(cmd.Flags().Lookup("unit")).NotTo(BeNil())
		deleteNS, err := cmd.Flags().GetBool("delete-namespace")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleteNS).To(BeFalse())
		Expect(cmd.Flags().Lookup("plan")).To(BeNil())
	})
})

var _ = Describe("Plan commands", func() {
	var (
		dir      string
		planPath string
		dbPath   string
		fr       *testutil.FakeRunner
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		planPath = filepath.Join(dir, "plan.yaml")
		dbPath = filepath.Join(dir, "audit.db")
		Expect(os.WriteFile(planPath, []byte(cliPlan), 0o644)).To(Succeed())

		fr = testutil.NewFakeRunner()
		orig := newRunner
		newRunner = func(...runner.Option) runner.Runner { return fr }
		DeferCleanup(func() { newRunner = orig })
	})

	pipelineArgs := func(sub string, extra ...string) []string {
		args := []string{sub,
			"--plan", planPath,
			"--provisioner", constants.ProvisionerControlPlane,
			"--observer", constants.ObserverMemory,
			"--subscription-id", "sub-1",
			"--wave-size", "2",
			"--max-retries", "0",
			"--max-validation-retries", "0",
			"--retry-base-delay", "1ms",
			"--replicate-command", "migrate replicate {{.ID}}",
			"--cutover-command", "migrate cutover {{.ID}}",
			"--revert-command", "migrate revert {{.ID}}",
			"--playbook-dir", "playbooks",
			"--audit-db", dbPath,
			"--log-level", "error",
		}
		return append(args, extra...)
	}

	openAudit := func() *audit.SQLiteAuditor {
		a, err := audit.NewSQLiteAuditor(dbPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(a.Close)
		return a
	}

	It("should require a plan", func() {
		_, err := execute("run", "--dry-run")
		Expect(err).To(MatchError(ContainSubstring("--plan is required")))
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
	})

	It("should reject an invalid plan", func() {
		Expect(os.WriteFile(planPath, []byte("units:\n  - id: a\n    osFamily: BeOS\n    sizeClass: x\n"), 0o644)).To(Succeed())
		_, err := execute("run", "--plan", planPath, "--dry-run")
		Expect(err).To(MatchError(ContainSubstring("unsupported OS family")))
	})

	Describe("run --dry-run", func() {
		It("should print the wave schedule without running anything", func() {
			out, err := execute("run", "--plan", planPath, "--dry-run", "--wave-size", "2", "--audit-db", dbPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("--- Dry Run ---"))
			Expect(out).To(ContainSubstring("Units: 3 in 2 waves"))
			Expect(out).To(ContainSubstring("Declared resources: 7"))
			Expect(out).To(ContainSubstring("# Wave 1"))
			Expect(out).To(ContainSubstring("id: sql-1"))
			Expect(out).To(ContainSubstring("- migration-nsg-test"))

			Expect(fr.Calls()).To(BeEmpty())
			_, statErr := os.Stat(dbPath)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})

	Describe("run", func() {
		It("should migrate the plan and record the run", func() {
			out, err := execute(pipelineArgs("run")...)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Migration Summary"))
			Expect(out).To(ContainSubstring("Completed:    3"))
			Expect(out).To(MatchRegexp(`sql-1\s+Completed`))
			Expect(fr.Count("migrate cutover")).To(Equal(3))

			db := openAudit().DB()
			var (
				runID, status     string
				units, completed  int
				checkpoints, rows int
			)
			Expect(db.QueryRow(`SELECT run_id, status, unit_count, units_completed FROM audit_log WHERE command = 'run'`).
				Scan(&runID, &status, &units, &completed)).To(Succeed())
			Expect(status).To(Equal("completed"))
			Expect(units).To(Equal(3))
			Expect(completed).To(Equal(3))
			Expect(out).To(ContainSubstring(runID))

			Expect(db.QueryRow(`SELECT COUNT(*) FROM unit_details WHERE phase = 'Completed'`).Scan(&rows)).To(Succeed())
			Expect(rows).To(Equal(3))
			Expect(db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE run_id = ?`, runID).Scan(&checkpoints)).To(Succeed())
			Expect(checkpoints).To(Equal(2))
		})

		It("should fail when a unit rolls back", func() {
			fr.On("migrate cutover sql-1", testutil.Exit(1, "cutover rejected"))
			out, err := execute(pipelineArgs("run")...)
			Expect(err).To(MatchError(ContainSubstring("2 of 3 units completed")))
			Expect(out).To(MatchRegexp(`sql-1\s+RolledBack`))
			Expect(out).To(ContainSubstring("Rolled back:  1"))
			Expect(fr.Count("migrate revert sql-1")).To(Equal(1))

			var status, summary string
			var rolledBack int
			Expect(openAudit().DB().QueryRow(`SELECT status, error_summary, units_rolled_back FROM audit_log WHERE command = 'run'`).
				Scan(&status, &summary, &rolledBack)).To(Succeed())
			Expect(status).To(Equal("failed"))
			Expect(summary).To(ContainSubstring("migration incomplete"))
			Expect(rolledBack).To(Equal(1))
		})

		It("should run without an audit database", func() {
			_, err := execute(pipelineArgs("run", "--audit=false")...)
			Expect(err).NotTo(HaveOccurred())
			_, statErr := os.Stat(dbPath)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})

	Describe("validate", func() {
		It("should report every passing check", func() {
			fr.On("--list-hosts", testutil.Stdout("  hosts (3):\n    web-1\n    web-2\n    sql-1\n"))
			out, err := execute(pipelineArgs("validate")...)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("ok    terraform init"))
			Expect(out).To(ContainSubstring("ok    inventory hosts"))
		})

		It("should fail when a unit is missing from the inventory", func() {
			fr.On("--list-hosts", testutil.Stdout("  hosts (1):\n    web-1\n"))
			out, err := execute(pipelineArgs("validate")...)
			Expect(err).To(MatchError(ContainSubstring("preflight checks failed")))
			Expect(out).To(ContainSubstring(`FAIL  inventory hosts`))
			Expect(out).To(ContainSubstring(`unit "sql-1" is not in inventory`))
		})
	})

	Describe("drift", func() {
		It("should report missing resources and record them", func() {
			out, err := execute(pipelineArgs("drift")...)
			Expect(faults.Is(err, faults.DriftUnresolved)).To(BeTrue())
			Expect(out).To(ContainSubstring("MISSING  migration-vnet-test (virtual_network)"))

			var rows int
			Expect(openAudit().DB().QueryRow(`SELECT COUNT(*) FROM drift_reports WHERE missing = 1`).Scan(&rows)).To(Succeed())
			Expect(rows).To(Equal(7))
		})
	})
})

var _ = Describe("Cleanup command", func() {
	var (
		dbPath string
		kube   client.Client
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "audit.db")
		managed := vm.BuildVMSpec(vm.SpecOpts{
			Name:        "vm-web-1",
			Namespace:   constants.DefaultNamespace,
			SourceImage: "https://images.example.com/web-1.qcow2",
			DiskSize:    "30Gi",
			CPUCores:    2,
			Memory:      "4Gi",
			Labels: map[string]string{
				constants.LabelManagedBy: constants.ManagedByValue,
				constants.LabelUnitID:    "web-1",
				constants.LabelRunID:     "run-7",
			},
		})
		kube = fake.NewClientBuilder().WithScheme(cluster.NewScheme()).WithObjects(managed).Build()

		orig := connect
		connect = func(string) (client.Client, error) { return kube, nil }
		DeferCleanup(func() { connect = orig })
	})

	It("should delete managed objects and link the cleanup to their run", func() {
		out, err := execute("cleanup", "--audit-db", dbPath, "--log-level", "error")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Cleanup complete: 1 VMs"))

		list := &kubevirtv1.VirtualMachineList{}
		Expect(kube.List(context.Background(), list)).To(Succeed())
		Expect(list.Items).To(BeEmpty())

		a, err := audit.NewSQLiteAuditor(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer a.Close()
		var linked, status string
		var deleted int
		Expect(a.DB().QueryRow(`SELECT linked_run_ids, status, vms_deleted FROM audit_log WHERE command = 'cleanup'`).
			Scan(&linked, &status, &deleted)).To(Succeed())
		Expect(linked).To(MatchJSON(`["run-7"]`))
		Expect(status).To(Equal("completed"))
		Expect(deleted).To(Equal(1))
	})

	It("should leave other units alone", func() {
		out, err := execute("cleanup", "--unit", "web-2", "--audit=false", "--log-level", "error")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Cleanup complete: 0 VMs"))
	})
})

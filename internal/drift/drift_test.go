// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package drift_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/controlplane"
	"cloudshift/internal/drift"
	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/resource"
)

var _ = Describe("Compare", func() {
	DescribeTable("declared versus observed",
		func(declared, observed resource.Attributes, keys []string) {
			diffs := drift.Compare(declared, observed)
			got := make([]string, 0, len(diffs))
			for _, d := range diffs {
				got = append(got, d.Key)
			}
			Expect(got).To(Equal(keys))
		},
		Entry("identical sets", resource.Attributes{"location": "eastus"}, resource.Attributes{"location": "eastus"}, []string{}),
		Entry("changed value", resource.Attributes{"location": "eastus"}, resource.Attributes{"location": "westus"}, []string{"location"}),
		Entry("missing key", resource.Attributes{"location": "eastus", "tags.Owner": "ops"}, resource.Attributes{"location": "eastus"}, []string{"tags.Owner"}),
		Entry("undeclared observed tags", resource.Attributes{"location": "eastus"},
			resource.Attributes{"location": "eastus", "tags.CreatedBy": "policy", "tags.CostCenter": "42"}, []string{}),
		Entry("empty declaration", resource.Attributes{}, resource.Attributes{"location": "eastus"}, []string{}),
		Entry("nothing observed", resource.Attributes{"b": "2", "a": "1"}, nil, []string{"a", "b"}),
	)

	It("should describe each difference", func() {
		diffs := drift.Compare(
			resource.Attributes{"address_space": "10.0.0.0/16", "location": "eastus"},
			resource.Attributes{"address_space": "10.1.0.0/16"})
		Expect(diffs).To(Equal([]drift.Diff{
			{Key: "address_space", Declared: "10.0.0.0/16", Observed: "10.1.0.0/16"},
			{Key: "location", Declared: "eastus", Missing: true},
		}))
	})
})

var _ = Describe("Detector", func() {
	var (
		ctx context.Context
		mc  *controlplane.MemoryClient
		inv *inventory.Inventory
		det *drift.Detector
	)

	BeforeEach(func() {
		ctx = context.Background()
		mc = controlplane.NewMemoryClient()
		inv = inventory.New(&inventory.ControlPlaneObserver{Client: mc})
		det = drift.NewDetector(inv)

		Expect(inv.Declare("migration-isolation-zone-test", resource.ResourceGroup, resource.Attributes{
			"location": "eastus", "tags.Environment": "test",
		})).To(Succeed())
	})

	It("should report no drift when declared keys match", func() {
		mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{
			"location": "eastus", "tags.Environment": "test", "tags.CreatedBy": "policy",
		})

		report, err := det.Reconcile(ctx, "migration-isolation-zone-test")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.HasDrift).To(BeFalse())
		Expect(report.DifferingKeys).To(BeEmpty())

		rec, _ := inv.Get("migration-isolation-zone-test")
		Expect(rec.Drift).To(BeFalse())
	})

	It("should report drift and flag the record", func() {
		mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{
			"location": "westus",
		})

		report, err := det.Reconcile(ctx, "migration-isolation-zone-test")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.HasDrift).To(BeTrue())
		Expect(report.DifferingKeys).To(Equal([]string{"location", "tags.Environment"}))

		rec, _ := inv.Get("migration-isolation-zone-test")
		Expect(rec.Drift).To(BeTrue())
		Expect(rec.Declared["location"]).To(Equal("eastus"))
	})

	It("should clear the flag once drift is resolved", func() {
		mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{"location": "westus"})
		_, err := det.Reconcile(ctx, "migration-isolation-zone-test")
		Expect(err).NotTo(HaveOccurred())

		mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{
			"location": "eastus", "tags.Environment": "test",
		})
		report, err := det.Reconcile(ctx, "migration-isolation-zone-test")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.HasDrift).To(BeFalse())
		rec, _ := inv.Get("migration-isolation-zone-test")
		Expect(rec.Drift).To(BeFalse())
	})

	It("should return observation errors", func() {
		_, err := det.Reconcile(ctx, "migration-isolation-zone-test")
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
	})

	Describe("ReconcileAll", func() {
		It("should report every record in declaration order", func() {
			Expect(inv.Declare("migration-vault-test", resource.RecoveryVault, resource.Attributes{
				"resource_group": "migration-isolation-zone-test", "sku": "Standard",
			})).To(Succeed())
			mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{
				"location": "eastus", "tags.Environment": "test",
			})

			results := det.ReconcileAll(ctx)
			Expect(results).To(HaveLen(2))
			Expect(results[0].Err).NotTo(HaveOccurred())
			Expect(results[0].Report.HasDrift).To(BeFalse())

			Expect(results[1].Err).NotTo(HaveOccurred())
			Expect(results[1].Report.Missing).To(BeTrue())
			Expect(results[1].Report.HasDrift).To(BeTrue())
			Expect(results[1].Report.DifferingKeys).To(Equal([]string{"resource_group", "sku"}))
		})

		It("should keep non-missing errors per result", func() {
			mc.Set(resource.ResourceGroup, "migration-isolation-zone-test", resource.Attributes{})
			mc.FailNext(resource.ResourceGroup, "migration-isolation-zone-test", faults.New(faults.AuthFailure, "get", nil))

			results := det.ReconcileAll(ctx)
			Expect(faults.KindOf(results[0].Err)).To(Equal(faults.AuthFailure))
		})
	})
})

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package inventory_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/faults"
	"cloudshift/internal/inventory"
	"cloudshift/internal/resource"
	"cloudshift/internal/testutil"
	"cloudshift/internal/tools"
)

var _ = Describe("StateObserver", func() {
	var (
		ctx  context.Context
		fake *testutil.FakeRunner
		obs  *inventory.StateObserver
	)

	BeforeEach(func() {
		ctx = context.Background()
		state, err := os.ReadFile("testdata/terraform.tfstate")
		Expect(err).NotTo(HaveOccurred())
		fake = testutil.NewFakeRunner().On("state pull", testutil.Stdout(string(state)))
		obs = &inventory.StateObserver{Source: &tools.Terraform{Runner: fake, Binary: "terraform", Dir: "terraform"}}
	})

	It("should map a resource group with tags", func() {
		attrs, err := obs.Observe(ctx, resource.ResourceGroup, "migration-isolation-zone-test", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attrs).To(Equal(resource.Attributes{
			"location":         "eastus",
			"tags.Environment": "test",
			"tags.Project":     "VM Migration",
		}))
		Expect(fake.Count("terraform state pull")).To(Equal(1))
	})

	It("should map list attributes", func() {
		attrs, err := obs.Observe(ctx, resource.VirtualNetwork, "migration-vnet-test", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attrs).To(HaveKeyWithValue("address_space", "10.0.0.0/16"))
		Expect(attrs).To(HaveKeyWithValue("resource_group", "migration-isolation-zone-test"))
	})

	It("should resolve the subnet's security group association", func() {
		attrs, err := obs.Observe(ctx, resource.Subnet, "migration-subnet-test", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attrs).To(Equal(resource.Attributes{
			"resource_group":         "migration-isolation-zone-test",
			"virtual_network":        "migration-vnet-test",
			"address_prefix":         "10.0.1.0/24",
			"network_security_group": "migration-nsg-test",
		}))
	})

	It("should summarize security rules", func() {
		attrs, err := obs.Observe(ctx, resource.SecurityGroup, "migration-nsg-test", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attrs).To(HaveKeyWithValue("security_rules", "allow-http,allow-ssh"))
		Expect(attrs).To(HaveKeyWithValue("allowed_source", "10.0.0.0/8"))
	})

	It("should render numbers without decimals", func() {
		attrs, err := obs.Observe(ctx, resource.LogWorkspace, "migration-logs-test", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(attrs).To(HaveKeyWithValue("retention_days", "30"))
		Expect(attrs).To(HaveKeyWithValue("sku", "PerGB2018"))
	})

	It("should ignore data sources", func() {
		_, err := obs.Observe(ctx, resource.ResourceGroup, "shared-services", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
	})

	It("should report resources missing from state", func() {
		_, err := obs.Observe(ctx, resource.RecoveryVault, "migration-vault-test", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
	})

	It("should propagate state pull failures", func() {
		fake = testutil.NewFakeRunner().On("state pull", testutil.Exit(1, "Error: Failed to load state: TooManyRequests"))
		obs.Source = &tools.Terraform{Runner: fake, Binary: "terraform"}
		_, err := obs.Observe(ctx, resource.ResourceGroup, "migration-isolation-zone-test", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ServiceUnavailable))
	})

	It("should be idempotent through the inventory", func() {
		inv := inventory.New(obs)
		Expect(inv.Declare("migration-nsg-test", resource.SecurityGroup, resource.Attributes{
			"resource_group": "migration-isolation-zone-test",
		})).To(Succeed())
		first, err := inv.Observe(ctx, "migration-nsg-test")
		Expect(err).NotTo(HaveOccurred())
		second, err := inv.Observe(ctx, "migration-nsg-test")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Observed.Canonical()).To(Equal(first.Observed.Canonical()))
	})
})

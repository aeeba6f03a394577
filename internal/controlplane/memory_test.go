// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package controlplane_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/controlplane"
	"cloudshift/internal/faults"
	"cloudshift/internal/resource"
)

var _ = Describe("MemoryClient", func() {
	var (
		ctx context.Context
		mc  *controlplane.MemoryClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		mc = controlplane.NewMemoryClient()
	})

	It("should return ResourceNotFound for a missing resource", func() {
		_, err := mc.Get(ctx, resource.ResourceGroup, "migration-isolation-zone-test", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
	})

	It("should store and return created attributes", func() {
		attrs := resource.Attributes{"location": "eastus", "tags.Environment": "test"}
		Expect(mc.CreateOrUpdate(ctx, resource.ResourceGroup, "rg", attrs)).To(Succeed())

		got, err := mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(attrs))
		Expect(mc.Gets(resource.ResourceGroup, "rg")).To(Equal(1))
	})

	It("should merge provider defaults", func() {
		mc.WithDefaults(resource.Attributes{"tags.CreatedBy": "policy"})
		Expect(mc.CreateOrUpdate(ctx, resource.ResourceGroup, "rg", resource.Attributes{"location": "eastus"})).To(Succeed())

		got, err := mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveKeyWithValue("tags.CreatedBy", "policy"))
	})

	It("should validate attributes on create", func() {
		err := mc.CreateOrUpdate(ctx, resource.ResourceGroup, "rg", resource.Attributes{"sku": "Standard"})
		Expect(faults.KindOf(err)).To(Equal(faults.UnsupportedConfiguration))
	})

	It("should return queued failures in order", func() {
		mc.Set(resource.ResourceGroup, "rg", resource.Attributes{"location": "eastus"})
		mc.FailNext(resource.ResourceGroup, "rg",
			faults.New(faults.ServiceUnavailable, "get", nil),
			faults.New(faults.ResourceNotFound, "get", nil))

		_, err := mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ServiceUnavailable))
		_, err = mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
		_, err = mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should forget deleted resources", func() {
		mc.Set(resource.ResourceGroup, "rg", resource.Attributes{"location": "eastus"})
		Expect(mc.Delete(ctx, resource.ResourceGroup, "rg", nil)).To(Succeed())
		_, err := mc.Get(ctx, resource.ResourceGroup, "rg", nil)
		Expect(faults.KindOf(err)).To(Equal(faults.ResourceNotFound))
		Expect(mc.Delete(ctx, resource.ResourceGroup, "rg", nil)).To(Succeed())
	})
})

var _ = Describe("LookupRule", func() {
	It("should resolve catalog rules", func() {
		r, err := controlplane.LookupRule("allow-rdp")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Port).To(Equal("3389"))
	})

	It("should reject unknown rules", func() {
		_, err := controlplane.LookupRule("allow-everything")
		Expect(err).To(HaveOccurred())
	})
})

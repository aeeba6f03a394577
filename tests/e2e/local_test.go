//go:build e2e

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/audit"
	"cloudshift/internal/testutil"
)

var _ = Describe("cloudshift against the in-memory control plane", func() {
	var planPath, dbPath string

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		var err error
		planPath, err = testutil.WritePlan(dir, e2ePlan)
		Expect(err).NotTo(HaveOccurred())
		dbPath = filepath.Join(dir, "audit.db")
	})

	It("should migrate every unit and audit the run", func() {
		stdout, _, exitCode, err := testutil.RunCloudshift(localArgs("run", planPath, dbPath)...)
		Expect(err).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(0))
		Expect(stdout).To(ContainSubstring("Completed:    2"))

		a, err := audit.NewSQLiteAuditor(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer a.Close()
		var status string
		Expect(a.DB().QueryRow(`SELECT status FROM audit_log WHERE command = 'run'`).Scan(&status)).To(Succeed())
		Expect(status).To(Equal("completed"))
	})

	It("should roll back a unit whose cutover fails", func() {
		stdout, _, exitCode, err := testutil.RunCloudshift(localArgs("run", planPath, dbPath,
			"--cutover-command", "false {{.ID}}", "--max-retries", "1")...)
		Expect(err).NotTo(HaveOccurred())
		Expect(exitCode).NotTo(Equal(0))
		Expect(stdout).To(MatchRegexp(`web-1\s+RolledBack`))
		Expect(stdout).To(MatchRegexp(`web-2\s+RolledBack`))
	})

	It("should report missing resources as drift", func() {
		stdout, _, exitCode, err := testutil.RunCloudshift(localArgs("drift", planPath, dbPath)...)
		Expect(err).NotTo(HaveOccurred())
		Expect(exitCode).NotTo(Equal(0))
		Expect(stdout).To(ContainSubstring("MISSING  migration-vnet-e2e"))
	})

	It("should fail preflight when units are not in the inventory", func() {
		stdout, _, exitCode, err := testutil.RunCloudshift(localArgs("validate", planPath, dbPath)...)
		Expect(err).NotTo(HaveOccurred())
		Expect(exitCode).NotTo(Equal(0))
		Expect(stdout).To(ContainSubstring("ok    terraform init"))
		Expect(stdout).To(ContainSubstring("FAIL  inventory hosts"))
	})
})

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package platform_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/platform"
	"cloudshift/internal/testutil"
)

var _ = Describe("Command", func() {
	var (
		ctx  context.Context
		fake *testutil.FakeRunner
		cfg  platform.CommandConfig
		unit *migration.Unit
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = testutil.NewFakeRunner()
		cfg = platform.CommandConfig{
			Replicate:    "migrate start --vm {{.ID}} --os {{.OSFamily}} --size {{.SizeClass}}",
			Status:       "migrate status --vm {{.ID}}",
			Cutover:      "migrate cutover --vm {{.ID}}",
			Revert:       "migrate revert --vm {{.ID}}",
			Dir:          "/work",
			Timeout:      time.Minute,
			PollInterval: time.Millisecond,
			ReadyTimeout: 200 * time.Millisecond,
		}
		unit = migration.NewUnit("web-1", migration.Linux, "Standard_B2s", "onprem")
	})

	newPlatform := func() *platform.Command {
		p, err := platform.NewCommand(fake, cfg)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("should require replicate and cutover commands", func() {
		cfg.Cutover = ""
		_, err := platform.NewCommand(fake, cfg)
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
	})

	It("should reject unparsable templates", func() {
		cfg.Replicate = "migrate {{.ID"
		_, err := platform.NewCommand(fake, cfg)
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
	})

	It("should render the unit into the replicate command", func() {
		fake.On("migrate status", testutil.Stdout("completed\n"))
		Expect(newPlatform().Replicate(ctx, unit)).To(Succeed())

		calls := fake.Calls()
		Expect(calls[0].CommandLine()).To(Equal("migrate start --vm web-1 --os Linux --size Standard_B2s"))
		Expect(calls[0].Dir).To(Equal("/work"))
		Expect(calls[0].Timeout).To(Equal(time.Minute))
	})

	It("should keep quoted arguments together", func() {
		cfg.Replicate = `az migrate replicate --tags "owner=ops team" --vm {{.ID}}`
		cfg.Status = ""
		Expect(newPlatform().Replicate(ctx, unit)).To(Succeed())

		calls := fake.Calls()
		Expect(calls[0].Name).To(Equal("az"))
		Expect(calls[0].Args).To(Equal([]string{"migrate", "replicate", "--tags", "owner=ops team", "--vm", "web-1"}))
	})

	It("should reject a command with an unterminated quote", func() {
		cfg.Cutover = `migrate cutover --note "half open {{.ID}}`
		err := newPlatform().Cutover(ctx, unit)
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
		Expect(fake.Calls()).To(BeEmpty())
	})

	It("should poll status until replication completes", func() {
		fake.On("migrate status",
			testutil.Stdout("syncing 10%\nreplicating"),
			testutil.Stdout("replicating"),
			testutil.Stdout("Ready"))
		Expect(newPlatform().Replicate(ctx, unit)).To(Succeed())
		Expect(fake.Count("migrate status")).To(Equal(3))
	})

	It("should fail when the status reports a failure", func() {
		fake.On("migrate status", testutil.Stdout("failed"))
		err := newPlatform().Replicate(ctx, unit)
		Expect(faults.Is(err, faults.CommandFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("web-1"))
	})

	It("should time out a replication that never completes", func() {
		fake.On("migrate status", testutil.Stdout("replicating"))
		err := newPlatform().Replicate(ctx, unit)
		Expect(faults.Is(err, faults.ExecutionTimeout)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`"replicating"`))
	})

	It("should skip polling without a status command", func() {
		cfg.Status = ""
		Expect(newPlatform().Replicate(ctx, unit)).To(Succeed())
		Expect(fake.Calls()).To(HaveLen(1))
	})

	It("should classify a failing command from stderr", func() {
		fake.On("migrate cutover", testutil.Exit(1, "Error: TooManyRequests: rate limit exceeded"))
		err := newPlatform().Cutover(ctx, unit)
		Expect(faults.Is(err, faults.ServiceUnavailable)).To(BeTrue())
	})

	It("should surface runner errors", func() {
		fake.On("migrate start", testutil.Fail(faults.New(faults.ExecutionFailure, "exec", errors.New("not found"))))
		err := newPlatform().Replicate(ctx, unit)
		Expect(faults.Is(err, faults.ExecutionFailure)).To(BeTrue())
	})

	It("should run the revert command", func() {
		Expect(newPlatform().Revert(ctx, unit)).To(Succeed())
		Expect(fake.Count("migrate revert --vm web-1")).To(Equal(1))
	})

	It("should treat a missing revert command as a no-op", func() {
		cfg.Revert = ""
		Expect(newPlatform().Revert(ctx, unit)).To(Succeed())
		Expect(fake.Calls()).To(BeEmpty())
	})

	It("should reject templates referencing unknown fields", func() {
		cfg.Cutover = "migrate cutover {{.Missing}}"
		err := newPlatform().Cutover(ctx, unit)
		Expect(faults.Is(err, faults.InvalidConfiguration)).To(BeTrue())
	})
})

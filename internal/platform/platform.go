// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package platform implements the replicate, cutover and revert steps of a
// migration against a target platform. Command drives an external migration
// tool; KubeVirt imports the source disk into a KubeVirt VirtualMachine.
package platform

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"cloudshift/internal/faults"
)

// Size is the compute shape of a VM size class.
type Size struct {
	CPUCores int
	Memory   string
}

var sizes = map[string]Size{
	"Standard_B2s":    {CPUCores: 2, Memory: "4Gi"},
	"Standard_DS1_v2": {CPUCores: 1, Memory: "3584Mi"},
	"Standard_DS2_v2": {CPUCores: 2, Memory: "7Gi"},
	"Standard_D2s_v3": {CPUCores: 2, Memory: "8Gi"},
	"Standard_D4s_v3": {CPUCores: 4, Memory: "16Gi"},
}

// SizeFor returns the shape of class.
func SizeFor(class string) (Size, error) {
	s, ok := sizes[class]
	if !ok {
		return Size{}, faults.Newf(faults.UnsupportedConfiguration, "size class",
			"unknown size class %q; available: %v", class, SizeClasses())
	}
	return s, nil
}

// SizeClasses returns the known size classes in sorted order.
func SizeClasses() []string {
	names := make([]string, 0, len(sizes))
	for n := range sizes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type settings struct {
	logger *zap.Logger
}

// Option configures a platform.
type Option func(*settings)

// WithLogger sets the platform logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func resolve(opts []Option) settings {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func wrap(op, unitID string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, unitID, err)
}

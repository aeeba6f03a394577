// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"sync"

	"cloudshift/internal/faults"
	"cloudshift/internal/resource"
)

type memoryKey struct {
	kind resource.Kind
	name string
}

// MemoryClient is an in-process control plane. Extra attributes can be
// injected to simulate provider defaults, and failures can be queued per
// resource.
type MemoryClient struct {
	mu        sync.Mutex
	resources map[memoryKey]resource.Attributes
	defaults  resource.Attributes
	failures  map[memoryKey][]error
	gets      map[memoryKey]int
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		resources: map[memoryKey]resource.Attributes{},
		failures:  map[memoryKey][]error{},
		gets:      map[memoryKey]int{},
	}
}

// WithDefaults sets attributes merged into every created resource, like the
// tags a provider or policy adds on its own.
func (m *MemoryClient) WithDefaults(attrs resource.Attributes) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = attrs.Clone()
	return m
}

// CreateOrUpdate implements Client.
func (m *MemoryClient) CreateOrUpdate(ctx context.Context, kind resource.Kind, name string, attrs resource.Attributes) error {
	if err := resource.Validate(kind, attrs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, name}
	if err := m.popFailure(key); err != nil {
		return err
	}
	stored := m.defaults.Clone()
	if stored == nil {
		stored = resource.Attributes{}
	}
	for k, v := range attrs {
		stored[k] = v
	}
	m.resources[key] = stored
	return nil
}

// Get implements Client.
func (m *MemoryClient) Get(ctx context.Context, kind resource.Kind, name string, _ resource.Attributes) (resource.Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, name}
	m.gets[key]++
	if err := m.popFailure(key); err != nil {
		return nil, err
	}
	attrs, ok := m.resources[key]
	if !ok {
		return nil, faults.Newf(faults.ResourceNotFound, "get "+string(kind), "%s %q not found", kind, name)
	}
	return attrs.Clone(), nil
}

// Set replaces a resource's attributes, simulating an out-of-band change.
func (m *MemoryClient) Set(kind resource.Kind, name string, attrs resource.Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[memoryKey{kind, name}] = attrs.Clone()
}

// Delete implements Client.
func (m *MemoryClient) Delete(ctx context.Context, kind resource.Kind, name string, _ resource.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, name}
	if err := m.popFailure(key); err != nil {
		return err
	}
	delete(m.resources, key)
	return nil
}

// FailNext queues errors returned by the next calls touching the resource.
func (m *MemoryClient) FailNext(kind resource.Kind, name string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, name}
	m.failures[key] = append(m.failures[key], errs...)
}

// Gets returns how many times Get was called for the resource.
func (m *MemoryClient) Gets(kind resource.Kind, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[memoryKey{kind, name}]
}

func (m *MemoryClient) popFailure(key memoryKey) error {
	queue := m.failures[key]
	if len(queue) == 0 {
		return nil
	}
	m.failures[key] = queue[1:]
	return queue[0]
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package controlplane is the cloud control-plane client used to observe and
// converge declared infrastructure. Errors are classified as
// faults.ResourceNotFound or faults.ServiceUnavailable for the retry policy.
package controlplane

import (
	"context"
	"fmt"

	"cloudshift/internal/resource"
)

// Client creates, reads and deletes resources of every supported kind.
//
// scope carries the parent addressing attributes (resource_group,
// virtual_network) and may be the resource's declared attribute set.
// Deleting a resource that does not exist succeeds.
type Client interface {
	CreateOrUpdate(ctx context.Context, kind resource.Kind, name string, attrs resource.Attributes) error
	Get(ctx context.Context, kind resource.Kind, name string, scope resource.Attributes) (resource.Attributes, error)
	Delete(ctx context.Context, kind resource.Kind, name string, scope resource.Attributes) error
}

// SecurityRule is one entry of the named inbound rule catalog.
type SecurityRule struct {
	Name     string
	Port     string
	Priority int32
}

var ruleCatalog = map[string]SecurityRule{
	"allow-ssh":   {Name: "allow-ssh", Port: "22", Priority: 100},
	"allow-rdp":   {Name: "allow-rdp", Port: "3389", Priority: 110},
	"allow-http":  {Name: "allow-http", Port: "80", Priority: 120},
	"allow-https": {Name: "allow-https", Port: "443", Priority: 130},
	"allow-winrm": {Name: "allow-winrm", Port: "5986", Priority: 140},
	"allow-sql":   {Name: "allow-sql", Port: "1433", Priority: 150},
}

// LookupRule returns the catalog rule with the given name.
func LookupRule(name string) (SecurityRule, error) {
	r, ok := ruleCatalog[name]
	if !ok {
		return SecurityRule{}, fmt.Errorf("unknown security rule %q", name)
	}
	return r, nil
}

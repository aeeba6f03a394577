// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package resource defines the infrastructure resource kinds a migration
// declares and the fixed attribute schema of each kind.
package resource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cloudshift/internal/faults"
)

// Kind is an infrastructure resource kind.
type Kind string

const (
	ResourceGroup  Kind = "resource_group"
	VirtualNetwork Kind = "virtual_network"
	Subnet         Kind = "subnet"
	SecurityGroup  Kind = "network_security_group"
	StorageAccount Kind = "storage_account"
	RecoveryVault  Kind = "recovery_vault"
	LogWorkspace   Kind = "log_analytics_workspace"
)

// Attribute keys. Not every key is valid for every kind; see Schema.
const (
	KeyLocation       = "location"
	KeyResourceGroup  = "resource_group"
	KeyVirtualNetwork = "virtual_network"
	KeyAddressSpace   = "address_space"
	KeyAddressPrefix  = "address_prefix"
	KeySecurityGroup  = "network_security_group"
	KeySecurityRules  = "security_rules"
	KeyAllowedSource  = "allowed_source"
	KeyAccountTier    = "account_tier"
	KeyReplication    = "replication_type"
	KeyAccountKind    = "account_kind"
	KeySKU            = "sku"
	KeyRetentionDays  = "retention_days"

	// TagPrefix marks tag keys, e.g. "tags.Environment".
	TagPrefix = "tags."
)

var schemas = map[Kind][]string{
	ResourceGroup:  {KeyLocation},
	VirtualNetwork: {KeyResourceGroup, KeyLocation, KeyAddressSpace},
	Subnet:         {KeyResourceGroup, KeyVirtualNetwork, KeyAddressPrefix, KeySecurityGroup},
	SecurityGroup:  {KeyResourceGroup, KeyLocation, KeySecurityRules, KeyAllowedSource},
	StorageAccount: {KeyResourceGroup, KeyLocation, KeyAccountTier, KeyReplication, KeyAccountKind},
	RecoveryVault:  {KeyResourceGroup, KeyLocation, KeySKU},
	LogWorkspace:   {KeyResourceGroup, KeyLocation, KeySKU, KeyRetentionDays},
}

// required lists the keys needed to address a resource in its parent scope.
var required = map[Kind][]string{
	VirtualNetwork: {KeyResourceGroup},
	Subnet:         {KeyResourceGroup, KeyVirtualNetwork},
	SecurityGroup:  {KeyResourceGroup},
	StorageAccount: {KeyResourceGroup},
	RecoveryVault:  {KeyResourceGroup},
	LogWorkspace:   {KeyResourceGroup},
}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{ResourceGroup, VirtualNetwork, Subnet, SecurityGroup, StorageAccount, RecoveryVault, LogWorkspace}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

// Schema returns the attribute keys allowed for k, excluding tags.
func Schema(k Kind) []string {
	return append([]string(nil), schemas[k]...)
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", faults.Newf(faults.UnsupportedConfiguration, "parse resource kind", "unknown resource kind %q", s)
	}
	return k, nil
}

// Attributes is a flat key-value attribute set. Tags are stored under
// "tags.<Name>" keys. List values are comma-joined in sorted order.
type Attributes map[string]string

// Validate checks attrs against the schema of k.
func Validate(k Kind, attrs Attributes) error {
	if !k.Valid() {
		return faults.Newf(faults.UnsupportedConfiguration, "validate attributes", "unknown resource kind %q", k)
	}
	allowed := map[string]bool{}
	for _, key := range schemas[k] {
		allowed[key] = true
	}
	for key := range attrs {
		if strings.HasPrefix(key, TagPrefix) && len(key) > len(TagPrefix) {
			continue
		}
		if !allowed[key] {
			return faults.Newf(faults.UnsupportedConfiguration, "validate attributes", "attribute %q is not valid for %s", key, k)
		}
	}
	for _, key := range required[k] {
		if attrs[key] == "" {
			return faults.Newf(faults.UnsupportedConfiguration, "validate attributes", "%s requires attribute %q", k, key)
		}
	}
	return nil
}

// Clone returns a copy of a. A nil map clones to nil.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the keys of a in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tags returns the tag subset of a with the prefix stripped.
func (a Attributes) Tags() map[string]string {
	tags := map[string]string{}
	for k, v := range a {
		if name, ok := strings.CutPrefix(k, TagPrefix); ok {
			tags[name] = v
		}
	}
	return tags
}

// SetTags stores tags under prefixed keys.
func (a Attributes) SetTags(tags map[string]string) {
	for k, v := range tags {
		a[TagPrefix+k] = v
	}
}

// Canonical returns a deterministic encoding of a. Two attribute sets with
// equal contents always encode to identical bytes.
func (a Attributes) Canonical() string {
	// encoding/json sorts map keys.
	b, err := json.Marshal(map[string]string(a))
	if err != nil {
		return fmt.Sprintf("%v", map[string]string(a))
	}
	return string(b)
}

// JoinList renders a list attribute value.
func JoinList(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// SplitList parses a list attribute value.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LastSegment returns the final path segment of an ARM resource ID.
func LastSegment(id string) string {
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

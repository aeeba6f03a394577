// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cloudshift/internal/controlplane"
	"cloudshift/internal/faults"
	"cloudshift/internal/resource"
)

// ControlPlaneObserver observes resources through the cloud control plane.
type ControlPlaneObserver struct {
	Client controlplane.Client
}

// Observe implements Observer.
func (o *ControlPlaneObserver) Observe(ctx context.Context, kind resource.Kind, name string, declared resource.Attributes) (resource.Attributes, error) {
	return o.Client.Get(ctx, kind, name, declared)
}

// StateSource returns raw Terraform state, e.g. tools.Terraform.StatePull.
type StateSource interface {
	StatePull(ctx context.Context) ([]byte, error)
}

// StateObserver observes resources from the infrastructure tool's state.
type StateObserver struct {
	Source StateSource
}

// tfstate is the subset of the Terraform state format that is read.
type tfstate struct {
	Version   int               `json:"version"`
	Resources []tfstateResource `json:"resources"`
}

type tfstateResource struct {
	Mode      string            `json:"mode"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Instances []tfstateInstance `json:"instances"`
}

type tfstateInstance struct {
	Attributes map[string]any `json:"attributes"`
}

var terraformTypes = map[resource.Kind]string{
	resource.ResourceGroup:  "azurerm_resource_group",
	resource.VirtualNetwork: "azurerm_virtual_network",
	resource.Subnet:         "azurerm_subnet",
	resource.SecurityGroup:  "azurerm_network_security_group",
	resource.StorageAccount: "azurerm_storage_account",
	resource.RecoveryVault:  "azurerm_recovery_services_vault",
	resource.LogWorkspace:   "azurerm_log_analytics_workspace",
}

// stateKeys maps schema keys to Terraform attribute names per kind.
var stateKeys = map[resource.Kind]map[string]string{
	resource.ResourceGroup:  {resource.KeyLocation: "location"},
	resource.VirtualNetwork: {resource.KeyResourceGroup: "resource_group_name", resource.KeyLocation: "location", resource.KeyAddressSpace: "address_space"},
	resource.Subnet:         {resource.KeyResourceGroup: "resource_group_name", resource.KeyVirtualNetwork: "virtual_network_name", resource.KeyAddressPrefix: "address_prefixes"},
	resource.SecurityGroup:  {resource.KeyResourceGroup: "resource_group_name", resource.KeyLocation: "location"},
	resource.StorageAccount: {resource.KeyResourceGroup: "resource_group_name", resource.KeyLocation: "location", resource.KeyAccountTier: "account_tier", resource.KeyReplication: "account_replication_type", resource.KeyAccountKind: "account_kind"},
	resource.RecoveryVault:  {resource.KeyResourceGroup: "resource_group_name", resource.KeyLocation: "location", resource.KeySKU: "sku"},
	resource.LogWorkspace:   {resource.KeyResourceGroup: "resource_group_name", resource.KeyLocation: "location", resource.KeySKU: "sku", resource.KeyRetentionDays: "retention_in_days"},
}

// Observe implements Observer.
func (o *StateObserver) Observe(ctx context.Context, kind resource.Kind, name string, _ resource.Attributes) (resource.Attributes, error) {
	raw, err := o.Source.StatePull(ctx)
	if err != nil {
		return nil, err
	}
	var state tfstate
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, faults.New(faults.ExecutionFailure, "decode terraform state", err)
	}

	inst, ok := findInstance(state, terraformTypes[kind], name)
	if !ok {
		return nil, faults.Newf(faults.ResourceNotFound, "terraform state", "%s %q not in state", kind, name)
	}

	attrs := resource.Attributes{}
	for key, tfKey := range stateKeys[kind] {
		if v, ok := inst.Attributes[tfKey]; ok && v != nil {
			attrs[key] = stateValue(v)
		}
	}
	if tags, ok := inst.Attributes["tags"].(map[string]any); ok {
		for k, v := range tags {
			attrs[resource.TagPrefix+k] = stateValue(v)
		}
	}

	switch kind {
	case resource.Subnet:
		// address_prefixes is a list; the schema tracks the first prefix.
		if prefixes := resource.SplitList(attrs[resource.KeyAddressPrefix]); len(prefixes) > 0 {
			attrs[resource.KeyAddressPrefix] = prefixes[0]
		}
		if nsg, ok := findSubnetAssociation(state, name); ok {
			attrs[resource.KeySecurityGroup] = nsg
		}
	case resource.SecurityGroup:
		rules, source := securityRules(inst.Attributes["security_rule"])
		attrs[resource.KeySecurityRules] = resource.JoinList(rules)
		if source != "" {
			attrs[resource.KeyAllowedSource] = source
		}
	}
	return attrs, nil
}

func findInstance(state tfstate, tfType, name string) (tfstateInstance, bool) {
	for _, r := range state.Resources {
		if r.Mode != "managed" || r.Type != tfType {
			continue
		}
		for _, inst := range r.Instances {
			if n, _ := inst.Attributes["name"].(string); n == name {
				return inst, true
			}
		}
	}
	return tfstateInstance{}, false
}

func findSubnetAssociation(state tfstate, subnet string) (string, bool) {
	for _, r := range state.Resources {
		if r.Type != "azurerm_subnet_network_security_group_association" {
			continue
		}
		for _, inst := range r.Instances {
			subnetID, _ := inst.Attributes["subnet_id"].(string)
			nsgID, _ := inst.Attributes["network_security_group_id"].(string)
			if resource.LastSegment(subnetID) == subnet && nsgID != "" {
				return resource.LastSegment(nsgID), true
			}
		}
	}
	return "", false
}

// securityRules returns the rule names and, when all rules share one, the
// source address prefix.
func securityRules(v any) ([]string, string) {
	list, _ := v.([]any)
	var names []string
	sources := map[string]bool{}
	for _, item := range list {
		rule, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := rule["name"].(string); ok {
			names = append(names, n)
		}
		if s, ok := rule["source_address_prefix"].(string); ok && s != "" {
			sources[s] = true
		}
	}
	if len(sources) != 1 {
		return names, ""
	}
	for s := range sources {
		return names, s
	}
	return names, ""
}

// stateValue renders a decoded JSON value as an attribute string.
func stateValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, stateValue(item))
		}
		return resource.JoinList(items)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+stateValue(t[k]))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"cloudshift/internal/constants"
	"cloudshift/internal/resource"
)

// Landing zone network defaults.
const (
	DefaultAddressSpace  = "10.0.0.0/16"
	DefaultSubnetPrefix  = "10.0.1.0/24"
	DefaultAllowedSource = "0.0.0.0/0"
)

// DefaultTags returns the tags stamped on every landing zone resource.
func DefaultTags(env string) map[string]string {
	return map[string]string{
		"Project":     constants.DefaultProject,
		"Environment": env,
		"ManagedBy":   constants.ManagedByValue,
	}
}

// DefaultResources declares the standard migration landing zone of env:
// an isolation resource group with a network, subnet and NSG, a diagnostics
// storage account, a recovery vault and a log workspace.
func DefaultResources(env, location string) []ResourceSpec {
	rg := constants.ResourceName(constants.RoleResourceGroup, env)
	vnet := constants.ResourceName(constants.RoleVirtualNetwork, env)
	nsg := constants.ResourceName(constants.RoleSecurityGroup, env)
	tags := DefaultTags(env)

	return []ResourceSpec{
		{
			Name:       rg,
			Kind:       string(resource.ResourceGroup),
			Attributes: map[string]string{resource.KeyLocation: location},
			Tags:       tags,
		},
		{
			Name: vnet,
			Kind: string(resource.VirtualNetwork),
			Attributes: map[string]string{
				resource.KeyResourceGroup: rg,
				resource.KeyLocation:      location,
				resource.KeyAddressSpace:  DefaultAddressSpace,
			},
			Tags: tags,
		},
		{
			Name: nsg,
			Kind: string(resource.SecurityGroup),
			Attributes: map[string]string{
				resource.KeyResourceGroup: rg,
				resource.KeyLocation:      location,
				resource.KeySecurityRules: resource.JoinList([]string{"allow-rdp", "allow-ssh", "allow-winrm"}),
				resource.KeyAllowedSource: DefaultAllowedSource,
			},
			Tags: tags,
		},
		{
			Name: constants.ResourceName(constants.RoleSubnet, env),
			Kind: string(resource.Subnet),
			Attributes: map[string]string{
				resource.KeyResourceGroup:  rg,
				resource.KeyVirtualNetwork: vnet,
				resource.KeyAddressPrefix:  DefaultSubnetPrefix,
				resource.KeySecurityGroup:  nsg,
			},
		},
		{
			Name: constants.ResourceName(constants.RoleDiagnostics, env),
			Kind: string(resource.StorageAccount),
			Attributes: map[string]string{
				resource.KeyResourceGroup: rg,
				resource.KeyLocation:      location,
				resource.KeyAccountTier:   "Standard",
				resource.KeyReplication:   "LRS",
				resource.KeyAccountKind:   "StorageV2",
			},
			Tags: tags,
		},
		{
			Name: constants.ResourceName(constants.RoleRecoveryVault, env),
			Kind: string(resource.RecoveryVault),
			Attributes: map[string]string{
				resource.KeyResourceGroup: rg,
				resource.KeyLocation:      location,
				resource.KeySKU:           "Standard",
			},
			Tags: tags,
		},
		{
			Name: constants.ResourceName(constants.RoleLogWorkspace, env),
			Kind: string(resource.LogWorkspace),
			Attributes: map[string]string{
				resource.KeyResourceGroup: rg,
				resource.KeyLocation:      location,
				resource.KeySKU:           "PerGB2018",
				resource.KeyRetentionDays: "30",
			},
			Tags: tags,
		},
	}
}

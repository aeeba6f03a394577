// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package constants

import (
	"strings"
	"time"
)

// Pipeline defaults.
const (
	DefaultWaveSize             = 5
	DefaultMaxConcurrency       = 2
	DefaultMaxRetries           = 3
	DefaultMaxValidationRetries = 3
	DefaultRetryBaseDelay       = 5 * time.Second
	DefaultCommandTimeout       = 30 * time.Minute
	DefaultLockTimeout          = 5 * time.Minute
)

// External tool defaults.
const (
	DefaultTerraformBinary       = "terraform"
	DefaultTerraformDir          = "terraform"
	DefaultPlanFile              = "tfplan"
	DefaultAnsibleBinary         = "ansible"
	DefaultAnsiblePlaybookBinary = "ansible-playbook"
	DefaultAnsibleInventory      = "ansible/inventory/hosts.ini"
	DefaultPlaybookDir           = "ansible/playbooks"
	LinuxPlaybook                = "linux-post-migration.yml"
	WindowsPlaybook              = "windows-post-migration.yml"
)

// Backend selectors.
const (
	PlatformCommand         = "command"
	PlatformKubeVirt        = "kubevirt"
	ProvisionerTerraform    = "terraform"
	ProvisionerControlPlane = "controlplane"
	ObserverTerraform       = "terraform"
	ObserverAzure           = "azure"
	ObserverMemory          = "memory"
)

// Environment defaults.
const (
	DefaultEnvironment = "test"
	DefaultLocation    = "eastus"
	DefaultProject     = "VM Migration"
	DefaultAuditDBPath = "cloudshift.db"
	DefaultLogLevel    = "info"
)

// KubeVirt target defaults.
const (
	DefaultNamespace    = "cloudshift"
	DefaultDiskSize     = "30Gi"
	DefaultSSHUser      = "azureuser"
	DefaultReadyTimeout = 600 * time.Second
	DefaultPollInterval = 15 * time.Second
)

// Kubernetes recommended labels.
const (
	LabelAppName   = "app.kubernetes.io/name"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelComponent = "app.kubernetes.io/component"
	LabelUnitID    = "cloudshift.io/unit-id"
	LabelOSFamily  = "cloudshift.io/os-family"
	LabelRunID     = "cloudshift.io/run-id"
	ManagedByValue = "cloudshift"
)

// Landing zone resource roles. ResourceName builds the logical name for one.
const (
	RoleResourceGroup  = "isolation-zone"
	RoleVirtualNetwork = "vnet"
	RoleSubnet         = "subnet"
	RoleSecurityGroup  = "nsg"
	RoleDiagnostics    = "diag"
	RoleRecoveryVault  = "vault"
	RoleLogWorkspace   = "logs"
)

// ResourceName returns the conventional name of a landing zone resource for
// env. Storage account names cannot contain dashes and are lower-cased.
func ResourceName(role, env string) string {
	if role == RoleDiagnostics {
		return strings.ToLower("migration" + role + strings.ReplaceAll(env, "-", ""))
	}
	return "migration-" + role + "-" + env
}

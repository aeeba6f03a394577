// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/cleanup"
	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/osprofile"
	"cloudshift/internal/resources"
	"cloudshift/internal/vm"
	"cloudshift/internal/wait"
)

// KubeVirtConfig configures the KubeVirt platform.
type KubeVirtConfig struct {
	Namespace    string
	DiskSize     string
	ReadyTimeout time.Duration
	PollInterval time.Duration
	Profiles     osprofile.Registry
	ProfileOpts  []osprofile.Option
	// RunID, when set, labels every created object with the run that
	// created it.
	RunID string
}

// KubeVirt migrates a unit by importing its source image into a DataVolume
// and booting a VirtualMachine from it.
type KubeVirt struct {
	client client.Client
	cfg    KubeVirtConfig
	logger *zap.Logger
}

// NewKubeVirt returns a KubeVirt platform; zero config fields take defaults.
func NewKubeVirt(c client.Client, cfg KubeVirtConfig, opts ...Option) *KubeVirt {
	if cfg.Namespace == "" {
		cfg.Namespace = constants.DefaultNamespace
	}
	if cfg.DiskSize == "" {
		cfg.DiskSize = constants.DefaultDiskSize
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = constants.DefaultReadyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.Profiles == nil {
		cfg.Profiles = osprofile.DefaultRegistry()
	}
	return &KubeVirt{client: c, cfg: cfg, logger: resolve(opts).logger}
}

// VMName returns the VirtualMachine name of a unit.
func VMName(unitID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, unitID)
}

// Replicate creates a stopped VM whose root disk imports the unit's source
// image and waits for the import to finish.
func (k *KubeVirt) Replicate(ctx context.Context, u *migration.Unit) error {
	size, err := SizeFor(u.SizeClass)
	if err != nil {
		return wrap("replicate", u.ID, err)
	}
	if u.SourceImage == "" {
		return wrap("replicate", u.ID, faults.Newf(faults.InvalidConfiguration, "replicate", "no source image"))
	}
	profile, err := k.cfg.Profiles.Get(u.OSFamily, k.cfg.ProfileOpts...)
	if err != nil {
		return wrap("replicate", u.ID, err)
	}

	name := VMName(u.ID)
	labels := resources.UnitLabels(u.ID, string(u.OSFamily))
	if k.cfg.RunID != "" {
		labels[constants.LabelRunID] = k.cfg.RunID
	}
	if err := resources.EnsureNamespace(ctx, k.client, k.cfg.Namespace, nil); err != nil {
		return wrap("replicate", u.ID, classifyKube("ensure namespace", err))
	}

	var secretName string
	userdata, err := profile.UserData(name)
	if err != nil {
		return wrap("replicate", u.ID, faults.New(faults.InvalidConfiguration, "cloud-init", err))
	}
	if userdata != "" {
		secretName = resources.CloudInitSecretName(name)
		if err := resources.ApplyCloudInitSecret(ctx, k.client, secretName, k.cfg.Namespace, userdata, labels); err != nil {
			return wrap("replicate", u.ID, classifyKube("apply cloud-init secret", err))
		}
	}

	spec := vm.BuildVMSpec(vm.SpecOpts{
		Name:                name,
		Namespace:           k.cfg.Namespace,
		SourceImage:         u.SourceImage,
		DiskSize:            k.cfg.DiskSize,
		CPUCores:            size.CPUCores,
		Memory:              size.Memory,
		CloudInitSecretName: secretName,
		Labels:              labels,
	})
	if err := vm.CreateVM(ctx, k.client, spec); err != nil {
		return wrap("replicate", u.ID, classifyKube("create VM", err))
	}
	k.logger.Info("importing root disk",
		zap.String("unit", u.ID),
		zap.String("vm", name),
		zap.String("namespace", k.cfg.Namespace))

	err = wait.ForDataVolume(ctx, k.client, vm.RootDataVolumeName(name), k.cfg.Namespace, k.cfg.ReadyTimeout, k.cfg.PollInterval)
	return wrap("replicate", u.ID, classifyKube("wait for import", err))
}

// Cutover starts the VM and waits for its instance to run.
func (k *KubeVirt) Cutover(ctx context.Context, u *migration.Unit) error {
	name := VMName(u.ID)
	if err := vm.SetRunning(ctx, k.client, name, k.cfg.Namespace, true); err != nil {
		return wrap("cutover", u.ID, classifyKube("start VM", err))
	}
	err := wait.ForVMIRunning(ctx, k.client, name, k.cfg.Namespace, k.cfg.ReadyTimeout, k.cfg.PollInterval)
	return wrap("cutover", u.ID, classifyKube("wait for VMI", err))
}

// Revert deletes every object labelled with the unit's ID.
func (k *KubeVirt) Revert(ctx context.Context, u *migration.Unit) error {
	result, err := cleanup.Managed(ctx, k.client, cleanup.Scope{Namespace: k.cfg.Namespace, UnitID: u.ID})
	if err != nil {
		return wrap("revert", u.ID, classifyKube("cleanup", err))
	}
	k.logger.Info("reverted unit",
		zap.String("unit", u.ID),
		zap.Int("vms", result.VMsDeleted),
		zap.Int("dataVolumes", result.DataVolumesDeleted),
		zap.Int("secrets", result.SecretsDeleted))
	return wrap("revert", u.ID, errors.Join(result.Errors...))
}

// classifyKube maps Kubernetes API errors onto the failure taxonomy.
// Already classified errors pass through.
func classifyKube(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		return err
	}
	var kind faults.Kind
	switch {
	case apierrors.IsNotFound(err):
		kind = faults.ResourceNotFound
	case apierrors.IsTooManyRequests(err), apierrors.IsServerTimeout(err), apierrors.IsTimeout(err),
		apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err):
		kind = faults.ServiceUnavailable
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		kind = faults.AuthFailure
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		kind = faults.InvalidConfiguration
	case apierrors.IsAlreadyExists(err), apierrors.IsConflict(err):
		kind = faults.CommandFailed
	case meta.IsNoMatchError(err):
		kind = faults.UnsupportedConfiguration
	default:
		kind = faults.KindOf(err)
	}
	return faults.New(kind, op, err)
}

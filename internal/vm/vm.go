// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package vm builds and manages the KubeVirt VirtualMachines that migrated
// units land on. The root disk is imported by CDI from the unit's source
// image and the VM stays stopped until cutover.
package vm

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kwait "k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	kubevirtv1 "kubevirt.io/api/core/v1"
	cdiv1beta1 "kubevirt.io/containerized-data-importer-api/pkg/apis/core/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	rootDisk      = "rootdisk"
	cloudInitDisk = "cloudinitdisk"
	registryProto = "docker://"
)

var baseRetryBackoff = time.Second

// SpecOpts contains the parameters of a migrated VirtualMachine.
type SpecOpts struct {
	Name      string
	Namespace string
	// SourceImage is an http(s) URL of a disk image, or a docker:// registry
	// reference to a container disk.
	SourceImage string
	DiskSize    string
	CPUCores    int
	Memory      string
	// CloudInitSecretName, when set, attaches a NoCloud disk from the secret.
	CloudInitSecretName string
	Labels              map[string]string
	Running             bool
}

// RootDataVolumeName returns the name of the imported root disk of vmName.
func RootDataVolumeName(vmName string) string {
	return vmName + "-root"
}

// BuildVMSpec constructs a VirtualMachine that boots from an imported root
// disk with masquerade networking and virtio disks.
func BuildVMSpec(opts SpecOpts) *kubevirtv1.VirtualMachine {
	running := opts.Running
	dvName := RootDataVolumeName(opts.Name)

	disks := []kubevirtv1.Disk{virtioDisk(rootDisk)}
	volumes := []kubevirtv1.Volume{{
		Name: rootDisk,
		VolumeSource: kubevirtv1.VolumeSource{
			DataVolume: &kubevirtv1.DataVolumeSource{Name: dvName},
		},
	}}
	if opts.CloudInitSecretName != "" {
		disks = append(disks, virtioDisk(cloudInitDisk))
		volumes = append(volumes, kubevirtv1.Volume{
			Name: cloudInitDisk,
			VolumeSource: kubevirtv1.VolumeSource{
				CloudInitNoCloud: &kubevirtv1.CloudInitNoCloudSource{
					UserDataSecretRef: &corev1.LocalObjectReference{Name: opts.CloudInitSecretName},
				},
			},
		})
	}

	return &kubevirtv1.VirtualMachine{
		TypeMeta: metav1.TypeMeta{
			APIVersion: kubevirtv1.SchemeGroupVersion.String(),
			Kind:       "VirtualMachine",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
			Labels:    opts.Labels,
		},
		Spec: kubevirtv1.VirtualMachineSpec{
			Running: &running,
			Template: &kubevirtv1.VirtualMachineInstanceTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: opts.Labels},
				Spec: kubevirtv1.VirtualMachineInstanceSpec{
					Domain: kubevirtv1.DomainSpec{
						CPU: &kubevirtv1.CPU{Cores: uint32(opts.CPUCores)},
						Resources: kubevirtv1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse(opts.Memory),
							},
						},
						Devices: kubevirtv1.Devices{
							Disks: disks,
							Interfaces: []kubevirtv1.Interface{{
								Name: "default",
								InterfaceBindingMethod: kubevirtv1.InterfaceBindingMethod{
									Masquerade: &kubevirtv1.InterfaceMasquerade{},
								},
							}},
						},
					},
					Networks: []kubevirtv1.Network{{
						Name:          "default",
						NetworkSource: kubevirtv1.NetworkSource{Pod: &kubevirtv1.PodNetwork{}},
					}},
					Volumes: volumes,
				},
			},
			DataVolumeTemplates: []kubevirtv1.DataVolumeTemplateSpec{
				BuildImportTemplate(dvName, opts.SourceImage, opts.DiskSize, opts.Labels),
			},
		},
	}
}

// BuildImportTemplate returns a DataVolume template that imports source
// into a disk of the given size.
func BuildImportTemplate(name, source, size string, labels map[string]string) kubevirtv1.DataVolumeTemplateSpec {
	src := &cdiv1beta1.DataVolumeSource{}
	if strings.HasPrefix(source, registryProto) {
		url := source
		src.Registry = &cdiv1beta1.DataVolumeSourceRegistry{URL: &url}
	} else {
		src.HTTP = &cdiv1beta1.DataVolumeSourceHTTP{URL: source}
	}
	return kubevirtv1.DataVolumeTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Spec: cdiv1beta1.DataVolumeSpec{
			Source: src,
			Storage: &cdiv1beta1.StorageSpec{
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceStorage: resource.MustParse(size),
					},
				},
			},
		},
	}
}

func virtioDisk(name string) kubevirtv1.Disk {
	return kubevirtv1.Disk{
		Name: name,
		DiskDevice: kubevirtv1.DiskDevice{
			Disk: &kubevirtv1.DiskTarget{Bus: "virtio"},
		},
	}
}

// CreateVM creates a VirtualMachine. An existing VM counts as created.
func CreateVM(ctx context.Context, c client.Client, vm *kubevirtv1.VirtualMachine) error {
	return onTransient(ctx, func() error {
		err := c.Create(ctx, vm)
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
}

// DeleteVM deletes a VirtualMachine. A missing VM counts as deleted.
func DeleteVM(ctx context.Context, c client.Client, name, namespace string) error {
	vm := &kubevirtv1.VirtualMachine{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace}}
	return onTransient(ctx, func() error {
		err := c.Delete(ctx, vm)
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// SetRunning sets spec.running, re-reading the VM on update conflicts.
func SetRunning(ctx context.Context, c client.Client, name, namespace string, running bool) error {
	return retry.RetryOnConflict(backoff(), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		vm := &kubevirtv1.VirtualMachine{}
		if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, vm); err != nil {
			return fmt.Errorf("getting VM %s/%s: %w", namespace, name, err)
		}
		if vm.Spec.Running != nil && *vm.Spec.Running == running {
			return nil
		}
		vm.Spec.Running = &running
		return c.Update(ctx, vm)
	})
}

// ListVMs returns VirtualMachines matching labels in the namespace.
func ListVMs(ctx context.Context, c client.Client, namespace string, labels map[string]string) ([]kubevirtv1.VirtualMachine, error) {
	vmList := &kubevirtv1.VirtualMachineList{}
	if err := c.List(ctx, vmList, client.InNamespace(namespace), client.MatchingLabels(labels)); err != nil {
		return nil, fmt.Errorf("listing VMs in %s: %w", namespace, err)
	}
	return vmList.Items, nil
}

// GetVMIPhase returns the phase of a VirtualMachineInstance.
func GetVMIPhase(ctx context.Context, c client.Client, name, namespace string) (kubevirtv1.VirtualMachineInstancePhase, error) {
	vmi := &kubevirtv1.VirtualMachineInstance{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, vmi); err != nil {
		return "", fmt.Errorf("getting VMI %s/%s: %w", namespace, name, err)
	}
	return vmi.Status.Phase, nil
}

// GetDataVolumePhase returns the phase and progress of a DataVolume.
func GetDataVolumePhase(ctx context.Context, c client.Client, name, namespace string) (cdiv1beta1.DataVolumePhase, string, error) {
	dv := &cdiv1beta1.DataVolume{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, dv); err != nil {
		return "", "", fmt.Errorf("getting DataVolume %s/%s: %w", namespace, name, err)
	}
	return dv.Status.Phase, string(dv.Status.Progress), nil
}

func backoff() kwait.Backoff {
	return kwait.Backoff{Duration: baseRetryBackoff, Factor: 2, Steps: 6}
}

// onTransient retries fn on throttling and server-side API errors.
func onTransient(ctx context.Context, fn func() error) error {
	err := retry.OnError(backoff(), isTransientError, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	})
	if err != nil && isTransientError(err) {
		return fmt.Errorf("retries exceeded: %w", err)
	}
	return err
}

func isTransientError(err error) bool {
	return apierrors.IsTooManyRequests(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err)
}

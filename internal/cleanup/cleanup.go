// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package cleanup removes the KubeVirt objects cloudshift created for
// migrated units.
package cleanup

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubevirtv1 "kubevirt.io/api/core/v1"
	cdiv1beta1 "kubevirt.io/containerized-data-importer-api/pkg/apis/core/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/constants"
)

// Scope selects what to remove.
type Scope struct {
	Namespace string
	// UnitID limits removal to one unit's objects when set.
	UnitID          string
	DeleteNamespace bool
}

// Result summarises a cleanup. Per-object failures are collected in Errors
// and do not stop the cleanup.
type Result struct {
	VMsDeleted         int
	DataVolumesDeleted int
	SecretsDeleted     int
	NamespaceDeleted   bool
	Errors             []error
	// UnitIDs are the unit IDs found on removed objects, sorted.
	UnitIDs []string
	// RunIDs are the runs that created the removed objects, sorted.
	RunIDs []string
}

// Selector returns the label selector for scope.
func Selector(scope Scope) map[string]string {
	labels := map[string]string{constants.LabelManagedBy: constants.ManagedByValue}
	if scope.UnitID != "" {
		labels[constants.LabelUnitID] = scope.UnitID
	}
	return labels
}

// Managed deletes cloudshift-managed VMs, DataVolumes and secrets in the
// scope, then the namespace if asked. A failed list aborts the cleanup.
func Managed(ctx context.Context, c client.Client, scope Scope) (*Result, error) {
	result := &Result{}
	units := map[string]struct{}{}
	runs := map[string]struct{}{}
	opts := []client.ListOption{
		client.InNamespace(scope.Namespace),
		client.MatchingLabels(Selector(scope)),
	}

	kinds := []struct {
		name    string
		list    client.ObjectList
		counter *int
	}{
		{"VM", &kubevirtv1.VirtualMachineList{}, &result.VMsDeleted},
		{"DataVolume", &cdiv1beta1.DataVolumeList{}, &result.DataVolumesDeleted},
		{"secret", &corev1.SecretList{}, &result.SecretsDeleted},
	}
	for _, k := range kinds {
		if err := c.List(ctx, k.list, opts...); err != nil {
			return result, fmt.Errorf("listing %ss in %s: %w", k.name, scope.Namespace, err)
		}
		items, err := meta.ExtractList(k.list)
		if err != nil {
			return result, fmt.Errorf("reading %s list: %w", k.name, err)
		}
		for _, item := range items {
			obj, ok := item.(client.Object)
			if !ok {
				continue
			}
			if id := obj.GetLabels()[constants.LabelUnitID]; id != "" {
				units[id] = struct{}{}
			}
			if id := obj.GetLabels()[constants.LabelRunID]; id != "" {
				runs[id] = struct{}{}
			}
			if err := c.Delete(ctx, obj); err != nil {
				if !apierrors.IsNotFound(err) {
					result.Errors = append(result.Errors, fmt.Errorf("deleting %s %s: %w", k.name, obj.GetName(), err))
				}
				continue
			}
			*k.counter++
		}
	}

	for id := range units {
		result.UnitIDs = append(result.UnitIDs, id)
	}
	sort.Strings(result.UnitIDs)
	for id := range runs {
		result.RunIDs = append(result.RunIDs, id)
	}
	sort.Strings(result.RunIDs)

	if scope.DeleteNamespace {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: scope.Namespace}}
		if err := c.Delete(ctx, ns); err != nil {
			if !apierrors.IsNotFound(err) {
				result.Errors = append(result.Errors, fmt.Errorf("deleting namespace %s: %w", scope.Namespace, err))
			}
		} else {
			result.NamespaceDeleted = true
		}
	}
	return result, nil
}

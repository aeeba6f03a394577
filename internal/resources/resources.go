// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package resources manages the supporting Kubernetes objects of a migrated
// VM: its namespace, labels and cloud-init secret.
package resources

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/constants"
)

// UserDataKey is the secret key KubeVirt reads NoCloud user data from.
const UserDataKey = "userdata"

// UnitLabels returns the labels stamped on every object of a unit.
func UnitLabels(unitID, osFamily string) map[string]string {
	return map[string]string{
		constants.LabelAppName:   constants.ManagedByValue,
		constants.LabelManagedBy: constants.ManagedByValue,
		constants.LabelComponent: "migrated-vm",
		constants.LabelUnitID:    unitID,
		constants.LabelOSFamily:  osFamily,
	}
}

// CloudInitSecretName returns the cloud-init secret name of a VM.
func CloudInitSecretName(vmName string) string {
	return vmName + "-cloudinit"
}

// EnsureNamespace creates the namespace if it does not exist.
func EnsureNamespace(ctx context.Context, c client.Client, name string, labels map[string]string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
	if err := c.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	return nil
}

// ApplyCloudInitSecret creates the secret holding userdata, or updates it
// when it exists with different content.
func ApplyCloudInitSecret(ctx context.Context, c client.Client, name, namespace, userdata string, labels map[string]string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Data:       map[string][]byte{UserDataKey: []byte(userdata)},
	}
	err := c.Create(ctx, secret)
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating secret %s/%s: %w", namespace, name, err)
	}

	existing := &corev1.Secret{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, existing); err != nil {
		return fmt.Errorf("getting secret %s/%s: %w", namespace, name, err)
	}
	if string(existing.Data[UserDataKey]) == userdata {
		return nil
	}
	if existing.Data == nil {
		existing.Data = map[string][]byte{}
	}
	existing.Data[UserDataKey] = []byte(userdata)
	if err := c.Update(ctx, existing); err != nil {
		return fmt.Errorf("updating secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

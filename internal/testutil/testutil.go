// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for unit, integration and E2E
// tests: scripted runners and orchestrator collaborators, cluster helpers
// and the cloudshift binary.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/cleanup"
	"cloudshift/internal/cluster"
	"cloudshift/internal/constants"
)

// UniqueNamespace returns a namespace name like "cloudshift-test-<prefix>-<random>"
// to avoid collisions between parallel test runs.
func UniqueNamespace(prefix string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("cloudshift-test-%s-%s", prefix, hex.EncodeToString(b))
}

// MustConnect connects to the cluster using the given kubeconfig path.
// If kubeconfigPath is empty, it checks the KUBECONFIG environment variable
// before falling back to default kubeconfig resolution.
// Panics on failure, for suite setup where no cluster means no tests.
func MustConnect(kubeconfigPath string) client.Client {
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	c, err := cluster.Connect(kubeconfigPath)
	if err != nil {
		panic(fmt.Sprintf("testutil.MustConnect: %v", err))
	}
	return c
}

// ManagedLabels returns the managed-by label set every cloudshift object
// carries.
func ManagedLabels() map[string]string {
	return map[string]string{
		constants.LabelManagedBy: constants.ManagedByValue,
	}
}

// CleanupNamespace deletes all cloudshift-managed objects in the namespace,
// then the namespace itself. Errors are ignored. Suitable for use with
// Ginkgo's DeferCleanup.
func CleanupNamespace(ctx context.Context, c client.Client, namespace string) {
	_, _ = cleanup.Managed(ctx, c, cleanup.Scope{Namespace: namespace, DeleteNamespace: true})
}

// EnsureTestNamespace creates a namespace with the managed-by label.
func EnsureTestNamespace(ctx context.Context, c client.Client, namespace string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   namespace,
			Labels: ManagedLabels(),
		},
	}
	err := c.Create(ctx, ns)
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// WritePlan writes a plan file into dir and returns its path.
func WritePlan(dir, content string) (string, error) {
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing plan: %w", err)
	}
	return path, nil
}

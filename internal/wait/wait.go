// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package wait polls KubeVirt and CDI objects until a migrated VM reaches
// the state a phase needs.
package wait

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	kwait "k8s.io/apimachinery/pkg/util/wait"
	kubevirtv1 "kubevirt.io/api/core/v1"
	cdiv1beta1 "kubevirt.io/containerized-data-importer-api/pkg/apis/core/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/faults"
)

// ForVMIRunning polls the VMI until it is Running. A missing VMI keeps
// polling; a Failed VMI stops with CommandFailed.
func ForVMIRunning(ctx context.Context, c client.Client, name, namespace string, timeout, interval time.Duration) error {
	what := fmt.Sprintf("VMI %s/%s", namespace, name)
	return poll(ctx, what, timeout, interval, func(ctx context.Context) (bool, error) {
		vmi := &kubevirtv1.VirtualMachineInstance{}
		if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, vmi); err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, fmt.Errorf("getting %s: %w", what, err)
		}
		switch vmi.Status.Phase {
		case kubevirtv1.Running:
			return true, nil
		case kubevirtv1.Failed:
			return false, faults.Newf(faults.CommandFailed, "wait", "%s failed", what)
		}
		return false, nil
	})
}

// ForDataVolume polls the DataVolume until its import Succeeded. A Failed
// import stops with CommandFailed.
func ForDataVolume(ctx context.Context, c client.Client, name, namespace string, timeout, interval time.Duration) error {
	what := fmt.Sprintf("DataVolume %s/%s", namespace, name)
	return poll(ctx, what, timeout, interval, func(ctx context.Context) (bool, error) {
		dv := &cdiv1beta1.DataVolume{}
		if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, dv); err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, fmt.Errorf("getting %s: %w", what, err)
		}
		switch dv.Status.Phase {
		case cdiv1beta1.Succeeded:
			return true, nil
		case cdiv1beta1.Failed:
			return false, faults.Newf(faults.CommandFailed, "wait", "%s import failed", what)
		}
		return false, nil
	})
}

func poll(ctx context.Context, what string, timeout, interval time.Duration, cond kwait.ConditionWithContextFunc) error {
	err := kwait.PollUntilContextTimeout(ctx, interval, timeout, true, cond)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
	case kwait.Interrupted(err):
		return faults.Newf(faults.ExecutionTimeout, "wait", "timed out after %s waiting for %s", timeout, what)
	}
	return err
}

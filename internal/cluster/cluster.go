// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package cluster connects to the Kubernetes cluster that hosts the KubeVirt
// migration target.
package cluster

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	kubevirtv1 "kubevirt.io/api/core/v1"
	cdiv1beta1 "kubevirt.io/containerized-data-importer-api/pkg/apis/core/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"cloudshift/internal/faults"
)

// NewScheme builds a runtime.Scheme with core, KubeVirt and CDI types.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	_ = kubevirtv1.AddToScheme(scheme)
	_ = cdiv1beta1.AddToScheme(scheme)
	return scheme
}

// RESTConfig resolves the cluster configuration. An explicit kubeconfig
// path wins; otherwise in-cluster configuration is tried before the default
// kubeconfig loading rules.
func RESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, faults.New(faults.InvalidConfiguration, "load kubeconfig",
				fmt.Errorf("building kubeconfig from %q: %w", kubeconfigPath, err))
		}
		return cfg, nil
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(), &clientcmd.ConfigOverrides{})
	cfg, err := loader.ClientConfig()
	if err != nil {
		return nil, faults.New(faults.InvalidConfiguration, "load kubeconfig",
			fmt.Errorf("no in-cluster config and no usable default kubeconfig: %w", err))
	}
	return cfg, nil
}

// Connect creates a controller-runtime client for the cluster.
func Connect(kubeconfigPath string) (client.Client, error) {
	cfg, err := RESTConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, faults.New(faults.ServiceUnavailable, "connect cluster",
			fmt.Errorf("creating controller-runtime client: %w", err))
	}
	return c, nil
}

// CheckKubeVirt verifies the VirtualMachine and DataVolume APIs are served.
func CheckKubeVirt(ctx context.Context, c client.Client, namespace string) error {
	lists := map[string]client.ObjectList{
		"KubeVirt": &kubevirtv1.VirtualMachineList{},
		"CDI":      &cdiv1beta1.DataVolumeList{},
	}
	for name, list := range lists {
		err := c.List(ctx, list, client.InNamespace(namespace), client.Limit(1))
		if meta.IsNoMatchError(err) {
			return faults.Newf(faults.UnsupportedConfiguration, "check cluster", "%s is not installed on the cluster", name)
		}
		if err != nil {
			return faults.New(faults.ServiceUnavailable, "check cluster", fmt.Errorf("listing %s objects: %w", name, err))
		}
	}
	return nil
}

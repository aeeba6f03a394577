// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"

	"cloudshift/internal/faults"
	"cloudshift/internal/resource"
)

// AzureConfig identifies the subscription the client operates on.
type AzureConfig struct {
	SubscriptionID string
	ClientOptions  *arm.ClientOptions
	Logger         *zap.Logger
}

// genericType maps kinds without a typed SDK client in use to their ARM
// provider type and API version.
var genericType = map[resource.Kind]struct {
	provider   string
	apiVersion string
}{
	resource.StorageAccount: {"Microsoft.Storage/storageAccounts", "2023-01-01"},
	resource.RecoveryVault:  {"Microsoft.RecoveryServices/vaults", "2023-04-01"},
	resource.LogWorkspace:   {"Microsoft.OperationalInsights/workspaces", "2022-10-01"},
}

// AzureClient is a Client backed by Azure Resource Manager.
type AzureClient struct {
	subscriptionID string
	logger         *zap.Logger

	groups  *armresources.ResourceGroupsClient
	generic *armresources.Client
	vnets   *armnetwork.VirtualNetworksClient
	subnets *armnetwork.SubnetsClient
	nsgs    *armnetwork.SecurityGroupsClient
}

// NewAzureClient builds an AzureClient with the default credential chain
// (environment, workload identity, managed identity, Azure CLI).
func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, faults.New(faults.AuthFailure, "azure credential", err)
	}
	return NewAzureClientWithCredential(cfg, cred)
}

// NewAzureClientWithCredential builds an AzureClient with an explicit
// credential.
func NewAzureClientWithCredential(cfg AzureConfig, cred azcore.TokenCredential) (*AzureClient, error) {
	if cfg.SubscriptionID == "" {
		return nil, faults.Newf(faults.InvalidConfiguration, "azure client", "subscription ID is required")
	}
	c := &AzureClient{subscriptionID: cfg.SubscriptionID, logger: cfg.Logger}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	var err error
	if c.groups, err = armresources.NewResourceGroupsClient(cfg.SubscriptionID, cred, cfg.ClientOptions); err != nil {
		return nil, fmt.Errorf("creating resource groups client: %w", err)
	}
	if c.generic, err = armresources.NewClient(cfg.SubscriptionID, cred, cfg.ClientOptions); err != nil {
		return nil, fmt.Errorf("creating resources client: %w", err)
	}
	if c.vnets, err = armnetwork.NewVirtualNetworksClient(cfg.SubscriptionID, cred, cfg.ClientOptions); err != nil {
		return nil, fmt.Errorf("creating virtual networks client: %w", err)
	}
	if c.subnets, err = armnetwork.NewSubnetsClient(cfg.SubscriptionID, cred, cfg.ClientOptions); err != nil {
		return nil, fmt.Errorf("creating subnets client: %w", err)
	}
	if c.nsgs, err = armnetwork.NewSecurityGroupsClient(cfg.SubscriptionID, cred, cfg.ClientOptions); err != nil {
		return nil, fmt.Errorf("creating security groups client: %w", err)
	}
	return c, nil
}

// CreateOrUpdate implements Client.
func (c *AzureClient) CreateOrUpdate(ctx context.Context, kind resource.Kind, name string, attrs resource.Attributes) error {
	if err := resource.Validate(kind, attrs); err != nil {
		return err
	}
	op := fmt.Sprintf("create %s %s", kind, name)
	c.logger.Debug("Converging resource", zap.String("kind", string(kind)), zap.String("name", name))

	rg := attrs[resource.KeyResourceGroup]
	tags := toTags(attrs.Tags())
	var err error
	switch kind {
	case resource.ResourceGroup:
		_, err = c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
			Location: to.Ptr(attrs[resource.KeyLocation]),
			Tags:     tags,
		}, nil)

	case resource.VirtualNetwork:
		err = c.createVirtualNetwork(ctx, rg, name, buildVirtualNetwork(attrs, tags))

	case resource.Subnet:
		err = c.createSubnet(ctx, rg, attrs[resource.KeyVirtualNetwork], name, c.buildSubnet(attrs))

	case resource.SecurityGroup:
		nsg, berr := buildSecurityGroup(attrs, tags)
		if berr != nil {
			return faults.New(faults.UnsupportedConfiguration, op, berr)
		}
		err = c.createSecurityGroup(ctx, rg, name, nsg)

	default:
		params, berr := buildGeneric(kind, attrs, tags)
		if berr != nil {
			return faults.New(faults.UnsupportedConfiguration, op, berr)
		}
		err = c.createGeneric(ctx, kind, rg, name, params)
	}
	if err != nil {
		return classifyAzureError(op, err)
	}
	return nil
}

// Get implements Client.
func (c *AzureClient) Get(ctx context.Context, kind resource.Kind, name string, scope resource.Attributes) (resource.Attributes, error) {
	op := fmt.Sprintf("get %s %s", kind, name)
	rg := scope[resource.KeyResourceGroup]
	switch kind {
	case resource.ResourceGroup:
		resp, err := c.groups.Get(ctx, name, nil)
		if err != nil {
			return nil, classifyAzureError(op, err)
		}
		return resourceGroupAttributes(resp.ResourceGroup), nil

	case resource.VirtualNetwork:
		resp, err := c.vnets.Get(ctx, rg, name, nil)
		if err != nil {
			return nil, classifyAzureError(op, err)
		}
		return virtualNetworkAttributes(rg, resp.VirtualNetwork), nil

	case resource.Subnet:
		vnet := scope[resource.KeyVirtualNetwork]
		resp, err := c.subnets.Get(ctx, rg, vnet, name, nil)
		if err != nil {
			return nil, classifyAzureError(op, err)
		}
		return subnetAttributes(rg, vnet, resp.Subnet), nil

	case resource.SecurityGroup:
		resp, err := c.nsgs.Get(ctx, rg, name, nil)
		if err != nil {
			return nil, classifyAzureError(op, err)
		}
		return securityGroupAttributes(rg, resp.SecurityGroup), nil

	default:
		t, ok := genericType[kind]
		if !ok {
			return nil, faults.Newf(faults.UnsupportedConfiguration, op, "unknown resource kind %q", kind)
		}
		resp, err := c.generic.GetByID(ctx, c.genericID(kind, rg, name), t.apiVersion, nil)
		if err != nil {
			return nil, classifyAzureError(op, err)
		}
		return genericAttributes(kind, rg, resp.GenericResource), nil
	}
}

// Delete implements Client.
func (c *AzureClient) Delete(ctx context.Context, kind resource.Kind, name string, scope resource.Attributes) error {
	op := fmt.Sprintf("delete %s %s", kind, name)
	c.logger.Debug("Deleting resource", zap.String("kind", string(kind)), zap.String("name", name))
	rg := scope[resource.KeyResourceGroup]
	var err error
	switch kind {
	case resource.ResourceGroup:
		poller, berr := c.groups.BeginDelete(ctx, name, nil)
		err = pollDone(ctx, poller, berr)

	case resource.VirtualNetwork:
		poller, berr := c.vnets.BeginDelete(ctx, rg, name, nil)
		err = pollDone(ctx, poller, berr)

	case resource.Subnet:
		poller, berr := c.subnets.BeginDelete(ctx, rg, scope[resource.KeyVirtualNetwork], name, nil)
		err = pollDone(ctx, poller, berr)

	case resource.SecurityGroup:
		poller, berr := c.nsgs.BeginDelete(ctx, rg, name, nil)
		err = pollDone(ctx, poller, berr)

	default:
		t, ok := genericType[kind]
		if !ok {
			return faults.Newf(faults.UnsupportedConfiguration, op, "unknown resource kind %q", kind)
		}
		poller, berr := c.generic.BeginDeleteByID(ctx, c.genericID(kind, rg, name), t.apiVersion, nil)
		err = pollDone(ctx, poller, berr)
	}
	if err == nil {
		return nil
	}
	if err = classifyAzureError(op, err); faults.Is(err, faults.ResourceNotFound) {
		return nil
	}
	return err
}

func pollDone[T any](ctx context.Context, poller *runtime.Poller[T], err error) error {
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}

func (c *AzureClient) createVirtualNetwork(ctx context.Context, rg, name string, vnet armnetwork.VirtualNetwork) error {
	poller, err := c.vnets.BeginCreateOrUpdate(ctx, rg, name, vnet, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}

func (c *AzureClient) createSubnet(ctx context.Context, rg, vnet, name string, subnet armnetwork.Subnet) error {
	poller, err := c.subnets.BeginCreateOrUpdate(ctx, rg, vnet, name, subnet, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}

func (c *AzureClient) createSecurityGroup(ctx context.Context, rg, name string, nsg armnetwork.SecurityGroup) error {
	poller, err := c.nsgs.BeginCreateOrUpdate(ctx, rg, name, nsg, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}

func (c *AzureClient) createGeneric(ctx context.Context, kind resource.Kind, rg, name string, params armresources.GenericResource) error {
	poller, err := c.generic.BeginCreateOrUpdateByID(ctx, c.genericID(kind, rg, name), genericType[kind].apiVersion, params, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return err
}

func (c *AzureClient) genericID(kind resource.Kind, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/%s",
		c.subscriptionID, rg, genericType[kind].provider, name)
}

func (c *AzureClient) buildSubnet(attrs resource.Attributes) armnetwork.Subnet {
	props := &armnetwork.SubnetPropertiesFormat{
		AddressPrefix: to.Ptr(attrs[resource.KeyAddressPrefix]),
	}
	if nsg := attrs[resource.KeySecurityGroup]; nsg != "" {
		props.NetworkSecurityGroup = &armnetwork.SecurityGroup{
			ID: to.Ptr(fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/networkSecurityGroups/%s",
				c.subscriptionID, attrs[resource.KeyResourceGroup], nsg)),
		}
	}
	return armnetwork.Subnet{Properties: props}
}

func buildVirtualNetwork(attrs resource.Attributes, tags map[string]*string) armnetwork.VirtualNetwork {
	return armnetwork.VirtualNetwork{
		Location: to.Ptr(attrs[resource.KeyLocation]),
		Tags:     tags,
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{
				AddressPrefixes: to.SliceOfPtrs(resource.SplitList(attrs[resource.KeyAddressSpace])...),
			},
		},
	}
}

func buildSecurityGroup(attrs resource.Attributes, tags map[string]*string) (armnetwork.SecurityGroup, error) {
	source := attrs[resource.KeyAllowedSource]
	if source == "" {
		source = "*"
	}
	var rules []*armnetwork.SecurityRule
	for _, name := range resource.SplitList(attrs[resource.KeySecurityRules]) {
		r, err := LookupRule(name)
		if err != nil {
			return armnetwork.SecurityGroup{}, err
		}
		rules = append(rules, &armnetwork.SecurityRule{
			Name: to.Ptr(r.Name),
			Properties: &armnetwork.SecurityRulePropertiesFormat{
				Access:                   to.Ptr(armnetwork.SecurityRuleAccessAllow),
				Direction:                to.Ptr(armnetwork.SecurityRuleDirectionInbound),
				Protocol:                 to.Ptr(armnetwork.SecurityRuleProtocolTCP),
				Priority:                 to.Ptr(r.Priority),
				SourceAddressPrefix:      to.Ptr(source),
				SourcePortRange:          to.Ptr("*"),
				DestinationAddressPrefix: to.Ptr("*"),
				DestinationPortRange:     to.Ptr(r.Port),
			},
		})
	}
	return armnetwork.SecurityGroup{
		Location: to.Ptr(attrs[resource.KeyLocation]),
		Tags:     tags,
		Properties: &armnetwork.SecurityGroupPropertiesFormat{
			SecurityRules: rules,
		},
	}, nil
}

func buildGeneric(kind resource.Kind, attrs resource.Attributes, tags map[string]*string) (armresources.GenericResource, error) {
	params := armresources.GenericResource{
		Location: to.Ptr(attrs[resource.KeyLocation]),
		Tags:     tags,
	}
	switch kind {
	case resource.StorageAccount:
		tier := valueOr(attrs[resource.KeyAccountTier], "Standard")
		repl := valueOr(attrs[resource.KeyReplication], "LRS")
		params.Kind = to.Ptr(valueOr(attrs[resource.KeyAccountKind], "StorageV2"))
		params.SKU = &armresources.SKU{Name: to.Ptr(tier + "_" + repl)}
		params.Properties = map[string]any{
			"minimumTlsVersion":        "TLS1_2",
			"supportsHttpsTrafficOnly": true,
		}
	case resource.RecoveryVault:
		sku := valueOr(attrs[resource.KeySKU], "Standard")
		params.SKU = &armresources.SKU{Name: to.Ptr(sku), Tier: to.Ptr(sku)}
		params.Properties = map[string]any{}
	case resource.LogWorkspace:
		props := map[string]any{
			"sku": map[string]any{"name": valueOr(attrs[resource.KeySKU], "PerGB2018")},
		}
		if v := attrs[resource.KeyRetentionDays]; v != "" {
			days, err := strconv.Atoi(v)
			if err != nil {
				return params, fmt.Errorf("retention_days %q is not a number", v)
			}
			props["retentionInDays"] = days
		}
		params.Properties = props
	}
	return params, nil
}

func resourceGroupAttributes(rg armresources.ResourceGroup) resource.Attributes {
	attrs := resource.Attributes{resource.KeyLocation: toValue(rg.Location)}
	attrs.SetTags(fromTags(rg.Tags))
	return attrs
}

func virtualNetworkAttributes(rg string, vnet armnetwork.VirtualNetwork) resource.Attributes {
	attrs := resource.Attributes{
		resource.KeyResourceGroup: rg,
		resource.KeyLocation:      toValue(vnet.Location),
	}
	if vnet.Properties != nil && vnet.Properties.AddressSpace != nil {
		attrs[resource.KeyAddressSpace] = resource.JoinList(fromPtrs(vnet.Properties.AddressSpace.AddressPrefixes))
	}
	attrs.SetTags(fromTags(vnet.Tags))
	return attrs
}

func subnetAttributes(rg, vnet string, subnet armnetwork.Subnet) resource.Attributes {
	attrs := resource.Attributes{
		resource.KeyResourceGroup:  rg,
		resource.KeyVirtualNetwork: vnet,
	}
	if p := subnet.Properties; p != nil {
		attrs[resource.KeyAddressPrefix] = toValue(p.AddressPrefix)
		if attrs[resource.KeyAddressPrefix] == "" && len(p.AddressPrefixes) > 0 {
			attrs[resource.KeyAddressPrefix] = toValue(p.AddressPrefixes[0])
		}
		if p.NetworkSecurityGroup != nil && p.NetworkSecurityGroup.ID != nil {
			attrs[resource.KeySecurityGroup] = resource.LastSegment(*p.NetworkSecurityGroup.ID)
		}
	}
	return attrs
}

func securityGroupAttributes(rg string, nsg armnetwork.SecurityGroup) resource.Attributes {
	attrs := resource.Attributes{
		resource.KeyResourceGroup: rg,
		resource.KeyLocation:      toValue(nsg.Location),
	}
	if nsg.Properties != nil {
		var names []string
		sources := map[string]bool{}
		for _, r := range nsg.Properties.SecurityRules {
			if r == nil {
				continue
			}
			names = append(names, toValue(r.Name))
			if r.Properties != nil {
				sources[toValue(r.Properties.SourceAddressPrefix)] = true
			}
		}
		attrs[resource.KeySecurityRules] = resource.JoinList(names)
		if len(sources) == 1 {
			for s := range sources {
				attrs[resource.KeyAllowedSource] = s
			}
		}
	}
	attrs.SetTags(fromTags(nsg.Tags))
	return attrs
}

func genericAttributes(kind resource.Kind, rg string, r armresources.GenericResource) resource.Attributes {
	attrs := resource.Attributes{
		resource.KeyResourceGroup: rg,
		resource.KeyLocation:      toValue(r.Location),
	}
	props, _ := r.Properties.(map[string]any)
	switch kind {
	case resource.StorageAccount:
		if r.SKU != nil {
			tier, repl, _ := strings.Cut(toValue(r.SKU.Name), "_")
			attrs[resource.KeyAccountTier] = tier
			attrs[resource.KeyReplication] = repl
		}
		attrs[resource.KeyAccountKind] = toValue(r.Kind)
	case resource.RecoveryVault:
		if r.SKU != nil {
			attrs[resource.KeySKU] = toValue(r.SKU.Name)
		}
	case resource.LogWorkspace:
		if sku, ok := props["sku"].(map[string]any); ok {
			attrs[resource.KeySKU] = fmt.Sprint(sku["name"])
		}
		if days, ok := props["retentionInDays"]; ok {
			attrs[resource.KeyRetentionDays] = fmt.Sprint(days)
		}
	}
	attrs.SetTags(fromTags(r.Tags))
	return attrs
}

// classifyAzureError maps SDK errors to fault kinds.
func classifyAzureError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return faults.New(faults.KindOf(err), op, err)
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return faults.New(faults.AuthFailure, op, err)
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		// Transport-level failures (DNS, connection reset) are transient.
		return faults.New(faults.ServiceUnavailable, op, err)
	}
	switch {
	case respErr.StatusCode == http.StatusNotFound:
		return faults.New(faults.ResourceNotFound, op, err)
	case strings.Contains(strings.ToLower(respErr.ErrorCode), "quota"):
		return faults.New(faults.QuotaExceeded, op, err)
	case respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden:
		return faults.New(faults.AuthFailure, op, err)
	case respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError:
		return faults.New(faults.ServiceUnavailable, op, err)
	default:
		return faults.New(faults.InvalidConfiguration, op, err)
	}
}

func toValue[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func fromPtrs(in []*string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func toTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func fromTags(tags map[string]*string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = toValue(v)
	}
	return out
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

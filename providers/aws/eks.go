package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/gantry-io/gantry/pkg/provider"
)

// Cluster

type clusterConfig struct {
	Name          string             `json:"name"`
	Version       string             `json:"version"`
	RoleArn       string             `json:"roleArn"`
	SubnetIDs     []string           `json:"subnetIds"`
	VpcConfig     clusterVpcConfig   `json:"vpcConfig"`
	ComputeConfig *computeConfig     `json:"computeConfig"`
	Tags          map[string]string  `json:"tags"`
}

type clusterVpcConfig struct {
	EndpointPublicAccess  bool `json:"endpointPublicAccess"`
	EndpointPrivateAccess bool `json:"endpointPrivateAccess"`
}

type computeConfig struct {
	Enabled     bool     `json:"enabled"`
	NodePools   []string `json:"nodePools"`
	NodeRoleArn string   `json:"nodeRoleArn"`
}

// clusterState is what downstream declarations reference: the OIDC issuer
// feeds identity federation, endpoint and CA feed the kubernetes provider.
type clusterState struct {
	Name                 string `json:"name"`
	ARN                  string `json:"arn"`
	Endpoint             string `json:"endpoint"`
	CertificateAuthority string `json:"certificateAuthority"`
	OidcIssuer           string `json:"oidcIssuer"`
	Version              string `json:"version"`
}

func (p *Provider) applyCluster(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[clusterConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &clusterState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[clusterState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.Name == "" {
		input := &eks.CreateClusterInput{
			Name:    awssdk.String(desired.Name),
			RoleArn: awssdk.String(desired.RoleArn),
			ResourcesVpcConfig: &ekstypes.VpcConfigRequest{
				SubnetIds:             desired.SubnetIDs,
				EndpointPublicAccess:  awssdk.Bool(desired.VpcConfig.EndpointPublicAccess),
				EndpointPrivateAccess: awssdk.Bool(desired.VpcConfig.EndpointPrivateAccess),
			},
			Tags: desired.Tags,
		}
		if desired.Version != "" {
			input.Version = awssdk.String(desired.Version)
		}
		if desired.ComputeConfig != nil && desired.ComputeConfig.Enabled {
			// Auto-mode clusters must also enable managed networking and
			// block storage; the API rejects partial enablement.
			input.ComputeConfig = &ekstypes.ComputeConfigRequest{
				Enabled:     awssdk.Bool(true),
				NodePools:   desired.ComputeConfig.NodePools,
				NodeRoleArn: awssdk.String(desired.ComputeConfig.NodeRoleArn),
			}
			input.KubernetesNetworkConfig = &ekstypes.KubernetesNetworkConfigRequest{
				ElasticLoadBalancing: &ekstypes.ElasticLoadBalancing{Enabled: awssdk.Bool(true)},
			}
			input.StorageConfig = &ekstypes.StorageConfigRequest{
				BlockStorage: &ekstypes.BlockStorage{Enabled: awssdk.Bool(true)},
			}
		}

		if _, err := p.eksClient.CreateCluster(ctx, input); err != nil {
			return nil, fmt.Errorf("creating cluster %s: %w", desired.Name, err)
		}
		state.Name = desired.Name
	}

	waiter := eks.NewClusterActiveWaiter(p.eksClient)
	if err := waiter.Wait(ctx, &eks.DescribeClusterInput{
		Name: awssdk.String(state.Name),
	}, waitBudget(ctx, 40*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for cluster %s: %w", state.Name, err)
	}

	// The issuer URL and endpoint only exist once the control plane is
	// active, so the state is read back rather than taken from the create
	// response.
	out, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{
		Name: awssdk.String(state.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("describing cluster %s: %w", state.Name, err)
	}
	fillClusterState(state, out.Cluster)

	return encodeState(state)
}

func fillClusterState(state *clusterState, cluster *ekstypes.Cluster) {
	state.ARN = awssdk.ToString(cluster.Arn)
	state.Endpoint = awssdk.ToString(cluster.Endpoint)
	state.Version = awssdk.ToString(cluster.Version)
	if cluster.CertificateAuthority != nil {
		state.CertificateAuthority = awssdk.ToString(cluster.CertificateAuthority.Data)
	}
	if cluster.Identity != nil && cluster.Identity.Oidc != nil {
		state.OidcIssuer = awssdk.ToString(cluster.Identity.Oidc.Issuer)
	}
}

func (p *Provider) readCluster(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	prior, err := decode[clusterState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	out, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{
		Name: awssdk.String(prior.Name),
	})
	if err != nil {
		var notFound *ekstypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("describing cluster %s: %w", prior.Name, err)
	}
	fillClusterState(prior, out.Cluster)
	return &provider.ReadResponse{Exists: true, NewStateJSON: mustJSON(prior)}, nil
}

func (p *Provider) deleteCluster(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[clusterState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.Name == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.eksClient.DeleteCluster(ctx, &eks.DeleteClusterInput{
		Name: awssdk.String(prior.Name),
	}); err != nil {
		return nil, fmt.Errorf("deleting cluster %s: %w", prior.Name, err)
	}
	waiter := eks.NewClusterDeletedWaiter(p.eksClient)
	if err := waiter.Wait(ctx, &eks.DescribeClusterInput{
		Name: awssdk.String(prior.Name),
	}, waitBudget(ctx, 30*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for cluster %s deletion: %w", prior.Name, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Node group

type nodeGroupConfig struct {
	ClusterName   string        `json:"clusterName"`
	NodeRoleArn   string        `json:"nodeRoleArn"`
	SubnetIDs     []string      `json:"subnetIds"`
	ScalingConfig scalingConfig `json:"scalingConfig"`
	InstanceTypes []string      `json:"instanceTypes"`
	CapacityType  string        `json:"capacityType"`
}

type scalingConfig struct {
	MinSize     int32 `json:"minSize"`
	MaxSize     int32 `json:"maxSize"`
	DesiredSize int32 `json:"desiredSize"`
}

type nodeGroupState struct {
	Name        string `json:"name"`
	ARN         string `json:"arn"`
	ClusterName string `json:"clusterName"`
}

func (p *Provider) applyNodeGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[nodeGroupConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &nodeGroupState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[nodeGroupState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.Name == "" {
		input := &eks.CreateNodegroupInput{
			NodegroupName: awssdk.String(req.Name),
			ClusterName:   awssdk.String(desired.ClusterName),
			NodeRole:      awssdk.String(desired.NodeRoleArn),
			Subnets:       desired.SubnetIDs,
			ScalingConfig: &ekstypes.NodegroupScalingConfig{
				MinSize:     awssdk.Int32(desired.ScalingConfig.MinSize),
				MaxSize:     awssdk.Int32(desired.ScalingConfig.MaxSize),
				DesiredSize: awssdk.Int32(desired.ScalingConfig.DesiredSize),
			},
		}
		if len(desired.InstanceTypes) > 0 {
			input.InstanceTypes = desired.InstanceTypes
		}
		if desired.CapacityType != "" {
			input.CapacityType = ekstypes.CapacityTypes(desired.CapacityType)
		}

		out, err := p.eksClient.CreateNodegroup(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("creating node group %s: %w", req.Name, err)
		}
		state.Name = awssdk.ToString(out.Nodegroup.NodegroupName)
		state.ARN = awssdk.ToString(out.Nodegroup.NodegroupArn)
		state.ClusterName = desired.ClusterName
	} else {
		if _, err := p.eksClient.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
			ClusterName:   awssdk.String(state.ClusterName),
			NodegroupName: awssdk.String(state.Name),
			ScalingConfig: &ekstypes.NodegroupScalingConfig{
				MinSize:     awssdk.Int32(desired.ScalingConfig.MinSize),
				MaxSize:     awssdk.Int32(desired.ScalingConfig.MaxSize),
				DesiredSize: awssdk.Int32(desired.ScalingConfig.DesiredSize),
			},
		}); err != nil {
			return nil, fmt.Errorf("updating node group %s: %w", state.Name, err)
		}
	}

	waiter := eks.NewNodegroupActiveWaiter(p.eksClient)
	if err := waiter.Wait(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   awssdk.String(state.ClusterName),
		NodegroupName: awssdk.String(state.Name),
	}, waitBudget(ctx, 30*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for node group %s: %w", state.Name, err)
	}

	return encodeState(state)
}

func (p *Provider) deleteNodeGroup(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[nodeGroupState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.Name == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.eksClient.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{
		ClusterName:   awssdk.String(prior.ClusterName),
		NodegroupName: awssdk.String(prior.Name),
	}); err != nil {
		return nil, fmt.Errorf("deleting node group %s: %w", prior.Name, err)
	}
	waiter := eks.NewNodegroupDeletedWaiter(p.eksClient)
	if err := waiter.Wait(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   awssdk.String(prior.ClusterName),
		NodegroupName: awssdk.String(prior.Name),
	}, waitBudget(ctx, 20*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for node group %s deletion: %w", prior.Name, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Addon

type addonConfig struct {
	ClusterName      string `json:"clusterName"`
	AddonName        string `json:"addonName"`
	AddonVersion     string `json:"addonVersion"`
	ResolveConflicts string `json:"resolveConflicts"`
}

type addonState struct {
	AddonName   string `json:"addonName"`
	ARN         string `json:"arn"`
	ClusterName string `json:"clusterName"`
}

func (p *Provider) applyAddon(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[addonConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &addonState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[addonState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.AddonName == "" {
		input := &eks.CreateAddonInput{
			ClusterName:      awssdk.String(desired.ClusterName),
			AddonName:        awssdk.String(desired.AddonName),
			ResolveConflicts: ekstypes.ResolveConflicts(desired.ResolveConflicts),
		}
		if desired.AddonVersion != "" {
			input.AddonVersion = awssdk.String(desired.AddonVersion)
		}
		out, err := p.eksClient.CreateAddon(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("creating addon %s: %w", desired.AddonName, err)
		}
		state.AddonName = awssdk.ToString(out.Addon.AddonName)
		state.ARN = awssdk.ToString(out.Addon.AddonArn)
		state.ClusterName = desired.ClusterName
	}

	waiter := eks.NewAddonActiveWaiter(p.eksClient)
	if err := waiter.Wait(ctx, &eks.DescribeAddonInput{
		ClusterName: awssdk.String(state.ClusterName),
		AddonName:   awssdk.String(state.AddonName),
	}, waitBudget(ctx, 15*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for addon %s: %w", state.AddonName, err)
	}

	return encodeState(state)
}

func (p *Provider) deleteAddon(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[addonState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.AddonName == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.eksClient.DeleteAddon(ctx, &eks.DeleteAddonInput{
		ClusterName: awssdk.String(prior.ClusterName),
		AddonName:   awssdk.String(prior.AddonName),
	}); err != nil {
		return nil, fmt.Errorf("deleting addon %s: %w", prior.AddonName, err)
	}
	return &provider.DeleteResponse{}, nil
}

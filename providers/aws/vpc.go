package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/gantry-io/gantry/pkg/provider"
)

// VPC

type vpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type vpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidrBlock"`
}

func (p *Provider) applyVpc(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[vpcConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &vpcState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[vpcState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.ID == "" {
		out, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
			CidrBlock:         awssdk.String(desired.CidrBlock),
			TagSpecifications: tagSpec(ec2types.ResourceTypeVpc, desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("creating VPC: %w", err)
		}
		state.ID = awssdk.ToString(out.Vpc.VpcId)
		state.CidrBlock = awssdk.ToString(out.Vpc.CidrBlock)

		waiter := ec2.NewVpcAvailableWaiter(p.ec2Client)
		if err := waiter.Wait(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{state.ID}}, waitBudget(ctx, 5*time.Minute)); err != nil {
			return nil, fmt.Errorf("waiting for VPC %s: %w", state.ID, err)
		}
	}

	// DNS attributes can only be set one at a time.
	if desired.EnableDnsSupport {
		if _, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            awssdk.String(state.ID),
			EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("enabling DNS support on %s: %w", state.ID, err)
		}
	}
	if desired.EnableDnsHostnames {
		if _, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              awssdk.String(state.ID),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("enabling DNS hostnames on %s: %w", state.ID, err)
		}
	}

	return encodeState(state)
}

func (p *Provider) deleteVpc(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if req.ID == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: awssdk.String(req.ID)}); err != nil {
		return nil, fmt.Errorf("deleting VPC %s: %w", req.ID, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Subnet

type subnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type subnetState struct {
	ID               string `json:"id"`
	CidrBlock        string `json:"cidrBlock"`
	AvailabilityZone string `json:"availabilityZone"`
}

func (p *Provider) applySubnet(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[subnetConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &subnetState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[subnetState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.ID == "" {
		out, err := p.ec2Client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:             awssdk.String(desired.VpcID),
			CidrBlock:         awssdk.String(desired.CidrBlock),
			AvailabilityZone:  awssdk.String(desired.AvailabilityZone),
			TagSpecifications: tagSpec(ec2types.ResourceTypeSubnet, desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("creating subnet in %s: %w", desired.VpcID, err)
		}
		state.ID = awssdk.ToString(out.Subnet.SubnetId)
		state.CidrBlock = awssdk.ToString(out.Subnet.CidrBlock)
		state.AvailabilityZone = awssdk.ToString(out.Subnet.AvailabilityZone)
	}

	if desired.MapPublicIpOnLaunch {
		if _, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            awssdk.String(state.ID),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("enabling public IPs on subnet %s: %w", state.ID, err)
		}
	}

	return encodeState(state)
}

func (p *Provider) deleteSubnet(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if req.ID == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: awssdk.String(req.ID)}); err != nil {
		return nil, fmt.Errorf("deleting subnet %s: %w", req.ID, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Internet gateway

type igwConfig struct {
	VpcID string `json:"vpcId"`
}

type igwState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[igwConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &igwState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[igwState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.ID == "" {
		out, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
		if err != nil {
			return nil, fmt.Errorf("creating internet gateway: %w", err)
		}
		state.ID = awssdk.ToString(out.InternetGateway.InternetGatewayId)
	}

	if state.VpcID != desired.VpcID {
		if _, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: awssdk.String(state.ID),
			VpcId:             awssdk.String(desired.VpcID),
		}); err != nil {
			return nil, fmt.Errorf("attaching internet gateway %s: %w", state.ID, err)
		}
		state.VpcID = desired.VpcID
	}

	return encodeState(state)
}

func (p *Provider) deleteInternetGateway(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if req.ID == "" {
		return &provider.DeleteResponse{}, nil
	}
	prior, err := decode[igwState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.VpcID != "" {
		if _, err := p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: awssdk.String(req.ID),
			VpcId:             awssdk.String(prior.VpcID),
		}); err != nil {
			return nil, fmt.Errorf("detaching internet gateway %s: %w", req.ID, err)
		}
	}
	if _, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: awssdk.String(req.ID),
	}); err != nil {
		return nil, fmt.Errorf("deleting internet gateway %s: %w", req.ID, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Elastic IP

type eipState struct {
	AllocationID string `json:"allocationId"`
	PublicIP     string `json:"publicIp"`
}

func (p *Provider) applyElasticIP(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if len(req.PriorStateJSON) > 0 {
		prior, err := decode[eipState](req.PriorStateJSON)
		if err != nil {
			return nil, err
		}
		if prior.AllocationID != "" {
			return encodeState(prior)
		}
	}

	out, err := p.ec2Client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
	})
	if err != nil {
		return nil, fmt.Errorf("allocating elastic IP: %w", err)
	}
	return encodeState(&eipState{
		AllocationID: awssdk.ToString(out.AllocationId),
		PublicIP:     awssdk.ToString(out.PublicIp),
	})
}

func (p *Provider) deleteElasticIP(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[eipState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.AllocationID == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
		AllocationId: awssdk.String(prior.AllocationID),
	}); err != nil {
		return nil, fmt.Errorf("releasing elastic IP %s: %w", prior.AllocationID, err)
	}
	return &provider.DeleteResponse{}, nil
}

// NAT gateway

type natConfig struct {
	SubnetID     string `json:"subnetId"`
	AllocationID string `json:"allocationId"`
}

type natState struct {
	ID string `json:"id"`
}

func (p *Provider) applyNatGateway(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[natConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &natState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[natState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.ID == "" {
		out, err := p.ec2Client.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
			SubnetId:     awssdk.String(desired.SubnetID),
			AllocationId: awssdk.String(desired.AllocationID),
		})
		if err != nil {
			return nil, fmt.Errorf("creating NAT gateway: %w", err)
		}
		state.ID = awssdk.ToString(out.NatGateway.NatGatewayId)
	}

	waiter := ec2.NewNatGatewayAvailableWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: []string{state.ID},
	}, waitBudget(ctx, 15*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for NAT gateway %s: %w", state.ID, err)
	}

	return encodeState(state)
}

func (p *Provider) deleteNatGateway(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if req.ID == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{
		NatGatewayId: awssdk.String(req.ID),
	}); err != nil {
		return nil, fmt.Errorf("deleting NAT gateway %s: %w", req.ID, err)
	}
	waiter := ec2.NewNatGatewayDeletedWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: []string{req.ID},
	}, waitBudget(ctx, 10*time.Minute)); err != nil {
		return nil, fmt.Errorf("waiting for NAT gateway %s deletion: %w", req.ID, err)
	}
	return &provider.DeleteResponse{}, nil
}

// Route table

type routeTableConfig struct {
	VpcID     string        `json:"vpcId"`
	Routes    []routeConfig `json:"routes"`
	SubnetIDs []string      `json:"subnetIds"`
}

type routeConfig struct {
	CidrBlock    string `json:"cidrBlock"`
	GatewayID    string `json:"gatewayId"`
	NatGatewayID string `json:"natGatewayId"`
}

type routeTableState struct {
	ID             string   `json:"id"`
	AssociationIDs []string `json:"associationIds"`
}

func (p *Provider) applyRouteTable(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[routeTableConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &routeTableState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[routeTableState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.ID == "" {
		out, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
			VpcId: awssdk.String(desired.VpcID),
		})
		if err != nil {
			return nil, fmt.Errorf("creating route table: %w", err)
		}
		state.ID = awssdk.ToString(out.RouteTable.RouteTableId)

		for _, r := range desired.Routes {
			input := &ec2.CreateRouteInput{
				RouteTableId:         awssdk.String(state.ID),
				DestinationCidrBlock: awssdk.String(r.CidrBlock),
			}
			if r.GatewayID != "" {
				input.GatewayId = awssdk.String(r.GatewayID)
			}
			if r.NatGatewayID != "" {
				input.NatGatewayId = awssdk.String(r.NatGatewayID)
			}
			if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
				return nil, fmt.Errorf("creating route %s in %s: %w", r.CidrBlock, state.ID, err)
			}
		}

		for _, subnetID := range desired.SubnetIDs {
			out, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
				RouteTableId: awssdk.String(state.ID),
				SubnetId:     awssdk.String(subnetID),
			})
			if err != nil {
				return nil, fmt.Errorf("associating %s with route table %s: %w", subnetID, state.ID, err)
			}
			state.AssociationIDs = append(state.AssociationIDs, awssdk.ToString(out.AssociationId))
		}
	}

	return encodeState(state)
}

func (p *Provider) deleteRouteTable(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if req.ID == "" {
		return &provider.DeleteResponse{}, nil
	}
	prior, err := decode[routeTableState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	for _, assoc := range prior.AssociationIDs {
		if _, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
			AssociationId: awssdk.String(assoc),
		}); err != nil {
			return nil, fmt.Errorf("disassociating %s: %w", assoc, err)
		}
	}
	if _, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{
		RouteTableId: awssdk.String(req.ID),
	}); err != nil {
		return nil, fmt.Errorf("deleting route table %s: %w", req.ID, err)
	}
	return &provider.DeleteResponse{}, nil
}

func tagSpec(resourceType ec2types.ResourceType, tags map[string]string) []ec2types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	var ec2Tags []ec2types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	return []ec2types.TagSpecification{{ResourceType: resourceType, Tags: ec2Tags}}
}

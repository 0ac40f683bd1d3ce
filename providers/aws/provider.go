// Package aws implements the resource provider for the cloud-side half of
// the graph: network foundation, IAM, the EKS control plane, certificates,
// load-balancer lookups, and DNS records.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/route53"

	"github.com/gantry-io/gantry/pkg/provider"
)

type Provider struct {
	mu     sync.Mutex
	region string

	ec2Client     *ec2.Client
	eksClient     *eks.Client
	iamClient     *iam.Client
	acmClient     *acm.Client
	elbv2Client   *elasticloadbalancingv2.Client
	route53Client *route53.Client
}

// New returns an unconfigured provider. Without an explicit Configure the
// region comes from the environment or shared AWS config.
func New() *Provider {
	return &Provider{}
}

type providerConfig struct {
	Region string `json:"region"`
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	if len(req.ConfigJSON) > 0 {
		var cfg providerConfig
		if err := json.Unmarshal(req.ConfigJSON, &cfg); err != nil {
			return &provider.ConfigureResponse{
				Diagnostics: []provider.Diagnostic{{
					Severity: provider.SeverityError,
					Summary:  "invalid provider configuration",
					Detail:   err.Error(),
				}},
			}, nil
		}
		if cfg.Region != "" {
			p.mu.Lock()
			p.region = cfg.Region
			p.mu.Unlock()
		}
	}
	if err := p.ensureClients(ctx); err != nil {
		return &provider.ConfigureResponse{
			Diagnostics: []provider.Diagnostic{{
				Severity: provider.SeverityError,
				Summary:  "failed to load AWS credentials",
				Detail:   err.Error(),
			}},
		}, nil
	}
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ec2Client != nil {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if p.region != "" {
		opts = append(opts, config.WithRegion(p.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.eksClient = eks.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.acmClient = acm.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.route53Client = route53.NewFromConfig(cfg)
	return nil
}

// Plan is offline: it compares the declaration against what was asked for
// last run. Drift against the live account is the job of Read.
func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	return provider.DiffPlan(req)
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.applyInternetGateway(ctx, req)
	case "aws:EC2.ElasticIP":
		return p.applyElasticIP(ctx, req)
	case "aws:EC2.NatGateway":
		return p.applyNatGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.applyRouteTable(ctx, req)

	case "aws:IAM.Role":
		return p.applyRole(ctx, req)
	case "aws:IAM.Policy":
		return p.applyPolicy(ctx, req)
	case "aws:IAM.RolePolicyAttachment":
		return p.applyRolePolicyAttachment(ctx, req)
	case "aws:IAM.OidcProvider":
		return p.applyOidcProvider(ctx, req)
	case "aws:IAM.IrsaRole":
		return p.applyIrsaRole(ctx, req)

	case "aws:EKS.Cluster":
		return p.applyCluster(ctx, req)
	case "aws:EKS.NodeGroup":
		return p.applyNodeGroup(ctx, req)
	case "aws:EKS.Addon":
		return p.applyAddon(ctx, req)

	case "aws:ACM.Certificate":
		return p.applyCertificate(ctx, req)
	case "aws:ELBv2.LoadBalancerLookup":
		return p.applyLoadBalancerLookup(ctx, req)
	case "aws:Route53.RecordSet":
		return p.applyRecordSet(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type %q", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EKS.Cluster":
		return p.readCluster(ctx, req)
	}

	// Types without a dedicated refresher are assumed to still exist as
	// recorded.
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.deleteVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.deleteSubnet(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.deleteInternetGateway(ctx, req)
	case "aws:EC2.ElasticIP":
		return p.deleteElasticIP(ctx, req)
	case "aws:EC2.NatGateway":
		return p.deleteNatGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.deleteRouteTable(ctx, req)

	case "aws:IAM.Role", "aws:IAM.IrsaRole":
		return p.deleteRole(ctx, req)
	case "aws:IAM.Policy":
		return p.deletePolicy(ctx, req)
	case "aws:IAM.RolePolicyAttachment":
		return p.deleteRolePolicyAttachment(ctx, req)
	case "aws:IAM.OidcProvider":
		return p.deleteOidcProvider(ctx, req)

	case "aws:EKS.Cluster":
		return p.deleteCluster(ctx, req)
	case "aws:EKS.NodeGroup":
		return p.deleteNodeGroup(ctx, req)
	case "aws:EKS.Addon":
		return p.deleteAddon(ctx, req)

	case "aws:ACM.Certificate":
		return p.deleteCertificate(ctx, req)
	case "aws:ELBv2.LoadBalancerLookup":
		// The lookup owns nothing cloud-side; forgetting it is enough.
		return &provider.DeleteResponse{}, nil
	case "aws:Route53.RecordSet":
		return p.deleteRecordSet(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type %q", req.Type)
}

// decode unmarshals a request payload into the type the applier works with.
func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding resource payload: %w", err)
	}
	return &v, nil
}

// encodeState marshals the outputs a converged resource materialized.
func encodeState(v any) (*provider.ApplyResponse, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding resource state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJSON: out}, nil
}

func mustJSON(v any) []byte {
	out, _ := json.Marshal(v)
	return out
}

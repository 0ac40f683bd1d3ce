package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/gantry-io/gantry/pkg/provider"
)

// Load-balancer lookup. Auto-mode clusters provision the balancer
// themselves when a Gateway is reconciled, so this resource only reads: it
// polls until a balancer carrying the expected tags exists and records its
// coordinates for downstream DNS and run outputs.

type lbLookupConfig struct {
	Tags map[string]string `json:"tags"`
}

type lbLookupState struct {
	ARN                   string `json:"arn"`
	DNSName               string `json:"dnsName"`
	CanonicalHostedZoneID string `json:"canonicalHostedZoneId"`
}

const lookupPollInterval = 15 * time.Second

func (p *Provider) applyLoadBalancerLookup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[lbLookupConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(lookupPollInterval)
	defer ticker.Stop()

	for {
		state, err := p.findLoadBalancerByTags(ctx, desired.Tags)
		if err != nil {
			return nil, err
		}
		if state != nil {
			return encodeState(state)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no load balancer matching tags appeared: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) findLoadBalancerByTags(ctx context.Context, want map[string]string) (*lbLookupState, error) {
	paginator := elasticloadbalancingv2.NewDescribeLoadBalancersPaginator(p.elbv2Client, &elasticloadbalancingv2.DescribeLoadBalancersInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing load balancers: %w", err)
		}
		if len(page.LoadBalancers) == 0 {
			continue
		}

		arns := make([]string, 0, len(page.LoadBalancers))
		byArn := make(map[string]elbv2types.LoadBalancer, len(page.LoadBalancers))
		for _, lb := range page.LoadBalancers {
			arn := awssdk.ToString(lb.LoadBalancerArn)
			arns = append(arns, arn)
			byArn[arn] = lb
		}

		tagsOut, err := p.elbv2Client.DescribeTags(ctx, &elasticloadbalancingv2.DescribeTagsInput{
			ResourceArns: arns,
		})
		if err != nil {
			return nil, fmt.Errorf("reading load balancer tags: %w", err)
		}

		for _, desc := range tagsOut.TagDescriptions {
			if !tagsMatch(desc.Tags, want) {
				continue
			}
			lb := byArn[awssdk.ToString(desc.ResourceArn)]
			return &lbLookupState{
				ARN:                   awssdk.ToString(lb.LoadBalancerArn),
				DNSName:               awssdk.ToString(lb.DNSName),
				CanonicalHostedZoneID: awssdk.ToString(lb.CanonicalHostedZoneId),
			}, nil
		}
	}

	return nil, nil
}

func tagsMatch(have []elbv2types.Tag, want map[string]string) bool {
	tags := make(map[string]string, len(have))
	for _, t := range have {
		tags[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	for k, v := range want {
		if tags[k] != v {
			return false
		}
	}
	return len(want) > 0
}

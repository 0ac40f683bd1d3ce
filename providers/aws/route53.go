package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/gantry-io/gantry/pkg/provider"
)

type recordSetConfig struct {
	HostedZoneID string       `json:"hostedZoneId"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	TTL          int64        `json:"ttl"`
	Values       []string     `json:"values"`
	AliasTarget  *aliasTarget `json:"aliasTarget"`
}

type aliasTarget struct {
	DNSName      string `json:"dnsName"`
	HostedZoneID string `json:"hostedZoneId"`
}

type recordSetState struct {
	HostedZoneID string `json:"hostedZoneId"`
	Name         string `json:"name"`
	Type         string `json:"type"`
}

func (p *Provider) applyRecordSet(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[recordSetConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	rrs, err := buildRecordSet(desired)
	if err != nil {
		return nil, err
	}

	if _, err := p.route53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awssdk.String(desired.HostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action:            r53types.ChangeActionUpsert,
				ResourceRecordSet: rrs,
			}},
		},
	}); err != nil {
		return nil, fmt.Errorf("upserting record %s %s: %w", desired.Type, desired.Name, err)
	}

	return encodeState(&recordSetState{
		HostedZoneID: desired.HostedZoneID,
		Name:         desired.Name,
		Type:         desired.Type,
	})
}

func (p *Provider) deleteRecordSet(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[recordSetState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.Name == "" {
		return &provider.DeleteResponse{}, nil
	}

	// Route 53 deletes require the record's current contents, so look it up
	// first.
	list, err := p.route53Client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    awssdk.String(prior.HostedZoneID),
		StartRecordName: awssdk.String(prior.Name),
		StartRecordType: r53types.RRType(prior.Type),
		MaxItems:        awssdk.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("looking up record %s: %w", prior.Name, err)
	}
	if len(list.ResourceRecordSets) == 0 {
		return &provider.DeleteResponse{}, nil
	}
	existing := list.ResourceRecordSets[0]
	if trimDot(awssdk.ToString(existing.Name)) != trimDot(prior.Name) || string(existing.Type) != prior.Type {
		return &provider.DeleteResponse{}, nil
	}

	if _, err := p.route53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awssdk.String(prior.HostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action:            r53types.ChangeActionDelete,
				ResourceRecordSet: &existing,
			}},
		},
	}); err != nil {
		return nil, fmt.Errorf("deleting record %s %s: %w", prior.Type, prior.Name, err)
	}
	return &provider.DeleteResponse{}, nil
}

func buildRecordSet(cfg *recordSetConfig) (*r53types.ResourceRecordSet, error) {
	rrs := &r53types.ResourceRecordSet{
		Name: awssdk.String(cfg.Name),
		Type: r53types.RRType(cfg.Type),
	}

	switch {
	case cfg.AliasTarget != nil:
		rrs.AliasTarget = &r53types.AliasTarget{
			DNSName:              awssdk.String(cfg.AliasTarget.DNSName),
			HostedZoneId:         awssdk.String(cfg.AliasTarget.HostedZoneID),
			EvaluateTargetHealth: false,
		}
	case len(cfg.Values) > 0:
		ttl := cfg.TTL
		if ttl == 0 {
			ttl = 300
		}
		rrs.TTL = awssdk.Int64(ttl)
		for _, v := range cfg.Values {
			rrs.ResourceRecords = append(rrs.ResourceRecords, r53types.ResourceRecord{
				Value: awssdk.String(v),
			})
		}
	default:
		return nil, fmt.Errorf("record %s needs either values or an alias target", cfg.Name)
	}

	return rrs, nil
}

func trimDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

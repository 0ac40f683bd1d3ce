package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/gantry-io/gantry/pkg/provider"
)

type certificateConfig struct {
	DomainName       string `json:"domainName"`
	ValidationMethod string `json:"validationMethod"`

	// HostedZoneID, when set, lets the applier create the DNS validation
	// record itself and wait for issuance.
	HostedZoneID string `json:"hostedZoneId"`
}

type certificateState struct {
	ARN        string `json:"arn"`
	DomainName string `json:"domainName"`
	Status     string `json:"status"`

	// ValidationRecord is surfaced so an operator without a managed zone can
	// create the CNAME out of band; the next apply then waits for issuance.
	ValidationRecord *validationRecord `json:"validationRecord,omitempty"`
}

type validationRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (p *Provider) applyCertificate(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[certificateConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	state := &certificateState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[certificateState](req.PriorStateJSON); err != nil {
			return nil, err
		}
		if state.DomainName != desired.DomainName {
			state = &certificateState{}
		}
	}
	if state.ARN != "" && state.Status == string(acmtypes.CertificateStatusIssued) {
		return encodeState(state)
	}

	if state.ARN == "" {
		method := desired.ValidationMethod
		if method == "" {
			method = "DNS"
		}
		out, err := p.acmClient.RequestCertificate(ctx, &acm.RequestCertificateInput{
			DomainName:       awssdk.String(desired.DomainName),
			ValidationMethod: acmtypes.ValidationMethod(method),
		})
		if err != nil {
			return nil, fmt.Errorf("requesting certificate for %s: %w", desired.DomainName, err)
		}
		state.ARN = awssdk.ToString(out.CertificateArn)
		state.DomainName = desired.DomainName
	}

	// The validation record only appears once ACM has processed the request.
	record, err := p.waitValidationRecord(ctx, state.ARN)
	if err != nil {
		return nil, err
	}
	state.ValidationRecord = record

	if desired.HostedZoneID == "" {
		// No zone to write to: report the record and leave the certificate
		// pending. A later apply converges once the CNAME exists.
		state.Status = string(acmtypes.CertificateStatusPendingValidation)
		return encodeState(state)
	}

	change, err := buildRecordSet(validationRecordSet(desired.HostedZoneID, record))
	if err != nil {
		return nil, err
	}
	if _, err := p.route53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awssdk.String(desired.HostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action:            r53types.ChangeActionUpsert,
				ResourceRecordSet: change,
			}},
		},
	}); err != nil {
		return nil, fmt.Errorf("upserting validation record for %s: %w", desired.DomainName, err)
	}

	if err := p.waitCertificateIssued(ctx, state.ARN); err != nil {
		return nil, err
	}
	state.Status = string(acmtypes.CertificateStatusIssued)
	return encodeState(state)
}

// validationRecordSet shapes ACM's validation CNAME as a record-set config so
// the Route 53 builder can render it.
func validationRecordSet(hostedZoneID string, record *validationRecord) *recordSetConfig {
	return &recordSetConfig{
		HostedZoneID: hostedZoneID,
		Name:         record.Name,
		Type:         record.Type,
		TTL:          300,
		Values:       []string{record.Value},
	}
}

// waitValidationRecord polls until ACM reports the DNS record that proves
// domain ownership.
func (p *Provider) waitValidationRecord(ctx context.Context, arn string) (*validationRecord, error) {
	deadline := time.Now().Add(waitBudget(ctx, 5*time.Minute))
	for {
		out, err := p.acmClient.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: awssdk.String(arn),
		})
		if err != nil {
			return nil, fmt.Errorf("describing certificate %s: %w", arn, err)
		}
		for _, opt := range out.Certificate.DomainValidationOptions {
			if rr := opt.ResourceRecord; rr != nil {
				return &validationRecord{
					Name:  awssdk.ToString(rr.Name),
					Type:  string(rr.Type),
					Value: awssdk.ToString(rr.Value),
				}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("certificate %s never reported its validation record", arn)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (p *Provider) waitCertificateIssued(ctx context.Context, arn string) error {
	deadline := time.Now().Add(waitBudget(ctx, 30*time.Minute))
	for {
		out, err := p.acmClient.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: awssdk.String(arn),
		})
		if err != nil {
			return fmt.Errorf("describing certificate %s: %w", arn, err)
		}
		switch out.Certificate.Status {
		case acmtypes.CertificateStatusIssued:
			return nil
		case acmtypes.CertificateStatusFailed, acmtypes.CertificateStatusValidationTimedOut:
			return fmt.Errorf("certificate %s validation failed: %s", arn, out.Certificate.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for certificate %s to be issued", arn)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(15 * time.Second):
		}
	}
}

func (p *Provider) deleteCertificate(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	prior, err := decode[certificateState](req.CurrentStateJSON)
	if err != nil {
		return nil, err
	}
	if prior.ARN == "" {
		return &provider.DeleteResponse{}, nil
	}
	if _, err := p.acmClient.DeleteCertificate(ctx, &acm.DeleteCertificateInput{
		CertificateArn: awssdk.String(prior.ARN),
	}); err != nil {
		return nil, fmt.Errorf("deleting certificate %s: %w", prior.ARN, err)
	}
	return &provider.DeleteResponse{}, nil
}

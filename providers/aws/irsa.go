package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/gantry-io/gantry/pkg/provider"
)

// Federated workload role: a role whose trust policy admits exactly one
// Kubernetes service account through the cluster's OIDC provider.

type irsaRoleConfig struct {
	Name           string   `json:"name"`
	ProviderArn    string   `json:"providerArn"`
	Issuer         string   `json:"issuer"`
	Namespace      string   `json:"namespace"`
	ServiceAccount string   `json:"serviceAccount"`
	PolicyArns     []string `json:"policyArns"`
}

type irsaRoleState struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyIrsaRole(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	desired, err := decode[irsaRoleConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	trust, err := TrustDocument(desired.Issuer, desired.ProviderArn, desired.Namespace, desired.ServiceAccount)
	if err != nil {
		return nil, err
	}

	state := &irsaRoleState{}
	if len(req.PriorStateJSON) > 0 {
		if state, err = decode[irsaRoleState](req.PriorStateJSON); err != nil {
			return nil, err
		}
	}

	if state.Name == "" {
		out, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 awssdk.String(desired.Name),
			AssumeRolePolicyDocument: awssdk.String(trust),
		})
		if err != nil {
			return nil, fmt.Errorf("creating federated role %s: %w", desired.Name, err)
		}
		state.Name = awssdk.ToString(out.Role.RoleName)
		state.ARN = awssdk.ToString(out.Role.Arn)
	} else {
		if _, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       awssdk.String(state.Name),
			PolicyDocument: awssdk.String(trust),
		}); err != nil {
			return nil, fmt.Errorf("updating trust policy on %s: %w", state.Name, err)
		}
	}

	for _, arn := range desired.PolicyArns {
		if _, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  awssdk.String(state.Name),
			PolicyArn: awssdk.String(arn),
		}); err != nil {
			return nil, fmt.Errorf("attaching %s to %s: %w", arn, state.Name, err)
		}
	}

	return encodeState(state)
}

// TrustDocument builds the assume-role policy binding one service account to
// the role. The issuer arrives as the URL the cluster reports; condition
// keys use its host and path with the scheme stripped, so the issuer string
// is transformed programmatically rather than expecting callers to pre-strip
// it.
func TrustDocument(issuer, providerArn, namespace, serviceAccount string) (string, error) {
	if issuer == "" {
		return "", fmt.Errorf("trust document requires a non-empty issuer")
	}
	if providerArn == "" {
		return "", fmt.Errorf("trust document requires the OIDC provider ARN")
	}

	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("parsing issuer %q: %w", issuer, err)
	}
	bare := u.Host + u.Path
	if u.Scheme == "" {
		// Already scheme-less; keep it as given.
		bare = strings.TrimSuffix(issuer, "/")
	}
	bare = strings.TrimSuffix(bare, "/")
	if bare == "" {
		return "", fmt.Errorf("issuer %q has no host", issuer)
	}

	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Effect": "Allow",
				"Principal": map[string]any{
					"Federated": providerArn,
				},
				"Action": "sts:AssumeRoleWithWebIdentity",
				"Condition": map[string]any{
					"StringEquals": map[string]any{
						bare + ":sub": fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount),
						bare + ":aud": "sts.amazonaws.com",
					},
				},
			},
		},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding trust document: %w", err)
	}
	return string(out), nil
}

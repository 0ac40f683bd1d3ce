package stack

import (
	"encoding/json"

	"github.com/gantry-io/gantry/internal/ir"
)

// identityLayer carries the role handles workload and add-on service
// accounts bind to.
type identityLayer struct {
	oidcProvider ref
	albRole      *ref // nil under TopologyAutoMode
	apiRole      ref
}

// addIdentity declares the identity federation bindings: the cluster's OIDC
// provider registration and one role per workload identity. The issuer URL
// only exists once the control plane is up, so every consumer takes it as a
// data reference rather than a literal; hand-copying it would be a silent
// authorization failure waiting for runtime.
func (b *builder) addIdentity(cl *clusterLayer) (*identityLayer, error) {
	cfg := b.cfg

	oidc := b.mustAdd(&ir.Resource{
		Type:     "aws:IAM.OidcProvider",
		Name:     "cluster",
		Provider: "aws",
		Properties: map[string]any{
			"issuerUrl": cl.cluster.ptr("oidcIssuer"),
			"clientIds": []any{"sts.amazonaws.com"},
		},
	})

	layer := &identityLayer{oidcProvider: oidc}

	if cfg.Topology == TopologyNodeGroup {
		albPolicy := b.mustAdd(&ir.Resource{
			Type:     "aws:IAM.Policy",
			Name:     "alb-controller",
			Provider: "aws",
			Properties: map[string]any{
				"name":   cfg.Name + "-alb-controller",
				"policy": albControllerPolicy(),
			},
		})

		albRole := b.mustAdd(&ir.Resource{
			Type:     "aws:IAM.IrsaRole",
			Name:     "alb-controller",
			Provider: "aws",
			Properties: map[string]any{
				"name":           cfg.Name + "-alb-controller",
				"providerArn":    oidc.ptr("arn"),
				"issuer":         cl.cluster.ptr("oidcIssuer"),
				"namespace":      "kube-system",
				"serviceAccount": "aws-load-balancer-controller",
				"policyArns":     []any{albPolicy.ptr("arn")},
			},
		})
		layer.albRole = &albRole
	}

	// The API workload gets a federated identity of its own so it can call
	// cloud APIs without static credentials baked into the pod.
	apiRole := b.mustAdd(&ir.Resource{
		Type:     "aws:IAM.IrsaRole",
		Name:     "api-workload",
		Provider: "aws",
		Properties: map[string]any{
			"name":           cfg.Name + "-api",
			"providerArn":    oidc.ptr("arn"),
			"issuer":         cl.cluster.ptr("oidcIssuer"),
			"namespace":      appNamespace,
			"serviceAccount": "api",
			"policyArns":     []any{},
		},
	})
	layer.apiRole = apiRole

	return layer, nil
}

// albControllerPolicy is the permission set the load-balancer controller
// needs to manage ALBs on the cluster's behalf. Trimmed to the operations
// the ingress declarations in this graph exercise.
func albControllerPolicy() string {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Effect": "Allow",
				"Action": []any{
					"ec2:DescribeSubnets",
					"ec2:DescribeSecurityGroups",
					"ec2:DescribeVpcs",
					"ec2:DescribeInstances",
					"ec2:DescribeAvailabilityZones",
					"ec2:CreateSecurityGroup",
					"ec2:CreateTags",
					"ec2:AuthorizeSecurityGroupIngress",
					"ec2:RevokeSecurityGroupIngress",
					"ec2:DeleteSecurityGroup",
					"elasticloadbalancing:*",
				},
				"Resource": "*",
			},
			map[string]any{
				"Effect": "Allow",
				"Action": []any{
					"acm:ListCertificates",
					"acm:DescribeCertificate",
					"iam:CreateServiceLinkedRole",
				},
				"Resource": "*",
			},
		},
	}
	out, _ := json.Marshal(doc)
	return string(out)
}

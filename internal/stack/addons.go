package stack

import (
	"github.com/gantry-io/gantry/internal/ir"
)

// addonLayer carries handles for the in-cluster platform add-ons the
// traffic-exposure layer waits on.
type addonLayer struct {
	albController *ref // node-group topology
	clusterIssuer *ref // node-group topology
}

// clusterBinding is the provider binding every in-cluster declaration
// carries: it names the control plane the kubernetes provider must apply
// through, referencing the cluster's materialized endpoint and CA rather
// than the account's default credentials.
func (b *builder) clusterBinding(cl *clusterLayer) map[string]any {
	return map[string]any{
		"name":                 cl.cluster.ptr("name"),
		"endpoint":             cl.cluster.ptr("endpoint"),
		"certificateAuthority": cl.cluster.ptr("certificateAuthority"),
		"region":               b.cfg.Region,
	}
}

// addAddons declares the in-cluster platform add-ons. Under the node-group
// topology that is the AWS load-balancer controller (service account bound
// to its federated role, RBAC, deployment) and cert-manager with an ACME
// issuer registered under the configured contact email. Auto mode ships its
// own load-balancer controller, so the layer is empty there.
func (b *builder) addAddons(cl *clusterLayer, ids *identityLayer) (*addonLayer, error) {
	cfg := b.cfg
	layer := &addonLayer{}

	if cfg.Topology != TopologyNodeGroup {
		return layer, nil
	}

	binding := b.clusterBinding(cl)

	sa := b.mustAdd(&ir.Resource{
		Type:     "kubernetes:core.ServiceAccount",
		Name:     "alb-controller",
		Provider: "kubernetes",
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "aws-load-balancer-controller",
			"namespace": "kube-system",
			"annotations": map[string]any{
				"eks.amazonaws.com/role-arn": ids.albRole.ptr("arn"),
			},
		},
	})

	rbac := b.mustAdd(&ir.Resource{
		Type:     "kubernetes:Manifest",
		Name:     "alb-controller-rbac",
		Provider: "kubernetes",
		Properties: map[string]any{
			"cluster": binding,
			"manifest": map[string]any{
				"apiVersion": "rbac.authorization.k8s.io/v1",
				"kind":       "ClusterRoleBinding",
				"metadata": map[string]any{
					"name": "aws-load-balancer-controller",
				},
				"roleRef": map[string]any{
					"apiGroup": "rbac.authorization.k8s.io",
					"kind":     "ClusterRole",
					"name":     "cluster-admin",
				},
				"subjects": []any{
					map[string]any{
						"kind":      "ServiceAccount",
						"name":      "aws-load-balancer-controller",
						"namespace": "kube-system",
					},
				},
			},
		},
	})

	albController := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:apps.Deployment",
		Name:      "alb-controller",
		Provider:  "kubernetes",
		DependsOn: []string{sa.addr(), rbac.addr()},
		Properties: map[string]any{
			"cluster":            binding,
			"name":               "aws-load-balancer-controller",
			"namespace":          "kube-system",
			"replicas":           1,
			"serviceAccountName": "aws-load-balancer-controller",
			"labels": map[string]any{
				"app.kubernetes.io/name": "aws-load-balancer-controller",
			},
			"containers": []any{
				map[string]any{
					"name":  "controller",
					"image": "public.ecr.aws/eks/aws-load-balancer-controller:v2.11.0",
					"args": []any{
						"--cluster-name", cl.cluster.ptr("name"),
						"--ingress-class", "alb",
					},
				},
			},
		},
	})
	layer.albController = &albController

	// cert-manager is installed from its release manifest; the issuer below
	// is what actually registers the ACME account.
	certManager := b.mustAdd(&ir.Resource{
		Type:     "kubernetes:Manifest",
		Name:     "cert-manager",
		Provider: "kubernetes",
		Timeout:  "10m",
		Properties: map[string]any{
			"cluster":     binding,
			"manifestUrl": "https://github.com/cert-manager/cert-manager/releases/download/v1.16.2/cert-manager.yaml",
		},
	})

	clusterIssuer := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:Manifest",
		Name:      "letsencrypt",
		Provider:  "kubernetes",
		DependsOn: []string{certManager.addr()},
		Properties: map[string]any{
			"cluster": binding,
			"manifest": map[string]any{
				"apiVersion": "cert-manager.io/v1",
				"kind":       "ClusterIssuer",
				"metadata": map[string]any{
					"name": "letsencrypt",
				},
				"spec": map[string]any{
					"acme": map[string]any{
						"server": "https://acme-v02.api.letsencrypt.org/directory",
						"email":  cfg.ContactEmail,
						"privateKeySecretRef": map[string]any{
							"name": "letsencrypt-account-key",
						},
						"solvers": []any{
							map[string]any{
								"http01": map[string]any{
									"ingress": map[string]any{
										"class": "alb",
									},
								},
							},
						},
					},
				},
			},
		},
	})
	layer.clusterIssuer = &clusterIssuer

	return layer, nil
}

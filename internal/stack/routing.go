package stack

import (
	"github.com/gantry-io/gantry/internal/ir"
)

// routingLayer exposes the handle the outputs need to report where traffic
// actually lands.
type routingLayer struct {
	loadBalancer *ref // auto-mode lookup; nil under TopologyNodeGroup
}

// addRouting declares the traffic-exposure layer for the selected topology.
// Node groups get an ALB ingress with a cert-manager certificate; auto mode
// gets a Gateway API listener terminating an ACM certificate, plus a lookup
// of the balancer auto mode provisions and, when a hosted zone is
// configured, an alias record pointing the domain at it.
func (b *builder) addRouting(cl *clusterLayer, wl *workloadLayer, addons *addonLayer) (*routingLayer, error) {
	cfg := b.cfg
	binding := b.clusterBinding(cl)
	layer := &routingLayer{}

	if cfg.Topology == TopologyNodeGroup {
		deps := []string{wl.webService.addr(), wl.apiService.addr()}
		if addons.albController != nil {
			deps = append(deps, addons.albController.addr())
		}
		if addons.clusterIssuer != nil {
			deps = append(deps, addons.clusterIssuer.addr())
		}
		b.mustAdd(&ir.Resource{
			Type:      "kubernetes:networking.Ingress",
			Name:      "app",
			Provider:  "kubernetes",
			DependsOn: deps,
			Timeout:   "15m",
			Properties: map[string]any{
				"cluster":   binding,
				"name":      "app",
				"namespace": appNamespace,
				"annotations": map[string]any{
					"kubernetes.io/ingress.class":                "alb",
					"alb.ingress.kubernetes.io/scheme":           "internet-facing",
					"alb.ingress.kubernetes.io/target-type":      "ip",
					"alb.ingress.kubernetes.io/listen-ports":     `[{"HTTP":80},{"HTTPS":443}]`,
					"alb.ingress.kubernetes.io/ssl-redirect":     "443",
					"cert-manager.io/cluster-issuer":             "letsencrypt",
					"alb.ingress.kubernetes.io/healthcheck-path": "/",
				},
				"host":      cfg.Domain,
				"tlsSecret": "app-tls",
				"rules": []any{
					map[string]any{"path": "/api", "service": "api", "port": 80},
					map[string]any{"path": "/", "service": "web", "port": 80},
				},
			},
		})
		return layer, nil
	}

	// Auto mode: certificate validation is DNS-based, so the certificate can
	// be requested before any traffic flows. With a hosted zone configured the
	// provider creates the validation record itself and waits for issuance;
	// without one it surfaces the record for the operator to create.
	certProps := map[string]any{
		"domainName":       cfg.Domain,
		"validationMethod": "DNS",
	}
	if cfg.HostedZoneID != "" {
		certProps["hostedZoneId"] = cfg.HostedZoneID
	}
	cert := b.mustAdd(&ir.Resource{
		Type:       "aws:ACM.Certificate",
		Name:       "app",
		Provider:   "aws",
		Timeout:    "30m",
		Properties: certProps,
	})

	gateway := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:Manifest",
		Name:      "gateway",
		Provider:  "kubernetes",
		DependsOn: []string{wl.namespace.addr()},
		Properties: map[string]any{
			"cluster": binding,
			"manifest": map[string]any{
				"apiVersion": "gateway.networking.k8s.io/v1",
				"kind":       "Gateway",
				"metadata": map[string]any{
					"name":      "app",
					"namespace": appNamespace,
				},
				"spec": map[string]any{
					"gatewayClassName": "eks-auto-alb",
					"listeners": []any{
						map[string]any{
							"name":     "https",
							"protocol": "HTTPS",
							"port":     443,
							"hostname": cfg.Domain,
							"tls": map[string]any{
								"mode": "Terminate",
								"options": map[string]any{
									"gateway.eks.amazonaws.com/certificate-arn": cert.ptr("arn"),
								},
							},
						},
					},
				},
			},
		},
	})

	routes := []struct {
		name    string
		path    string
		service string
		svcDep  ref
	}{
		{"api", "/api", "api", wl.apiService},
		{"web", "/", "web", wl.webService},
	}
	var routeRefs []ref
	for _, r := range routes {
		rt := b.mustAdd(&ir.Resource{
			Type:      "kubernetes:Manifest",
			Name:      "route-" + r.name,
			Provider:  "kubernetes",
			DependsOn: []string{gateway.addr(), r.svcDep.addr()},
			Properties: map[string]any{
				"cluster": binding,
				"manifest": map[string]any{
					"apiVersion": "gateway.networking.k8s.io/v1",
					"kind":       "HTTPRoute",
					"metadata": map[string]any{
						"name":      r.name,
						"namespace": appNamespace,
					},
					"spec": map[string]any{
						"parentRefs": []any{
							map[string]any{"name": "app"},
						},
						"hostnames": []any{cfg.Domain},
						"rules": []any{
							map[string]any{
								"matches": []any{
									map[string]any{
										"path": map[string]any{
											"type":  "PathPrefix",
											"value": r.path,
										},
									},
								},
								"backendRefs": []any{
									map[string]any{"name": r.service, "port": 80},
								},
							},
						},
					},
				},
			},
		})
		routeRefs = append(routeRefs, rt)
	}

	// The balancer is provisioned by the cluster, not by this graph, so it is
	// read back by tag rather than created.
	lookupDeps := make([]string, 0, len(routeRefs))
	for _, r := range routeRefs {
		lookupDeps = append(lookupDeps, r.addr())
	}
	lb := b.mustAdd(&ir.Resource{
		Type:      "aws:ELBv2.LoadBalancerLookup",
		Name:      "gateway",
		Provider:  "aws",
		DependsOn: lookupDeps,
		Timeout:   "15m",
		Properties: map[string]any{
			"tags": map[string]any{
				"gateway.eks.amazonaws.com/managed": "true",
				"elbv2.k8s.aws/cluster":             cl.cluster.ptr("name"),
			},
		},
	})
	layer.loadBalancer = &lb

	if cfg.HostedZoneID != "" {
		b.mustAdd(&ir.Resource{
			Type:     "aws:Route53.RecordSet",
			Name:     "app",
			Provider: "aws",
			Properties: map[string]any{
				"hostedZoneId": cfg.HostedZoneID,
				"name":         cfg.Domain,
				"type":         "A",
				"aliasTarget": map[string]any{
					"dnsName":      lb.ptr("dnsName"),
					"hostedZoneId": lb.ptr("canonicalHostedZoneId"),
				},
			},
		})
	}

	return layer, nil
}

package stack

import (
	"github.com/gantry-io/gantry/internal/ir"
)

// appNamespace is the namespace both demo workloads run in.
const appNamespace = "apps"

// workloadLayer carries handles for the two demo services so the routing
// layer can point traffic at them.
type workloadLayer struct {
	namespace  ref
	webService ref
	apiService ref
}

// addWorkloads declares the two demonstration services: a static dashboard
// behind nginx and a Node.js echo API. Both run in the app namespace; the
// API autoscales on CPU between the configured replica bounds.
func (b *builder) addWorkloads(cl *clusterLayer, ids *identityLayer) (*workloadLayer, error) {
	cfg := b.cfg
	binding := b.clusterBinding(cl)

	ns := b.mustAdd(&ir.Resource{
		Type:     "kubernetes:core.Namespace",
		Name:     "apps",
		Provider: "kubernetes",
		Properties: map[string]any{
			"cluster": binding,
			"name":    appNamespace,
		},
	})

	// Web: static page mounted from a config map into nginx.
	webContent := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:core.ConfigMap",
		Name:      "web-content",
		Provider:  "kubernetes",
		DependsOn: []string{ns.addr()},
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "web-content",
			"namespace": appNamespace,
			"data": map[string]any{
				"index.html": dashboardHTML(cfg.Domain),
			},
		},
	})

	webDeploy := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:apps.Deployment",
		Name:      "web",
		Provider:  "kubernetes",
		DependsOn: []string{webContent.addr()},
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "web",
			"namespace": appNamespace,
			"replicas":  2,
			"labels": map[string]any{
				"app": "web",
			},
			"containers": []any{
				map[string]any{
					"name":  "web",
					"image": cfg.WebImage,
					"ports": []any{map[string]any{"containerPort": 80}},
					"volumeMounts": []any{
						map[string]any{
							"name":      "content",
							"mountPath": "/usr/share/nginx/html",
						},
					},
				},
			},
			"volumes": []any{
				map[string]any{
					"name":      "content",
					"configMap": "web-content",
				},
			},
		},
	})

	webSvc := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:core.Service",
		Name:      "web",
		Provider:  "kubernetes",
		DependsOn: []string{webDeploy.addr()},
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "web",
			"namespace": appNamespace,
			"selector":  map[string]any{"app": "web"},
			"ports": []any{
				map[string]any{"port": 80, "targetPort": 80},
			},
		},
	})

	// API: the service account annotation is what binds pods to the
	// federated role; the ARN flows in as a data reference.
	apiSA := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:core.ServiceAccount",
		Name:      "api",
		Provider:  "kubernetes",
		DependsOn: []string{ns.addr()},
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "api",
			"namespace": appNamespace,
			"annotations": map[string]any{
				"eks.amazonaws.com/role-arn": ids.apiRole.ptr("arn"),
			},
		},
	})

	apiDeploy := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:apps.Deployment",
		Name:      "api",
		Provider:  "kubernetes",
		DependsOn: []string{apiSA.addr()},
		Properties: map[string]any{
			"cluster":            binding,
			"name":               "api",
			"namespace":          appNamespace,
			"replicas":           *cfg.MinReplicas,
			"serviceAccountName": "api",
			"labels": map[string]any{
				"app": "api",
			},
			"containers": []any{
				map[string]any{
					"name":    "api",
					"image":   cfg.APIImage,
					"command": []any{"node", "-e"},
					"args":    []any{apiServerJS()},
					"ports":   []any{map[string]any{"containerPort": 8080}},
					"env": []any{
						map[string]any{"name": "PORT", "value": "8080"},
					},
					"resources": map[string]any{
						"requests": map[string]any{"cpu": "100m", "memory": "128Mi"},
						"limits":   map[string]any{"cpu": "500m", "memory": "256Mi"},
					},
				},
			},
		},
	})

	apiSvc := b.mustAdd(&ir.Resource{
		Type:      "kubernetes:core.Service",
		Name:      "api",
		Provider:  "kubernetes",
		DependsOn: []string{apiDeploy.addr()},
		Properties: map[string]any{
			"cluster":   binding,
			"name":      "api",
			"namespace": appNamespace,
			"selector":  map[string]any{"app": "api"},
			"ports": []any{
				map[string]any{"port": 80, "targetPort": 8080},
			},
		},
	})

	b.mustAdd(&ir.Resource{
		Type:      "kubernetes:autoscaling.HorizontalPodAutoscaler",
		Name:      "api",
		Provider:  "kubernetes",
		DependsOn: []string{apiDeploy.addr()},
		Properties: map[string]any{
			"cluster":          binding,
			"name":             "api",
			"namespace":        appNamespace,
			"targetDeployment": "api",
			"minReplicas":      *cfg.MinReplicas,
			"maxReplicas":      *cfg.MaxReplicas,
			"cpuTargetPercent": *cfg.CPUTargetPercent,
		},
	})

	return &workloadLayer{
		namespace:  ns,
		webService: webSvc,
		apiService: apiSvc,
	}, nil
}

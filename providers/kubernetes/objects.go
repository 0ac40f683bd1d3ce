package kubernetes

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/gantry-io/gantry/pkg/provider"
)

// Namespace

type namespaceConfig struct {
	Cluster clusterBinding `json:"cluster"`
	Name    string         `json:"name"`
}

func (p *Provider) applyNamespace(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[namespaceConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: cfg.Name}}
	created, err := c.typed.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil {
		if !errors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("creating namespace %s: %w", cfg.Name, err)
		}
		created, err = c.typed.CoreV1().Namespaces().Get(ctx, cfg.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("reading namespace %s: %w", cfg.Name, err)
		}
	}

	return encodeState(&objectState{
		Cluster: cfg.Cluster,
		Name:    cfg.Name,
		UID:     string(created.UID),
	})
}

// ServiceAccount

type serviceAccountConfig struct {
	Cluster     clusterBinding    `json:"cluster"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Annotations map[string]string `json:"annotations"`
}

func (p *Provider) applyServiceAccount(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[serviceAccountConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:        cfg.Name,
			Namespace:   cfg.Namespace,
			Annotations: cfg.Annotations,
		},
	}

	api := c.typed.CoreV1().ServiceAccounts(cfg.Namespace)
	applied, err := api.Create(ctx, sa, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		existing, getErr := api.Get(ctx, cfg.Name, metav1.GetOptions{})
		if getErr != nil {
			return nil, fmt.Errorf("reading service account %s/%s: %w", cfg.Namespace, cfg.Name, getErr)
		}
		existing.Annotations = cfg.Annotations
		applied, err = api.Update(ctx, existing, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying service account %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

// ConfigMap

type configMapConfig struct {
	Cluster   clusterBinding    `json:"cluster"`
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Data      map[string]string `json:"data"`
}

func (p *Provider) applyConfigMap(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[configMapConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: cfg.Name, Namespace: cfg.Namespace},
		Data:       cfg.Data,
	}

	api := c.typed.CoreV1().ConfigMaps(cfg.Namespace)
	applied, err := api.Create(ctx, cm, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		applied, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying config map %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

// Deployment

type deploymentConfig struct {
	Cluster            clusterBinding    `json:"cluster"`
	Name               string            `json:"name"`
	Namespace          string            `json:"namespace"`
	Replicas           int32             `json:"replicas"`
	ServiceAccountName string            `json:"serviceAccountName"`
	Labels             map[string]string `json:"labels"`
	Containers         []containerConfig `json:"containers"`
	Volumes            []volumeConfig    `json:"volumes"`
}

type containerConfig struct {
	Name         string              `json:"name"`
	Image        string              `json:"image"`
	Command      []string            `json:"command"`
	Args         []string            `json:"args"`
	Ports        []portConfig        `json:"ports"`
	Env          []envConfig         `json:"env"`
	Resources    *resourcesConfig    `json:"resources"`
	VolumeMounts []volumeMountConfig `json:"volumeMounts"`
}

type portConfig struct {
	ContainerPort int32 `json:"containerPort"`
}

type envConfig struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resourcesConfig struct {
	Requests map[string]string `json:"requests"`
	Limits   map[string]string `json:"limits"`
}

type volumeMountConfig struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
}

type volumeConfig struct {
	Name      string `json:"name"`
	ConfigMap string `json:"configMap"`
}

func (p *Provider) applyDeployment(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[deploymentConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	deploy, err := buildDeployment(cfg)
	if err != nil {
		return nil, err
	}

	api := c.typed.AppsV1().Deployments(cfg.Namespace)
	applied, err := api.Create(ctx, deploy, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		applied, err = api.Update(ctx, deploy, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying deployment %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

func buildDeployment(cfg *deploymentConfig) (*appsv1.Deployment, error) {
	labels := cfg.Labels
	if labels == nil {
		labels = map[string]string{"app": cfg.Name}
	}

	var containers []corev1.Container
	for _, cc := range cfg.Containers {
		container := corev1.Container{
			Name:    cc.Name,
			Image:   cc.Image,
			Command: cc.Command,
			Args:    cc.Args,
		}
		for _, port := range cc.Ports {
			container.Ports = append(container.Ports, corev1.ContainerPort{
				ContainerPort: port.ContainerPort,
			})
		}
		for _, env := range cc.Env {
			container.Env = append(container.Env, corev1.EnvVar{
				Name: env.Name, Value: env.Value,
			})
		}
		if cc.Resources != nil {
			reqs, err := quantityList(cc.Resources.Requests)
			if err != nil {
				return nil, fmt.Errorf("container %s requests: %w", cc.Name, err)
			}
			limits, err := quantityList(cc.Resources.Limits)
			if err != nil {
				return nil, fmt.Errorf("container %s limits: %w", cc.Name, err)
			}
			container.Resources = corev1.ResourceRequirements{
				Requests: reqs,
				Limits:   limits,
			}
		}
		for _, vm := range cc.VolumeMounts {
			container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
				Name: vm.Name, MountPath: vm.MountPath,
			})
		}
		containers = append(containers, container)
	}

	var volumes []corev1.Volume
	for _, v := range cfg.Volumes {
		volumes = append(volumes, corev1.Volume{
			Name: v.Name,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: v.ConfigMap},
				},
			},
		})
	}

	replicas := cfg.Replicas
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cfg.Name,
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					ServiceAccountName: cfg.ServiceAccountName,
					Containers:         containers,
					Volumes:            volumes,
				},
			},
		},
	}, nil
}

func quantityList(values map[string]string) (corev1.ResourceList, error) {
	if len(values) == 0 {
		return nil, nil
	}
	list := make(corev1.ResourceList, len(values))
	for name, raw := range values {
		q, err := resource.ParseQuantity(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s=%q: %w", name, raw, err)
		}
		list[corev1.ResourceName(name)] = q
	}
	return list, nil
}

// Service

type serviceConfig struct {
	Cluster   clusterBinding      `json:"cluster"`
	Name      string              `json:"name"`
	Namespace string              `json:"namespace"`
	Selector  map[string]string   `json:"selector"`
	Ports     []servicePortConfig `json:"ports"`
}

type servicePortConfig struct {
	Port       int32 `json:"port"`
	TargetPort int32 `json:"targetPort"`
}

func (p *Provider) applyService(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[serviceConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: cfg.Name, Namespace: cfg.Namespace},
		Spec: corev1.ServiceSpec{
			Selector: cfg.Selector,
		},
	}
	for _, port := range cfg.Ports {
		svc.Spec.Ports = append(svc.Spec.Ports, corev1.ServicePort{
			Port:       port.Port,
			TargetPort: intstr.FromInt32(port.TargetPort),
		})
	}

	api := c.typed.CoreV1().Services(cfg.Namespace)
	applied, err := api.Create(ctx, svc, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		existing, getErr := api.Get(ctx, cfg.Name, metav1.GetOptions{})
		if getErr != nil {
			return nil, fmt.Errorf("reading service %s/%s: %w", cfg.Namespace, cfg.Name, getErr)
		}
		// ClusterIP is immutable; carry it over on update.
		svc.ResourceVersion = existing.ResourceVersion
		svc.Spec.ClusterIP = existing.Spec.ClusterIP
		applied, err = api.Update(ctx, svc, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying service %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

// HorizontalPodAutoscaler

type hpaConfig struct {
	Cluster          clusterBinding `json:"cluster"`
	Name             string         `json:"name"`
	Namespace        string         `json:"namespace"`
	TargetDeployment string         `json:"targetDeployment"`
	MinReplicas      int32          `json:"minReplicas"`
	MaxReplicas      int32          `json:"maxReplicas"`
	CPUTargetPercent int32          `json:"cpuTargetPercent"`
}

func (p *Provider) applyHPA(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[hpaConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	minReplicas := cfg.MinReplicas
	cpuTarget := cfg.CPUTargetPercent
	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Name: cfg.Name, Namespace: cfg.Namespace},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       cfg.TargetDeployment,
			},
			MinReplicas: &minReplicas,
			MaxReplicas: cfg.MaxReplicas,
			Metrics: []autoscalingv2.MetricSpec{{
				Type: autoscalingv2.ResourceMetricSourceType,
				Resource: &autoscalingv2.ResourceMetricSource{
					Name: corev1.ResourceCPU,
					Target: autoscalingv2.MetricTarget{
						Type:               autoscalingv2.UtilizationMetricType,
						AverageUtilization: &cpuTarget,
					},
				},
			}},
		},
	}

	api := c.typed.AutoscalingV2().HorizontalPodAutoscalers(cfg.Namespace)
	applied, err := api.Create(ctx, hpa, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		existing, getErr := api.Get(ctx, cfg.Name, metav1.GetOptions{})
		if getErr != nil {
			return nil, fmt.Errorf("reading autoscaler %s/%s: %w", cfg.Namespace, cfg.Name, getErr)
		}
		hpa.ResourceVersion = existing.ResourceVersion
		applied, err = api.Update(ctx, hpa, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying autoscaler %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

// Ingress

type ingressConfig struct {
	Cluster     clusterBinding    `json:"cluster"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Annotations map[string]string `json:"annotations"`
	Host        string            `json:"host"`
	TLSSecret   string            `json:"tlsSecret"`
	Rules       []ingressRule     `json:"rules"`
}

type ingressRule struct {
	Path    string `json:"path"`
	Service string `json:"service"`
	Port    int32  `json:"port"`
}

func (p *Provider) applyIngress(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[ingressConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	pathType := networkingv1.PathTypePrefix
	var paths []networkingv1.HTTPIngressPath
	for _, rule := range cfg.Rules {
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     rule.Path,
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: rule.Service,
					Port: networkingv1.ServiceBackendPort{Number: rule.Port},
				},
			},
		})
	}

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        cfg.Name,
			Namespace:   cfg.Namespace,
			Annotations: cfg.Annotations,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: cfg.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
				},
			}},
		},
	}
	if cfg.TLSSecret != "" {
		ingress.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{cfg.Host},
			SecretName: cfg.TLSSecret,
		}}
	}

	api := c.typed.NetworkingV1().Ingresses(cfg.Namespace)
	applied, err := api.Create(ctx, ingress, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		existing, getErr := api.Get(ctx, cfg.Name, metav1.GetOptions{})
		if getErr != nil {
			return nil, fmt.Errorf("reading ingress %s/%s: %w", cfg.Namespace, cfg.Name, getErr)
		}
		ingress.ResourceVersion = existing.ResourceVersion
		applied, err = api.Update(ctx, ingress, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("applying ingress %s/%s: %w", cfg.Namespace, cfg.Name, err)
	}

	return encodeState(&objectState{
		Cluster:   cfg.Cluster,
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		UID:       string(applied.UID),
	})
}

// deleteObject removes an applied object by its recorded identity.
func (p *Provider) deleteObject(ctx context.Context, c *clients, typ string, st *objectState) (*provider.DeleteResponse, error) {
	var err error
	switch typ {
	case "kubernetes:core.Namespace":
		err = c.typed.CoreV1().Namespaces().Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:core.ServiceAccount":
		err = c.typed.CoreV1().ServiceAccounts(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:core.ConfigMap":
		err = c.typed.CoreV1().ConfigMaps(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:core.Service":
		err = c.typed.CoreV1().Services(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:apps.Deployment":
		err = c.typed.AppsV1().Deployments(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:autoscaling.HorizontalPodAutoscaler":
		err = c.typed.AutoscalingV2().HorizontalPodAutoscalers(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:networking.Ingress":
		err = c.typed.NetworkingV1().Ingresses(st.Namespace).Delete(ctx, st.Name, metav1.DeleteOptions{})
	case "kubernetes:Manifest":
		return p.deleteManifest(ctx, c, st)
	default:
		return nil, fmt.Errorf("unknown resource type %q", typ)
	}

	if err != nil && !errors.IsNotFound(err) {
		return nil, fmt.Errorf("deleting %s %s/%s: %w", typ, st.Namespace, st.Name, err)
	}
	return &provider.DeleteResponse{}, nil
}

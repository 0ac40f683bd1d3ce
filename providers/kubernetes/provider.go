// Package kubernetes implements the resource provider for in-cluster
// declarations. Every resource carries a cluster binding naming the control
// plane it must apply through; clients are built per cluster from the
// binding's endpoint and CA, authenticated with a presigned STS token.
package kubernetes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"

	"github.com/gantry-io/gantry/pkg/provider"
)

// clusterBinding identifies the control plane a declaration applies to. The
// endpoint and CA are materialized by the cluster resource and flow in as
// resolved data references.
type clusterBinding struct {
	Name                 string `json:"name"`
	Endpoint             string `json:"endpoint"`
	CertificateAuthority string `json:"certificateAuthority"`
	Region               string `json:"region"`
}

type clients struct {
	typed   *k8s.Clientset
	dynamic dynamic.Interface
	mapper  *restmapper.DeferredDiscoveryRESTMapper
}

type Provider struct {
	mu     sync.Mutex
	byName map[string]*clients
	tokens *tokenGenerator
}

func New() *Provider {
	return &Provider{byName: make(map[string]*clients)}
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	return provider.DiffPlan(req)
}

// clientsFor returns cached clients for the bound cluster, building them on
// first use. Tokens are short-lived, so the transport re-mints one whenever
// the cached token nears expiry rather than pinning the first.
func (p *Provider) clientsFor(ctx context.Context, binding *clusterBinding) (*clients, error) {
	if binding.Name == "" || binding.Endpoint == "" {
		return nil, fmt.Errorf("resource is missing its cluster binding")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.byName[binding.Name]; ok {
		return c, nil
	}

	if p.tokens == nil {
		gen, err := newTokenGenerator(ctx, binding.Region)
		if err != nil {
			return nil, err
		}
		p.tokens = gen
	}
	source := newTokenSource(p.tokens, binding.Name)

	caData, err := base64.StdEncoding.DecodeString(binding.CertificateAuthority)
	if err != nil {
		return nil, fmt.Errorf("decoding cluster CA for %s: %w", binding.Name, err)
	}

	cfg := &rest.Config{
		Host: binding.Endpoint,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: caData,
		},
		WrapTransport: func(rt http.RoundTripper) http.RoundTripper {
			return &refreshingTransport{next: rt, source: source}
		},
	}

	typed, err := k8s.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", binding.Name, err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client for %s: %w", binding.Name, err)
	}
	disco, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building discovery client for %s: %w", binding.Name, err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disco))

	c := &clients{typed: typed, dynamic: dyn, mapper: mapper}
	p.byName[binding.Name] = c
	return c, nil
}

// bindingOf extracts the cluster binding every in-cluster resource carries.
func bindingOf(raw []byte) (*clusterBinding, error) {
	var wrapper struct {
		Cluster clusterBinding `json:"cluster"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decoding cluster binding: %w", err)
	}
	return &wrapper.Cluster, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	binding, err := bindingOf(req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}
	c, err := p.clientsFor(ctx, binding)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case "kubernetes:core.Namespace":
		return p.applyNamespace(ctx, c, req)
	case "kubernetes:core.ServiceAccount":
		return p.applyServiceAccount(ctx, c, req)
	case "kubernetes:core.ConfigMap":
		return p.applyConfigMap(ctx, c, req)
	case "kubernetes:core.Service":
		return p.applyService(ctx, c, req)
	case "kubernetes:apps.Deployment":
		return p.applyDeployment(ctx, c, req)
	case "kubernetes:autoscaling.HorizontalPodAutoscaler":
		return p.applyHPA(ctx, c, req)
	case "kubernetes:networking.Ingress":
		return p.applyIngress(ctx, c, req)
	case "kubernetes:Manifest":
		return p.applyManifest(ctx, c, req)
	}

	return nil, fmt.Errorf("unknown resource type %q", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	// In-cluster resources are re-converged on every apply; plan-time drift
	// detection against the API server is not implemented.
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var st objectState
	if err := json.Unmarshal(req.CurrentStateJSON, &st); err != nil {
		return nil, fmt.Errorf("decoding prior state: %w", err)
	}
	c, err := p.clientsFor(ctx, &st.Cluster)
	if err != nil {
		return nil, err
	}
	return p.deleteObject(ctx, c, req.Type, &st)
}

// objectState is the recorded identity of an applied object: enough to
// delete it later without the original declaration.
type objectState struct {
	Cluster   clusterBinding `json:"cluster"`
	Namespace string         `json:"namespace"`
	Name      string         `json:"name"`
	UID       string         `json:"uid,omitempty"`

	// Manifests record every object they created.
	Objects []manifestObject `json:"objects,omitempty"`
}

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding resource payload: %w", err)
	}
	return &v, nil
}

func encodeState(v any) (*provider.ApplyResponse, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding resource state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJSON: out}, nil
}

package kubernetes

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"

	"github.com/gantry-io/gantry/pkg/provider"
)

// Manifest applies raw objects: an inline document or a multi-document YAML
// stream fetched from a URL. It covers custom resources (Gateways, issuers,
// third-party installs) the typed appliers have no client for.

type manifestConfig struct {
	Cluster     clusterBinding `json:"cluster"`
	Manifest    map[string]any `json:"manifest"`
	ManifestURL string         `json:"manifestUrl"`
}

// manifestObject records one applied object so destroy can find it without
// re-fetching the source.
type manifestObject struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
}

func (p *Provider) applyManifest(ctx context.Context, c *clients, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	cfg, err := decode[manifestConfig](req.DesiredConfigJSON)
	if err != nil {
		return nil, err
	}

	var objs []*unstructured.Unstructured
	switch {
	case cfg.Manifest != nil:
		objs = append(objs, &unstructured.Unstructured{Object: cfg.Manifest})
	case cfg.ManifestURL != "":
		objs, err = fetchManifests(ctx, cfg.ManifestURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("manifest %s declares neither inline content nor a URL", req.Name)
	}

	state := &objectState{Cluster: cfg.Cluster, Name: req.Name}
	for _, obj := range objs {
		if err := p.applyUnstructured(ctx, c, obj); err != nil {
			return nil, err
		}
		state.Objects = append(state.Objects, manifestObject{
			APIVersion: obj.GetAPIVersion(),
			Kind:       obj.GetKind(),
			Namespace:  obj.GetNamespace(),
			Name:       obj.GetName(),
		})
	}

	return encodeState(state)
}

func (p *Provider) applyUnstructured(ctx context.Context, c *clients, obj *unstructured.Unstructured) error {
	api, err := p.resourceFor(c, obj.GroupVersionKind(), obj.GetNamespace())
	if err != nil {
		return err
	}

	existing, err := api.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if err != nil {
		if !errors.IsNotFound(err) {
			return fmt.Errorf("reading %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		if _, err := api.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		return nil
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	if _, err := api.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return nil
}

func (p *Provider) deleteManifest(ctx context.Context, c *clients, st *objectState) (*provider.DeleteResponse, error) {
	// Delete in reverse apply order so dependents go before their CRDs.
	for i := len(st.Objects) - 1; i >= 0; i-- {
		rec := st.Objects[i]
		gv, err := schema.ParseGroupVersion(rec.APIVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded apiVersion %q: %w", rec.APIVersion, err)
		}
		api, err := p.resourceFor(c, gv.WithKind(rec.Kind), rec.Namespace)
		if err != nil {
			// The CRD may already be gone along with its instances.
			continue
		}
		if err := api.Delete(ctx, rec.Name, metav1.DeleteOptions{}); err != nil && !errors.IsNotFound(err) {
			return nil, fmt.Errorf("deleting %s %s: %w", rec.Kind, rec.Name, err)
		}
	}
	return &provider.DeleteResponse{}, nil
}

func (p *Provider) resourceFor(c *clients, gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("no mapping for %s: %w", gvk, err)
	}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		if namespace == "" {
			namespace = "default"
		}
		return c.dynamic.Resource(mapping.Resource).Namespace(namespace), nil
	}
	return c.dynamic.Resource(mapping.Resource), nil
}

// fetchManifests downloads and splits a multi-document YAML stream.
func fetchManifests(ctx context.Context, url string) ([]*unstructured.Unstructured, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	decoder := k8syaml.NewYAMLOrJSONDecoder(resp.Body, 4096)
	var objs []*unstructured.Unstructured
	for {
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decoding manifest stream from %s: %w", url, err)
		}
		if len(raw) == 0 {
			continue
		}
		objs = append(objs, &unstructured.Unstructured{Object: raw})
	}
	return objs, nil
}

package kubernetes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiDocYAML = `apiVersion: v1
kind: Namespace
metadata:
  name: cert-manager
---
# a comment-only separator block

---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: cert-manager
  namespace: cert-manager
spec:
  replicas: 1
`

func TestFetchManifests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(multiDocYAML))
	}))
	defer srv.Close()

	objs, err := fetchManifests(t.Context(), srv.URL)
	require.NoError(t, err)
	require.Len(t, objs, 2)

	assert.Equal(t, "Namespace", objs[0].GetKind())
	assert.Equal(t, "cert-manager", objs[0].GetName())
	assert.Equal(t, "Deployment", objs[1].GetKind())
	assert.Equal(t, "cert-manager", objs[1].GetNamespace())
}

func TestFetchManifests_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fetchManifests(t.Context(), srv.URL)
	assert.ErrorContains(t, err, "unexpected status")
}

func TestManifestConfigDecoding(t *testing.T) {
	cfg, err := decode[manifestConfig]([]byte(`{
		"cluster": {"name": "webstack"},
		"manifest": {
			"apiVersion": "gateway.networking.k8s.io/v1",
			"kind": "Gateway",
			"metadata": {"name": "app", "namespace": "apps"}
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "webstack", cfg.Cluster.Name)
	assert.Equal(t, "Gateway", cfg.Manifest["kind"])
	assert.Empty(t, cfg.ManifestURL)
}

package kubernetes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDeployment(t *testing.T) {
	cfg := &deploymentConfig{
		Name:               "api",
		Namespace:          "apps",
		Replicas:           3,
		ServiceAccountName: "api",
		Labels:             map[string]string{"app": "api"},
		Containers: []containerConfig{{
			Name:    "api",
			Image:   "public.ecr.aws/docker/library/node:22-alpine",
			Command: []string{"node", "-e"},
			Args:    []string{"require('http')"},
			Ports:   []portConfig{{ContainerPort: 8080}},
			Env:     []envConfig{{Name: "PORT", Value: "8080"}},
			Resources: &resourcesConfig{
				Requests: map[string]string{"cpu": "100m", "memory": "128Mi"},
				Limits:   map[string]string{"cpu": "500m"},
			},
		}},
	}

	deploy, err := buildDeployment(cfg)
	require.NoError(t, err)

	assert.Equal(t, "api", deploy.Name)
	assert.Equal(t, "apps", deploy.Namespace)
	assert.Equal(t, int32(3), *deploy.Spec.Replicas)
	assert.Equal(t, map[string]string{"app": "api"}, deploy.Spec.Selector.MatchLabels)
	assert.Equal(t, "api", deploy.Spec.Template.Spec.ServiceAccountName)

	require.Len(t, deploy.Spec.Template.Spec.Containers, 1)
	container := deploy.Spec.Template.Spec.Containers[0]
	assert.Equal(t, []string{"node", "-e"}, container.Command)
	assert.Equal(t, int32(8080), container.Ports[0].ContainerPort)
	assert.Equal(t, "100m", container.Resources.Requests.Cpu().String())
	assert.Equal(t, "128Mi", container.Resources.Requests.Memory().String())
	assert.Equal(t, "500m", container.Resources.Limits.Cpu().String())
}

func TestBuildDeployment_DefaultLabels(t *testing.T) {
	deploy, err := buildDeployment(&deploymentConfig{Name: "web", Namespace: "apps", Replicas: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "web"}, deploy.Spec.Selector.MatchLabels)
	assert.Equal(t, map[string]string{"app": "web"}, deploy.Spec.Template.Labels)
}

func TestBuildDeployment_ConfigMapVolume(t *testing.T) {
	deploy, err := buildDeployment(&deploymentConfig{
		Name:      "web",
		Namespace: "apps",
		Replicas:  2,
		Containers: []containerConfig{{
			Name:  "web",
			Image: "public.ecr.aws/nginx/nginx:1.27-alpine",
			VolumeMounts: []volumeMountConfig{{
				Name:      "content",
				MountPath: "/usr/share/nginx/html",
			}},
		}},
		Volumes: []volumeConfig{{Name: "content", ConfigMap: "web-content"}},
	})
	require.NoError(t, err)

	require.Len(t, deploy.Spec.Template.Spec.Volumes, 1)
	vol := deploy.Spec.Template.Spec.Volumes[0]
	assert.Equal(t, "content", vol.Name)
	require.NotNil(t, vol.ConfigMap)
	assert.Equal(t, "web-content", vol.ConfigMap.Name)

	mounts := deploy.Spec.Template.Spec.Containers[0].VolumeMounts
	require.Len(t, mounts, 1)
	assert.Equal(t, "/usr/share/nginx/html", mounts[0].MountPath)
}

func TestBuildDeployment_BadQuantity(t *testing.T) {
	_, err := buildDeployment(&deploymentConfig{
		Name:      "web",
		Namespace: "apps",
		Containers: []containerConfig{{
			Name:      "web",
			Resources: &resourcesConfig{Requests: map[string]string{"cpu": "lots"}},
		}},
	})
	assert.Error(t, err)
}

func TestBindingOf(t *testing.T) {
	raw := []byte(`{
		"cluster": {
			"name": "webstack",
			"endpoint": "https://ABC.gr7.us-west-2.eks.amazonaws.com",
			"certificateAuthority": "ZmFrZQ==",
			"region": "us-west-2"
		},
		"name": "apps"
	}`)

	binding, err := bindingOf(raw)
	require.NoError(t, err)
	assert.Equal(t, "webstack", binding.Name)
	assert.Equal(t, "us-west-2", binding.Region)
}

func TestClientsFor_RequiresBinding(t *testing.T) {
	p := New()
	_, err := p.clientsFor(t.Context(), &clusterBinding{})
	assert.ErrorContains(t, err, "cluster binding")
}

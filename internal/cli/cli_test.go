package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/internal/ir"
	"github.com/gantry-io/gantry/internal/registry"
)

func TestResolveEntryDefaults(t *testing.T) {
	wd, entryPoint, err := resolveEntry(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, wd)
	assert.Equal(t, "stack.pkl", entryPoint)
}

func TestResolveEntryDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, entryPoint, err := resolveEntry([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	assert.Equal(t, "stack.pkl", entryPoint)
}

func TestResolveEntryMissingPath(t *testing.T) {
	_, _, err := resolveEntry([]string{"/nonexistent/stack.pkl"})
	assert.Error(t, err)
}

func TestLoadRequiredProviders(t *testing.T) {
	reg := registry.NewRegistry()
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "null_resource", Name: "a", Provider: "null"},
			{Type: "null_resource", Name: "b", Provider: "null"},
		},
	}
	require.NoError(t, loadRequiredProviders(reg, cfg))

	_, err := reg.Get("null")
	assert.NoError(t, err)
}

func TestLoadStateProviders(t *testing.T) {
	reg := registry.NewRegistry()
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "a", Provider: "null"},
		},
	}
	require.NoError(t, loadStateProviders(reg, state))

	_, err := reg.Get("null")
	assert.NoError(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"web"`, formatValue("web"))
	assert.Equal(t, "3", formatValue(3))
	assert.Equal(t, "true", formatValue(true))
}

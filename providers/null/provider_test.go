package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/provider"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, resp.Action)

	// Unchanged triggers plan as a no-op.
	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoOp, resp.Action)

	// Changed triggers force replacement.
	newDesired := Config{Triggers: map[string]string{"foo": "baz"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestProvider_Apply(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Apply(ctx, &provider.ApplyRequest{
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)

	var newState State
	err = json.Unmarshal(resp.NewStateJSON, &newState)
	require.NoError(t, err)
	assert.Equal(t, "null-test", newState.ID)
	assert.Equal(t, "bar", newState.Triggers["foo"])
}

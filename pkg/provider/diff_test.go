package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffPlan_Create(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EC2.Vpc",
		Name:              "platform",
		DesiredConfigJSON: []byte(`{"cidrBlock":"10.0.0.0/16"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, resp.Action)
}

func TestDiffPlan_Delete(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{
		Type:           "aws:EC2.Vpc",
		Name:           "platform",
		PriorStateJSON: []byte(`{"cidrBlock":"10.0.0.0/16"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, resp.Action)
}

func TestDiffPlan_NothingDeclared(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{Type: "aws:EC2.Vpc", Name: "platform"})
	require.NoError(t, err)
	assert.Equal(t, ActionNoOp, resp.Action)
}

func TestDiffPlan_NoOpOnEqualConfig(t *testing.T) {
	doc := []byte(`{"cidrBlock":"10.0.0.0/16","tags":{"Name":"webstack"}}`)
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EC2.Vpc",
		Name:              "platform",
		DesiredConfigJSON: doc,
		PriorStateJSON:    doc,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionNoOp, resp.Action)
}

func TestDiffPlan_UnresolvedReferencesCompareEqual(t *testing.T) {
	// Declarations carry unresolved data references; as long as both sides
	// hold the same reference string the resource is unchanged.
	doc := []byte(`{"vpcId":"ptr://aws:EC2.Vpc/platform/id","cidrBlock":"10.0.0.0/24"}`)
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EC2.Subnet",
		Name:              "public-0",
		DesiredConfigJSON: doc,
		PriorStateJSON:    doc,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionNoOp, resp.Action)
}

func TestDiffPlan_ReportsNestedPaths(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EKS.NodeGroup",
		Name:              "default",
		DesiredConfigJSON: []byte(`{"scalingConfig":{"desiredSize":4,"minSize":2},"version":"1.33"}`),
		PriorStateJSON:    []byte(`{"scalingConfig":{"desiredSize":2,"minSize":2},"version":"1.33"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, resp.Action)
	assert.Equal(t, []string{"scalingConfig.desiredSize"}, resp.ChangedAttributes)
}

func TestDiffPlan_ReportsAddedAndRemovedKeys(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EC2.Vpc",
		Name:              "platform",
		DesiredConfigJSON: []byte(`{"cidrBlock":"10.0.0.0/16","enableDnsSupport":true}`),
		PriorStateJSON:    []byte(`{"cidrBlock":"10.0.0.0/16","instanceTenancy":"default"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, resp.Action)
	assert.ElementsMatch(t, []string{"enableDnsSupport", "instanceTenancy"}, resp.ChangedAttributes)
}

func TestDiffPlan_ListChangeIsOnePath(t *testing.T) {
	resp, err := DiffPlan(&PlanRequest{
		Type:              "aws:EKS.Cluster",
		Name:              "platform",
		DesiredConfigJSON: []byte(`{"subnetIds":["a","b","c"]}`),
		PriorStateJSON:    []byte(`{"subnetIds":["a","b"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, resp.Action)
	assert.Equal(t, []string{"subnetIds"}, resp.ChangedAttributes)
}

package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/internal/ir"
)

func TestBuilderAdd(t *testing.T) {
	b := newBuilder((&Config{}).ApplyDefaults())

	vpc, err := b.add(&ir.Resource{Type: "aws:EC2.Vpc", Name: "main", Provider: "aws"})
	require.NoError(t, err)
	assert.Equal(t, "aws:EC2.Vpc.main", vpc.addr())

	_, err = b.add(&ir.Resource{
		Type:     "aws:EC2.Subnet",
		Name:     "public-a",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": vpc.ptr("id"),
		},
	})
	require.NoError(t, err)
}

func TestBuilderAdd_RejectsDuplicates(t *testing.T) {
	b := newBuilder((&Config{}).ApplyDefaults())

	_, err := b.add(&ir.Resource{Type: "aws:EC2.Vpc", Name: "main", Provider: "aws"})
	require.NoError(t, err)

	_, err = b.add(&ir.Resource{Type: "aws:EC2.Vpc", Name: "main", Provider: "aws"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestBuilderAdd_RejectsForwardReference(t *testing.T) {
	b := newBuilder((&Config{}).ApplyDefaults())

	_, err := b.add(&ir.Resource{
		Type:     "aws:EC2.Subnet",
		Name:     "public-a",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": "ptr://aws:EC2.Vpc/main/id",
		},
	})
	assert.ErrorContains(t, err, "before it is declared")
}

func TestBuilderAdd_RejectsUndeclaredDependsOn(t *testing.T) {
	b := newBuilder((&Config{}).ApplyDefaults())

	_, err := b.add(&ir.Resource{
		Type:      "aws:EC2.Subnet",
		Name:      "public-a",
		Provider:  "aws",
		DependsOn: []string{"aws:EC2.Vpc.main"},
	})
	assert.ErrorContains(t, err, "before it is declared")
}

func TestBuilderAdd_RejectsMalformedReference(t *testing.T) {
	b := newBuilder((&Config{}).ApplyDefaults())

	_, err := b.add(&ir.Resource{
		Type:     "aws:EC2.Subnet",
		Name:     "public-a",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": "ptr://missing-parts",
		},
	})
	assert.ErrorContains(t, err, "malformed reference")
}

func TestRefPtr(t *testing.T) {
	r := ref{typ: "aws:EKS.Cluster", name: "platform"}
	assert.Equal(t, "ptr://aws:EKS.Cluster/platform/endpoint", r.ptr("endpoint"))
	assert.Equal(t, "aws:EKS.Cluster.platform", r.addr())
}

func TestCollectPtrRefs(t *testing.T) {
	props := map[string]any{
		"vpcId": "ptr://aws:EC2.Vpc/main/id",
		"plain": "literal",
		"nested": map[string]any{
			"subnetIds": []string{
				"ptr://aws:EC2.Subnet/public-a/id",
				"ptr://aws:EC2.Subnet/public-b/id",
			},
		},
	}

	refs := collectPtrRefs(props)
	assert.Len(t, refs, 3)
}

func TestPtrToAddr(t *testing.T) {
	assert.Equal(t, "aws:EC2.Vpc.main", ptrToAddr("ptr://aws:EC2.Vpc/main/id"))
	assert.Equal(t, "", ptrToAddr("ptr://aws:EC2.Vpc/main"))
}

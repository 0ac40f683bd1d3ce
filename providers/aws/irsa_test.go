package aws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustDocument(t *testing.T) {
	doc, err := TrustDocument(
		"https://oidc.eks.us-west-2.amazonaws.com/id/ABCDEF0123456789",
		"arn:aws:iam::123456789012:oidc-provider/oidc.eks.us-west-2.amazonaws.com/id/ABCDEF0123456789",
		"apps",
		"api",
	)
	require.NoError(t, err)

	var parsed struct {
		Version   string `json:"Version"`
		Statement []struct {
			Effect    string `json:"Effect"`
			Action    string `json:"Action"`
			Principal struct {
				Federated string `json:"Federated"`
			} `json:"Principal"`
			Condition struct {
				StringEquals map[string]string `json:"StringEquals"`
			} `json:"Condition"`
		} `json:"Statement"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))

	require.Len(t, parsed.Statement, 1)
	st := parsed.Statement[0]
	assert.Equal(t, "2012-10-17", parsed.Version)
	assert.Equal(t, "Allow", st.Effect)
	assert.Equal(t, "sts:AssumeRoleWithWebIdentity", st.Action)
	assert.Equal(t, "arn:aws:iam::123456789012:oidc-provider/oidc.eks.us-west-2.amazonaws.com/id/ABCDEF0123456789", st.Principal.Federated)

	// Condition keys use the issuer with its scheme stripped.
	bare := "oidc.eks.us-west-2.amazonaws.com/id/ABCDEF0123456789"
	assert.Equal(t, "system:serviceaccount:apps:api", st.Condition.StringEquals[bare+":sub"])
	assert.Equal(t, "sts.amazonaws.com", st.Condition.StringEquals[bare+":aud"])
}

func TestTrustDocument_SchemelessIssuer(t *testing.T) {
	doc, err := TrustDocument(
		"oidc.eks.us-west-2.amazonaws.com/id/ABC/",
		"arn:aws:iam::123456789012:oidc-provider/oidc.eks.us-west-2.amazonaws.com/id/ABC",
		"apps",
		"api",
	)
	require.NoError(t, err)
	assert.Contains(t, doc, `"oidc.eks.us-west-2.amazonaws.com/id/ABC:sub"`)
	assert.NotContains(t, doc, "ABC/:sub")
}

func TestTrustDocument_Errors(t *testing.T) {
	_, err := TrustDocument("", "arn:aws:iam::123456789012:oidc-provider/x", "apps", "api")
	assert.ErrorContains(t, err, "issuer")

	_, err = TrustDocument("https://oidc.example.com/id/ABC", "", "apps", "api")
	assert.ErrorContains(t, err, "provider ARN")
}

package kubernetes

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_ReusesFreshToken(t *testing.T) {
	mints := 0
	source := &tokenSource{
		cluster: "webstack",
		mint: func(ctx context.Context, clusterName string) (string, error) {
			mints++
			return fmt.Sprintf("k8s-aws-v1.token-%d", mints), nil
		},
	}

	first, err := source.bearer(t.Context())
	require.NoError(t, err)
	second, err := source.bearer(t.Context())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mints)
}

func TestTokenSource_RemintsStaleToken(t *testing.T) {
	mints := 0
	source := &tokenSource{
		cluster: "webstack",
		mint: func(ctx context.Context, clusterName string) (string, error) {
			mints++
			return fmt.Sprintf("k8s-aws-v1.token-%d", mints), nil
		},
	}

	first, err := source.bearer(t.Context())
	require.NoError(t, err)

	// Age the cached token past its reuse window.
	source.minted = time.Now().Add(-tokenTTL)

	second, err := source.bearer(t.Context())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, mints)
}

type captureRoundTripper struct {
	got *http.Request
}

func (c *captureRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c.got = req
	return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
}

func TestRefreshingTransport_SetsAuthorization(t *testing.T) {
	capture := &captureRoundTripper{}
	source := &tokenSource{
		cluster: "webstack",
		mint: func(ctx context.Context, clusterName string) (string, error) {
			return "k8s-aws-v1.fresh", nil
		},
	}
	rt := &refreshingTransport{next: capture, source: source}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "https://example.eks/api", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	require.NotNil(t, capture.got)
	assert.Equal(t, "Bearer k8s-aws-v1.fresh", capture.got.Header.Get("Authorization"))
	// The original request stays untouched.
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestRefreshingTransport_MintFailure(t *testing.T) {
	source := &tokenSource{
		cluster: "webstack",
		mint: func(ctx context.Context, clusterName string) (string, error) {
			return "", fmt.Errorf("credentials expired")
		},
	}
	rt := &refreshingTransport{next: &captureRoundTripper{}, source: source}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "https://example.eks/api", nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webstack")
}

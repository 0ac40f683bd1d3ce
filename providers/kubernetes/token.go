package kubernetes

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// tokenGenerator mints EKS bearer tokens: a presigned STS
// GetCallerIdentity URL, scoped to one cluster via the x-k8s-aws-id header,
// wrapped in the k8s-aws-v1 envelope the API server's authenticator expects.
type tokenGenerator struct {
	presign *sts.PresignClient
}

func newTokenGenerator(ctx context.Context, region string) (*tokenGenerator, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for token generation: %w", err)
	}
	return &tokenGenerator{
		presign: sts.NewPresignClient(sts.NewFromConfig(cfg)),
	}, nil
}

func (g *tokenGenerator) Token(ctx context.Context, clusterName string) (string, error) {
	presigned, err := g.presign.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{},
		func(opts *sts.PresignOptions) {
			opts.ClientOptions = append(opts.ClientOptions,
				sts.WithAPIOptions(smithyhttp.SetHeaderValue("x-k8s-aws-id", clusterName)))
		})
	if err != nil {
		return "", fmt.Errorf("presigning token for %s: %w", clusterName, err)
	}
	return "k8s-aws-v1." + base64.RawURLEncoding.EncodeToString([]byte(presigned.URL)), nil
}

// tokenTTL is how long a minted token is reused. The API server accepts
// presigned tokens for roughly fifteen minutes; re-minting well before that
// keeps long applies clear of the boundary.
const tokenTTL = 10 * time.Minute

// tokenSource hands out a valid bearer token for one cluster, re-minting
// when the cached one nears expiry.
type tokenSource struct {
	mint    func(ctx context.Context, clusterName string) (string, error)
	cluster string

	mu     sync.Mutex
	token  string
	minted time.Time
}

func newTokenSource(gen *tokenGenerator, clusterName string) *tokenSource {
	return &tokenSource{mint: gen.Token, cluster: clusterName}
}

func (s *tokenSource) bearer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || time.Since(s.minted) >= tokenTTL {
		token, err := s.mint(ctx, s.cluster)
		if err != nil {
			return "", err
		}
		s.token = token
		s.minted = time.Now()
	}
	return s.token, nil
}

// refreshingTransport injects a fresh bearer token per request, so cached
// clients stay authenticated across applies that outlive a single token.
type refreshingTransport struct {
	next   http.RoundTripper
	source *tokenSource
}

func (t *refreshingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.bearer(req.Context())
	if err != nil {
		return nil, fmt.Errorf("minting token for %s: %w", t.source.cluster, err)
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(out)
}

package registry

import (
	"fmt"
	"sync"

	"github.com/gantry-io/gantry/pkg/provider"
	"github.com/gantry-io/gantry/providers/aws"
	"github.com/gantry-io/gantry/providers/kubernetes"
	"github.com/gantry-io/gantry/providers/null"
)

// Registry manages the lifecycle of providers. All providers are built-in
// and run in-process; a declaration's provider binding selects which one its
// apply calls go through.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
	}
}

// LoadProvider initializes and registers a provider. Loading is idempotent.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p provider.Provider
	switch name {
	case "null":
		p = null.New()
	case "aws":
		p = aws.New()
	case "kubernetes":
		p = kubernetes.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

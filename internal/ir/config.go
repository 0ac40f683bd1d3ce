package ir

// Config is one provisioning run's worth of declarations plus the named
// output values derived from them after the run converges.
type Config struct {
	Resources []*Resource    `pkl:"resources"`
	Outputs   map[string]any `pkl:"outputs"`

	// Providers carries per-provider configuration, keyed by provider name.
	Providers map[string]map[string]any `pkl:"providers"`
}

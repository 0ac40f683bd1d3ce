package ir

// Resource is a single desired-state declaration: a stable logical name, a
// kind, the provider binding it is applied through, explicit predecessor
// edges, and an arbitrarily nested attribute set.
type Resource struct {
	Type       string         `pkl:"type"` // e.g. "aws:EKS.Cluster"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Timeout    string         `pkl:"timeout"`
	Properties map[string]any `pkl:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}

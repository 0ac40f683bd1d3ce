package stack

import (
	"fmt"
	"strings"

	"github.com/gantry-io/gantry/internal/engine"
	"github.com/gantry-io/gantry/internal/ir"
)

// builder accumulates resource declarations for one run. It is single-pass
// and synchronous: declarations are appended in dependency order, every
// predecessor must already be declared, and nothing is mutated after Build
// returns. All I/O belongs to the engine and providers.
type builder struct {
	cfg       *Config
	resources []*ir.Resource
	index     map[string]*ir.Resource
	outputs   map[string]any
}

// ref is a handle to a declared resource, used to mint data references and
// explicit edges to it.
type ref struct {
	typ  string
	name string
}

// addr returns the resource address (type.name).
func (r ref) addr() string {
	return r.typ + "." + r.name
}

// ptr returns a data reference to one of the resource's materialized
// outputs. The engine resolves it at apply time and derives an implicit
// predecessor edge from it, so a consumer never needs to hand-copy values
// that only exist after the producer converges.
func (r ref) ptr(attr string) string {
	return fmt.Sprintf("ptr://%s/%s/%s", r.typ, r.name, attr)
}

func newBuilder(cfg *Config) *builder {
	return &builder{
		cfg:     cfg,
		index:   make(map[string]*ir.Resource),
		outputs: make(map[string]any),
	}
}

// add appends a declaration. Duplicate logical names and edges to resources
// that have not been declared yet are configuration errors; catching them
// here keeps the handoff graph closed and forward-reference free.
func (b *builder) add(res *ir.Resource) (ref, error) {
	r := ref{typ: res.Type, name: res.Name}
	if res.Type == "" || res.Name == "" {
		return r, fmt.Errorf("declaration requires both type and name, got %q", r.addr())
	}
	if _, dup := b.index[r.addr()]; dup {
		return r, fmt.Errorf("duplicate declaration %s", r.addr())
	}

	for _, dep := range res.DependsOn {
		if _, ok := b.index[dep]; !ok {
			return r, fmt.Errorf("declaration %s depends on %s before it is declared", r.addr(), dep)
		}
	}
	for _, ptrRef := range collectPtrRefs(res.Properties) {
		depAddr := ptrToAddr(ptrRef)
		if depAddr == "" {
			return r, fmt.Errorf("declaration %s holds malformed reference %q", r.addr(), ptrRef)
		}
		if _, ok := b.index[depAddr]; !ok {
			return r, fmt.Errorf("declaration %s references %s before it is declared", r.addr(), depAddr)
		}
	}

	b.index[r.addr()] = res
	b.resources = append(b.resources, res)
	return r, nil
}

// mustAdd is add for declarations whose edges are all under the builder's
// own control. A failure here is a bug in the graph layout, not user input,
// so it panics; Build recovers it into an error.
func (b *builder) mustAdd(res *ir.Resource) ref {
	r, err := b.add(res)
	if err != nil {
		panic(err)
	}
	return r
}

func (b *builder) setOutput(name string, value any) {
	b.outputs[name] = value
}

// finish seals the graph: the engine's DAG build re-verifies uniqueness,
// edge closure, and acyclicity on the exact structure handed off.
func (b *builder) finish() (*ir.Config, error) {
	if _, err := engine.BuildDAG(b.resources); err != nil {
		return nil, fmt.Errorf("declared graph is invalid: %w", err)
	}
	return &ir.Config{
		Resources: b.resources,
		Outputs:   b.outputs,
		Providers: map[string]map[string]any{
			"aws": {"region": b.cfg.Region},
		},
	}, nil
}

func collectPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, elem := range val {
			refs = append(refs, collectPtrRefs(elem)...)
		}
	case []any:
		for _, elem := range val {
			refs = append(refs, collectPtrRefs(elem)...)
		}
	case []string:
		for _, elem := range val {
			refs = append(refs, collectPtrRefs(elem)...)
		}
	}
	return refs
}

func ptrToAddr(ptrRef string) string {
	path := strings.TrimPrefix(ptrRef, "ptr://")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

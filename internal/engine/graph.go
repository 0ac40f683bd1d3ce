package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gantry-io/gantry/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	index    int      // declaration position, used to keep ordering stable
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resource declarations. Edges
// come from explicit DependsOn entries and from implicit ptr:// references
// embedded in properties. An explicit edge naming an undeclared resource is
// a configuration error; the graph must be closed before it is handed to
// the apply machinery.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, res := range resources {
		addr := resourceAddr(res)
		if _, dup := dag.nodes[addr]; dup {
			return nil, fmt.Errorf("duplicate resource address %s", addr)
		}
		dag.nodes[addr] = &dagNode{addr: addr, index: i}
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := dag.nodes[addr]

		seen := make(map[string]bool)

		// Explicit DependsOn
		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, fmt.Errorf("resource %s depends on undeclared resource %s", addr, dep)
			}
			if !seen[dep] {
				seen[dep] = true
				node.edges = append(node.edges, dep)
			}
		}

		// Implicit ptr:// references in properties
		for _, ref := range extractPtrRefs(res.Properties) {
			depAddr := ptrRefToAddr(ref)
			if depAddr == "" || depAddr == addr {
				continue
			}
			if _, ok := dag.nodes[depAddr]; !ok {
				return nil, fmt.Errorf("resource %s references undeclared resource %s", addr, depAddr)
			}
			if !seen[depAddr] {
				seen[depAddr] = true
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	if err := dag.finalize(); err != nil {
		return nil, err
	}
	return dag, nil
}

// BuildDAGFromState constructs a dependency graph from state resources, used
// when destroying. State may reference resources that were pruned, so unknown
// dependencies are tolerated here.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, res := range resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		dag.nodes[addr] = &dagNode{addr: addr, index: i}
	}

	for _, res := range resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		node := dag.nodes[addr]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	if err := dag.finalize(); err != nil {
		return nil, err
	}
	return dag, nil
}

func (d *DAG) finalize() error {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the declared predecessors of a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every resource reachable through the predecessor
// edges of addr.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// topoSort performs Kahn's algorithm. Ties break on declaration order so the
// same input always yields the same creation order.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []*dagNode
	for _, node := range d.nodes {
		if inDegree[node.addr] == 0 {
			queue = append(queue, node)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].index < queue[j].index })

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node.addr)

		var ready []*dagNode
		for _, dependent := range node.revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, d.nodes[dependent])
			}
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.nodes) {
		var stuck []string
		for addr, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, addr)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle detected in resource graph involving: %s", strings.Join(stuck, ", "))
	}

	return sorted, nil
}

// ResourceAddr returns the address of a resource (type.name).
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// extractPtrRefs extracts all ptr:// references from a property value.
func extractPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs = append(refs, val)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			refs = append(refs, extractPtrRefs(val[k])...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case []string:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	}
	return refs
}

// ptrRefToAddr converts a ptr:// reference to a resource address.
// ptr://aws:EKS.Cluster/platform/oidcIssuer -> aws:EKS.Cluster.platform
func ptrRefToAddr(ref string) string {
	if !strings.HasPrefix(ref, "ptr://") {
		return ""
	}
	path := ref[6:]
	// Format: Type/name/attribute
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

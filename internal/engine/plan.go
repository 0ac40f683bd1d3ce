package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gantry-io/gantry/internal/ir"
	"github.com/gantry-io/gantry/internal/logging"
	"github.com/gantry-io/gantry/internal/registry"
	"github.com/gantry-io/gantry/pkg/provider"
)

// Engine reconciles a declared resource graph against recorded state. It is
// the only component that performs provider calls; graph construction stays
// side-effect free.
type Engine struct {
	registry        *registry.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{
		registry: reg,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses. Targeted resources drag their transitive predecessors along so
// the applied subgraph stays closed. If targets is empty, everything is
// planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	if err := e.configureProviders(ctx, cfg); err != nil {
		return nil, err
	}

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateMap[addr] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		configByAddr[resourceAddr(res)] = res
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		resourceType := res.Type
		if resourceType == "" {
			resourceType = "null_resource"
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		desiredJSON, err := json.Marshal(res.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		// Plan compares what was asked for last run, not what the provider
		// materialized; recorded inputs hold the same unresolved references
		// as the declaration, so an unchanged declaration plans as a no-op.
		var priorJSON []byte
		if prior, ok := stateMap[addr]; ok {
			priorJSON, _ = json.Marshal(prior.Inputs)
		}

		resp, err := prov.Plan(ctx, &provider.PlanRequest{
			Type:              resourceType,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			PriorStateJSON:    priorJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		if resp.Action == provider.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(res, resp.Action, addr); err != nil {
			return nil, err
		}

		action := resp.Action
		if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == provider.ActionUpdate {
			action = filterIgnoredChanges(res, resp)
		}
		if action == provider.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  action.String(),
			Desired: res,
		}

		if prior, ok := stateMap[addr]; ok {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case provider.ActionCreate:
			plan.Summary.Create++
		case provider.ActionUpdate:
			plan.Summary.Update++
		case provider.ActionReplace:
			plan.Summary.Replace++
		case provider.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources in state but no longer declared get destroyed.
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if _, declared := configByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		change := &ir.ResourceChange{
			Address: addr,
			Action:  provider.ActionDelete.String(),
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				DependsOn:  res.Dependencies,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		}
		plan.Changes = append(plan.Changes, change)
		plan.Summary.Delete++
	}

	return plan, nil
}

// configureProviders hands each loaded provider its configuration block.
// Providers without a block are still configured so they can fall back to
// ambient credentials.
func (e *Engine) configureProviders(ctx context.Context, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider == "" || seen[res.Provider] {
			continue
		}
		seen[res.Provider] = true

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return err
		}

		var configJSON []byte
		if block, ok := cfg.Providers[res.Provider]; ok {
			if configJSON, err = json.Marshal(block); err != nil {
				return fmt.Errorf("failed to marshal configuration for provider %s: %w", res.Provider, err)
			}
		}
		resp, err := prov.Configure(ctx, &provider.ConfigureRequest{ConfigJSON: configJSON})
		if err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", res.Provider, err)
		}
		for _, diag := range resp.Diagnostics {
			if diag.Severity == provider.SeverityError {
				return fmt.Errorf("provider %s rejected its configuration: %s: %s", res.Provider, diag.Summary, diag.Detail)
			}
		}
	}
	return nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an UPDATE to NOOP when every changed
// attribute is covered by IgnoreChanges.
func filterIgnoredChanges(res *ir.Resource, resp *provider.PlanResponse) provider.Action {
	if res.Lifecycle == nil || len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return provider.ActionNoOp
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	for _, k := range unionKeys(prior, desired) {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

func unionKeys(a, b map[string]any) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

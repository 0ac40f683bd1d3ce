package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gantry-io/gantry/internal/ir"
	"github.com/gantry-io/gantry/internal/logging"
	"github.com/gantry-io/gantry/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Independent branches of the graph apply in parallel; dependent branches
// serialize on their declared predecessors. If e.ContinueOnError is true,
// apply continues past individual failures and returns an aggregated error.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateIndex[addr] = i
	}

	// Creates/updates go first in dependency order; deletes follow in
	// reverse dependency order.
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == "DELETE" {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	runBatch := func(changes []*ir.ResourceChange) error {
		if len(changes) > 1 {
			return e.applyParallel(ctx, changes, state, &stateIndex, &mu, emit)
		}
		for _, change := range changes {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("apply cancelled: %w", err)
			}
			start := time.Now()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				return err
			}
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
		}
		return nil
	}

	for _, batch := range [][]*ir.ResourceChange{createUpdates, deletes} {
		if err := runBatch(batch); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	}

	state.Serial++
	state.Outputs = resolveOutputs(plan.Outputs, state)

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, nil
}

// applyParallel applies changes concurrently, respecting the declared
// predecessor edges among them. A change whose predecessor failed is skipped.
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Desired != nil {
			for _, d := range c.Desired.DependsOn {
				if _, ok := changeMap[d]; ok {
					deps[c.Address][d] = true
				}
			}
			for _, ref := range extractPtrRefs(c.Desired.Properties) {
				depAddr := ptrRefToAddr(ref)
				if _, ok := changeMap[depAddr]; ok && depAddr != c.Address {
					deps[c.Address][depAddr] = true
				}
			}
			continue
		}
		// Deletes carry only a prior declaration. Edges reverse: a resource
		// waits for everything that referenced it to be deleted first.
		if c.Action == "DELETE" && c.Prior != nil {
			priorDeps := append([]string{}, c.Prior.DependsOn...)
			for _, ref := range extractPtrRefs(c.Prior.Properties) {
				priorDeps = append(priorDeps, ptrRefToAddr(ref))
			}
			for _, d := range priorDeps {
				if _, ok := changeMap[d]; ok && d != c.Address {
					deps[d][c.Address] = true
				}
			}
		}
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			completedMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON []byte
	var priorJSON []byte
	var name, typ string
	var dependencies []string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		dependencies = change.Desired.DependsOn
		mu.Lock()
		resolvedProps := resolveReferences(change.Desired.Properties, state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolvedProps)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		priorState := state.Resources[idx]
		if priorState.Outputs != nil {
			priorJSON, _ = json.Marshal(priorState.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case "CREATE", "UPDATE", "REPLACE":
		var resp *provider.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
				Type:              typ,
				Name:              name,
				DesiredConfigJSON: desiredJSON,
				PriorStateJSON:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state for %s: %w", addr, err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			Outputs:      outputs,
			Dependencies: dependencies,
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

	case "DELETE":
		var resourceID string
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(ctx, &provider.DeleteRequest{
				Type:             typ,
				ID:               resourceID,
				CurrentStateJSON: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = make(map[string]int)
			for i, res := range state.Resources {
				a := fmt.Sprintf("%s.%s", res.Type, res.Name)
				(*stateIndex)[a] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

// resolveOutputs substitutes ptr:// references in run outputs with the
// values the corresponding resources materialized.
func resolveOutputs(outputs map[string]any, state *ir.State) map[string]any {
	if outputs == nil {
		return nil
	}
	resolved, _ := resolveReferences(outputs, state).(map[string]any)
	return resolved
}

// resolveReferences replaces ptr://Type/name/attr strings with the named
// resource's materialized output (falling back to its declared input).
// Unresolvable references are left as-is so the failure surfaces at the
// consuming provider with the original reference intact.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if !strings.HasPrefix(v, "ptr://") {
			return v
		}
		for _, res := range state.Resources {
			matchPrefix := fmt.Sprintf("ptr://%s/%s/", res.Type, res.Name)
			if !strings.HasPrefix(v, matchPrefix) {
				continue
			}
			attr := v[len(matchPrefix):]
			if out, ok := res.Outputs[attr]; ok {
				return out
			}
			if in, ok := res.Inputs[attr]; ok {
				return in
			}
			return v
		}
		return v
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, elem := range v {
			newMap[k] = resolveReferences(elem, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, elem := range v {
			newSlice[i] = resolveReferences(elem, state)
		}
		return newSlice
	case []string:
		newSlice := make([]any, len(v))
		for i, elem := range v {
			newSlice[i] = resolveReferences(elem, state)
		}
		return newSlice
	default:
		return v
	}
}

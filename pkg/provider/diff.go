package provider

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DiffPlan is the default planning policy shared by the built-in providers:
// compare the desired configuration against the configuration recorded on
// the previous run and report the attribute paths that differ.
func DiffPlan(req *PlanRequest) (*PlanResponse, error) {
	if req.DesiredConfigJSON == nil {
		if req.PriorStateJSON == nil {
			return &PlanResponse{Action: ActionNoOp}, nil
		}
		return &PlanResponse{Action: ActionDelete}, nil
	}
	if req.PriorStateJSON == nil {
		return &PlanResponse{Action: ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("decoding desired config for %s: %w", req.Type, err)
	}
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("decoding prior state for %s: %w", req.Type, err)
	}

	changed := changedPaths("", prior, desired)
	if len(changed) == 0 {
		return &PlanResponse{Action: ActionNoOp}, nil
	}
	return &PlanResponse{Action: ActionUpdate, ChangedAttributes: changed}, nil
}

// changedPaths walks two decoded JSON values and returns the dotted paths at
// which they differ. Maps recurse; everything else compares structurally.
func changedPaths(prefix string, prior, desired any) []string {
	priorMap, pOK := prior.(map[string]any)
	desiredMap, dOK := desired.(map[string]any)
	if pOK && dOK {
		keySet := make(map[string]bool, len(priorMap)+len(desiredMap))
		for k := range priorMap {
			keySet[k] = true
		}
		for k := range desiredMap {
			keySet[k] = true
		}
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []string
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			pv, inPrior := priorMap[k]
			dv, inDesired := desiredMap[k]
			if !inPrior || !inDesired {
				out = append(out, path)
				continue
			}
			out = append(out, changedPaths(path, pv, dv)...)
		}
		return out
	}

	if !jsonEqual(prior, desired) {
		return []string{prefix}
	}
	return nil
}

func jsonEqual(a, b any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

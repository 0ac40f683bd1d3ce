// Package null implements a no-op provider: resources that exist only in
// state. Useful for wiring-level tests and as the minimal reference for the
// provider contract.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gantry-io/gantry/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Config declares a null resource: a bag of triggers whose change forces
// replacement.
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.DesiredConfigJSON == nil {
		if req.PriorStateJSON == nil {
			return &provider.PlanResponse{Action: provider.ActionNoOp}, nil
		}
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("decoding desired config: %w", err)
	}

	if req.PriorStateJSON == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior Config
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("decoding prior state: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoOp}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("decoding desired config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	out, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJSON: out}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	return &provider.ReadResponse{
		Exists:       true,
		NewStateJSON: req.CurrentStateJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	return &provider.DeleteResponse{}, nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

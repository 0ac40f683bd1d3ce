// Package provider defines the contract between the engine and resource
// providers. Providers run in-process; the engine only ever talks to this
// interface and never to a cloud SDK directly.
package provider

import "context"

// Action is the change a provider determined (or was asked) to perform.
type Action int

const (
	ActionNoOp Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

// Severity classifies a diagnostic emitted during Configure.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic carries a provider-side configuration problem.
type Diagnostic struct {
	Severity Severity
	Summary  string
	Detail   string
}

// ConfigureRequest carries provider-level settings (region, endpoints).
type ConfigureRequest struct {
	ConfigJSON []byte
}

type ConfigureResponse struct {
	Diagnostics []Diagnostic
}

// PlanRequest asks the provider what action a single declaration requires.
// DesiredConfigJSON is nil when the resource is being removed.
type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

// ApplyRequest asks the provider to converge one resource. A nil
// DesiredConfigJSON means destroy whatever PriorStateJSON describes.
type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type ApplyResponse struct {
	NewStateJSON []byte
}

// ReadRequest refreshes the observed state of an already-managed resource.
type ReadRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type DeleteResponse struct{}

// Provider is implemented by every resource provider.
type Provider interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}

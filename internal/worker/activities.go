package worker

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-promptflow/internal/flow"
)

// FlowRequest names a registered flow and carries its input.
type FlowRequest struct {
	Flow  string         `json:"flow"`
	Input map[string]any `json:"input"`
}

// Application error types attached to failed flow activities.
const (
	ErrTypeValidation     = "Validation"
	ErrTypeTemplate       = "Template"
	ErrTypeSchemaMismatch = "SchemaMismatch"
	ErrTypeProvider       = "Provider"
	ErrTypeCancelled      = "Cancelled"
	ErrTypeNotFound       = "NotFound"
	ErrTypeUnknown        = "Unknown"
)

var errTypes = map[flow.Outcome]string{
	flow.OutcomeValidation:     ErrTypeValidation,
	flow.OutcomeTemplate:       ErrTypeTemplate,
	flow.OutcomeSchemaMismatch: ErrTypeSchemaMismatch,
	flow.OutcomeProvider:       ErrTypeProvider,
	flow.OutcomeCancelled:      ErrTypeCancelled,
	flow.OutcomeNotFound:       ErrTypeNotFound,
}

// Activities runs registered flows as Temporal activities.
type Activities struct {
	exec *flow.Executor
	reg  *flow.Registry
}

// NewActivities creates activities that execute flows from reg with exec.
func NewActivities(exec *flow.Executor, reg *flow.Registry) *Activities {
	return &Activities{exec: exec, reg: reg}
}

// RunFlow looks up req.Flow and executes it. Every failure is returned as a
// non-retryable application error whose type names the failure class;
// transient provider failures have already been retried below the executor.
func (a *Activities) RunFlow(ctx context.Context, req FlowRequest) (map[string]any, error) {
	def, err := a.reg.Lookup(req.Flow)
	if err != nil {
		return nil, nonRetryable(req.Flow, err)
	}

	out, err := a.exec.Execute(ctx, def, req.Input)
	if err != nil {
		return nil, nonRetryable(req.Flow, err)
	}
	return out, nil
}

// nonRetryable wraps err as a non-retryable ApplicationError typed by its
// flow outcome.
func nonRetryable(flowName string, err error) error {
	errType, ok := errTypes[flow.Classify(err)]
	if !ok {
		errType = ErrTypeUnknown
	}
	return temporal.NewNonRetryableApplicationError(
		fmt.Sprintf("flow %s failed", flowName),
		errType,
		err,
	)
}

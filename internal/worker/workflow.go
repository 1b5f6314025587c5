package worker

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultActivityTimeout bounds one RunFlow activity, provider retries
// included.
const DefaultActivityTimeout = 2 * time.Minute

var errMissingFlow = errors.New("flow name is required")

// FlowWorkflow executes one flow through the RunFlow activity. The activity
// is attempted once: retries belong to the provider client, and every flow
// failure is terminal.
func FlowWorkflow(ctx workflow.Context, req FlowRequest) (map[string]any, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "flow.v", workflow.DefaultVersion, currentVersion)

	if req.Flow == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid flow request",
			ErrTypeValidation,
			errMissingFlow,
		)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var out map[string]any
	if err := workflow.ExecuteActivity(ctx, a.RunFlow, req).Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package worker exposes the flow workflow and activities to a Temporal
// worker.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"
)

// RegisterAll registers FlowWorkflow and the flow activities with w. It must
// be called once, before the worker starts.
func RegisterAll(w sdkworker.Worker, activities *Activities) {
	w.RegisterWorkflow(FlowWorkflow)
	w.RegisterActivity(activities.RunFlow)
}

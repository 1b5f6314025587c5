package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-promptflow/internal/catalog"
	"github.com/ahrav/go-promptflow/internal/flow"
)

// replyProvider answers every call with reply or err.
func replyProvider(reply map[string]any, err error) flow.Provider {
	return flow.ProviderFunc(func(context.Context, flow.Request) (map[string]any, error) {
		if err != nil {
			return nil, err
		}
		return reply, nil
	})
}

func newActivities(t *testing.T, p flow.Provider) *Activities {
	t.Helper()
	reg := flow.NewRegistry()
	require.NoError(t, catalog.Register(reg))
	reg.Seal()
	return NewActivities(flow.NewExecutor(p), reg)
}

func appErrorType(t *testing.T, err error) string {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable(), "flow failures must not be retried by Temporal")
	return appErr.Type()
}

func TestRunFlow(t *testing.T) {
	acts := newActivities(t, replyProvider(map[string]any{"insight": "Bamboo regrows in months."}, nil))

	out, err := acts.RunFlow(context.Background(), FlowRequest{
		Flow: catalog.ProductInsightsFlow,
		Input: map[string]any{
			"productName":        "Bamboo Toothbrush",
			"productDescription": "A compostable toothbrush.",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bamboo regrows in months.", out["insight"])
}

func TestRunFlowErrorTypes(t *testing.T) {
	tests := []struct {
		name     string
		provider flow.Provider
		req      FlowRequest
		want     string
	}{
		{
			name:     "unknown_flow",
			provider: replyProvider(nil, nil),
			req:      FlowRequest{Flow: "noSuchFlow"},
			want:     ErrTypeNotFound,
		},
		{
			name:     "invalid_input",
			provider: replyProvider(nil, nil),
			req:      FlowRequest{Flow: catalog.SummarizePageFlow, Input: map[string]any{"textContent": 7}},
			want:     ErrTypeValidation,
		},
		{
			name:     "provider_failure",
			provider: replyProvider(nil, errors.New("connection reset")),
			req:      FlowRequest{Flow: catalog.SummarizePageFlow, Input: map[string]any{"textContent": "hi"}},
			want:     ErrTypeProvider,
		},
		{
			name:     "provider_timeout",
			provider: replyProvider(nil, fmt.Errorf("openai: send: %w", context.DeadlineExceeded)),
			req:      FlowRequest{Flow: catalog.SummarizePageFlow, Input: map[string]any{"textContent": "hi"}},
			want:     ErrTypeProvider,
		},
		{
			name:     "schema_mismatch",
			provider: replyProvider(map[string]any{"summary": 42}, nil),
			req:      FlowRequest{Flow: catalog.SummarizePageFlow, Input: map[string]any{"textContent": "hi"}},
			want:     ErrTypeSchemaMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts := newActivities(t, tt.provider)
			_, err := acts.RunFlow(context.Background(), tt.req)
			assert.Equal(t, tt.want, appErrorType(t, err))
		})
	}
}

func TestRunFlowCancelled(t *testing.T) {
	acts := newActivities(t, flow.ProviderFunc(func(ctx context.Context, _ flow.Request) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := acts.RunFlow(ctx, FlowRequest{Flow: catalog.SummarizePageFlow, Input: map[string]any{"textContent": "hi"}})
	assert.Equal(t, ErrTypeCancelled, appErrorType(t, err))
}

func TestRunFlowActivityEnvironment(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	acts := newActivities(t, replyProvider(map[string]any{"summary": "Short."}, nil))
	env.RegisterActivity(acts.RunFlow)

	val, err := env.ExecuteActivity(acts.RunFlow, FlowRequest{
		Flow:  catalog.SummarizePageFlow,
		Input: map[string]any{"textContent": "A long page."},
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, val.Get(&out))
	assert.Equal(t, "Short.", out["summary"])
}

func TestFlowWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}

	t.Run("empty cart short-circuits", func(t *testing.T) {
		env := testSuite.NewTestWorkflowEnvironment()
		called := false
		env.RegisterActivity(newActivities(t, flow.ProviderFunc(
			func(context.Context, flow.Request) (map[string]any, error) {
				called = true
				return nil, errors.New("unexpected call")
			})))

		env.ExecuteWorkflow(FlowWorkflow, FlowRequest{
			Flow:  catalog.ThemedProductSuggestionsFlow,
			Input: map[string]any{"cartContents": []any{}},
		})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var out map[string]any
		require.NoError(t, env.GetWorkflowResult(&out))
		assert.Equal(t, []any{}, out["suggestions"])
		assert.False(t, called)
	})

	t.Run("completed flow returns output", func(t *testing.T) {
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterActivity(newActivities(t, replyProvider(
			map[string]any{"report": "Great choices!"}, nil)))

		env.ExecuteWorkflow(FlowWorkflow, FlowRequest{
			Flow:  catalog.EcoImpactReportFlow,
			Input: map[string]any{"cartContents": []any{"reusable tote"}},
		})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var out map[string]any
		require.NoError(t, env.GetWorkflowResult(&out))
		assert.Equal(t, "Great choices!", out["report"])
	})

	t.Run("activity failure is not retried", func(t *testing.T) {
		env := testSuite.NewTestWorkflowEnvironment()
		calls := 0
		env.RegisterActivity(newActivities(t, flow.ProviderFunc(
			func(context.Context, flow.Request) (map[string]any, error) {
				calls++
				return nil, errors.New("upstream down")
			})))

		env.ExecuteWorkflow(FlowWorkflow, FlowRequest{
			Flow:  catalog.SummarizePageFlow,
			Input: map[string]any{"textContent": "hi"},
		})
		require.True(t, env.IsWorkflowCompleted())
		assert.Equal(t, ErrTypeProvider, appErrorType(t, env.GetWorkflowError()))
		assert.Equal(t, 1, calls)
	})

	t.Run("missing flow name fails validation", func(t *testing.T) {
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterActivity(newActivities(t, replyProvider(nil, nil)))

		env.ExecuteWorkflow(FlowWorkflow, FlowRequest{})
		require.True(t, env.IsWorkflowCompleted())
		assert.Equal(t, ErrTypeValidation, appErrorType(t, env.GetWorkflowError()))
	})
}

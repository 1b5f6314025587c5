package catalog

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptflow/internal/flow"
)

// countingProvider records every prompt and replies from a per-flow table.
type countingProvider struct {
	calls   atomic.Int32
	prompts map[string]string
	replies map[string]map[string]any
}

func (p *countingProvider) Invoke(_ context.Context, req flow.Request) (map[string]any, error) {
	p.calls.Add(1)
	p.prompts[req.Flow] = req.Prompt
	reply, ok := p.replies[req.Flow]
	if !ok {
		return nil, errors.New("no reply configured")
	}
	return reply, nil
}

func newCatalog(t *testing.T, replies map[string]map[string]any) (*Flows, *countingProvider, *flow.Registry) {
	t.Helper()
	provider := &countingProvider{prompts: map[string]string{}, replies: replies}
	reg := flow.NewRegistry()
	require.NoError(t, Register(reg))
	reg.Seal()

	flows, err := NewFlows(flow.NewExecutor(provider), reg)
	require.NoError(t, err)
	return flows, provider, reg
}

func TestRegister(t *testing.T) {
	_, _, reg := newCatalog(t, nil)

	assert.Equal(t, []string{
		EcoImpactReportFlow,
		ProductInsightsFlow,
		SummarizePageFlow,
		ThemedProductSuggestionsFlow,
	}, reg.Names())

	for _, def := range reg.Definitions() {
		switch def.Name() {
		case ThemedProductSuggestionsFlow, EcoImpactReportFlow:
			assert.True(t, def.HasGuard(), def.Name())
		default:
			assert.False(t, def.HasGuard(), def.Name())
		}
	}

	err := Register(reg)
	assert.ErrorIs(t, err, flow.ErrRegistrySealed)
}

func TestRegisterTwiceFailsWithDuplicate(t *testing.T) {
	reg := flow.NewRegistry()
	require.NoError(t, Register(reg))

	var dup *flow.DuplicateFlowError
	require.ErrorAs(t, Register(reg), &dup)
	assert.Equal(t, ThemedProductSuggestionsFlow, dup.Name)
}

func TestThemedProductSuggestionsPrompt(t *testing.T) {
	flows, provider, _ := newCatalog(t, map[string]map[string]any{
		ThemedProductSuggestionsFlow: {"suggestions": []any{"bamboo cutlery set", "beeswax food wraps"}},
	})

	out, err := flows.ThemedProductSuggestions(context.Background(), CartInput{
		CartContents: []string{"bamboo toothbrush", "reusable tote"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bamboo cutlery set", "beeswax food wraps"}, out.Suggestions)

	got := provider.prompts[ThemedProductSuggestionsFlow]
	assert.True(t, strings.HasSuffix(got, "cart contents: bamboo toothbrush, reusable tote\nSuggestions:"), got)
	assert.True(t, strings.HasPrefix(got, "You are a helpful shopping assistant"), got)
}

func TestEmptyCartShortCircuits(t *testing.T) {
	flows, provider, _ := newCatalog(t, map[string]map[string]any{
		ThemedProductSuggestionsFlow: {"suggestions": []any{"should not be used"}},
		EcoImpactReportFlow:          {"report": "should not be used"},
	})
	ctx := context.Background()

	for _, in := range []CartInput{{}, {CartContents: []string{}}} {
		sugg, err := flows.ThemedProductSuggestions(ctx, in)
		require.NoError(t, err)
		assert.NotNil(t, sugg.Suggestions)
		assert.Empty(t, sugg.Suggestions)

		report, err := flows.EcoImpactReport(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "", report.Report)
	}

	assert.Zero(t, provider.calls.Load())
}

func TestEcoImpactReport(t *testing.T) {
	flows, provider, _ := newCatalog(t, map[string]map[string]any{
		EcoImpactReportFlow: {"report": "Great choices! You're cutting plastic waste."},
	})

	out, err := flows.EcoImpactReport(context.Background(), CartInput{CartContents: []string{"steel straw"}})
	require.NoError(t, err)
	assert.Equal(t, "Great choices! You're cutting plastic waste.", out.Report)
	assert.True(t, strings.HasSuffix(provider.prompts[EcoImpactReportFlow], "Current cart contents: steel straw\n"))
}

func TestProductInsights(t *testing.T) {
	flows, provider, _ := newCatalog(t, map[string]map[string]any{
		ProductInsightsFlow: {"insight": "Cork regrows after harvest."},
	})

	out, err := flows.ProductInsights(context.Background(), ProductInput{
		ProductName:        "Cork yoga mat",
		ProductDescription: "Natural cork & rubber",
	})
	require.NoError(t, err)
	assert.Equal(t, "Cork regrows after harvest.", out.Insight)

	got := provider.prompts[ProductInsightsFlow]
	assert.Contains(t, got, "Product Name: Cork yoga mat\nDescription: Natural cork & rubber\n")
}

func TestProductInsightsEmptyFieldsStillCallModel(t *testing.T) {
	flows, provider, _ := newCatalog(t, map[string]map[string]any{
		ProductInsightsFlow: {"insight": "x"},
	})

	_, err := flows.ProductInsights(context.Background(), ProductInput{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestSummarizePageSchemaMismatch(t *testing.T) {
	flows, _, _ := newCatalog(t, map[string]map[string]any{
		SummarizePageFlow: {"abstract": "wrong field"},
	})

	_, err := flows.SummarizePage(context.Background(), PageInput{TextContent: "Long page text."})
	var mismatch *flow.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, SummarizePageFlow, mismatch.Flow)
}

func TestNewFlowsRequiresRegistration(t *testing.T) {
	_, err := NewFlows(flow.NewExecutor(&countingProvider{}), flow.NewRegistry())
	var nf *flow.NotFoundError
	require.ErrorAs(t, err, &nf)
}

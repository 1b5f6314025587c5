package catalog

import (
	"context"

	"github.com/ahrav/go-promptflow/internal/flow"
)

type (
	// CartInput lists the product names in a shopping cart.
	CartInput struct {
		CartContents []string `json:"cartContents"`
	}

	// SuggestionsOutput holds related product suggestions.
	SuggestionsOutput struct {
		Suggestions []string `json:"suggestions"`
	}

	// EcoImpactOutput holds the eco-impact statement for a cart.
	EcoImpactOutput struct {
		Report string `json:"report"`
	}

	// ProductInput describes one product.
	ProductInput struct {
		ProductName        string `json:"productName"`
		ProductDescription string `json:"productDescription"`
	}

	// InsightOutput holds a product insight.
	InsightOutput struct {
		Insight string `json:"insight"`
	}

	// PageInput carries the text of a web page.
	PageInput struct {
		TextContent string `json:"textContent"`
	}

	// SummaryOutput holds a page summary.
	SummaryOutput struct {
		Summary string `json:"summary"`
	}
)

// Flows exposes one typed function per catalog flow.
type Flows struct {
	suggestions *flow.Typed[CartInput, SuggestionsOutput]
	ecoImpact   *flow.Typed[CartInput, EcoImpactOutput]
	insights    *flow.Typed[ProductInput, InsightOutput]
	summarize   *flow.Typed[PageInput, SummaryOutput]
}

// NewFlows binds the catalog flows registered in reg to exec. Register must
// have been called on reg first.
func NewFlows(exec *flow.Executor, reg *flow.Registry) (*Flows, error) {
	var defs [4]*flow.Definition
	for i, name := range []string{
		ThemedProductSuggestionsFlow,
		EcoImpactReportFlow,
		ProductInsightsFlow,
		SummarizePageFlow,
	} {
		def, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}

	return &Flows{
		suggestions: flow.Bind[CartInput, SuggestionsOutput](exec, defs[0]),
		ecoImpact:   flow.Bind[CartInput, EcoImpactOutput](exec, defs[1]),
		insights:    flow.Bind[ProductInput, InsightOutput](exec, defs[2]),
		summarize:   flow.Bind[PageInput, SummaryOutput](exec, defs[3]),
	}, nil
}

// ThemedProductSuggestions suggests eco-friendly products related to the
// cart. An empty cart yields no suggestions without calling the model.
func (f *Flows) ThemedProductSuggestions(ctx context.Context, in CartInput) (SuggestionsOutput, error) {
	out, err := f.suggestions.Call(ctx, normalizeCart(in))
	if err == nil && out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return out, err
}

// EcoImpactReport describes the environmental impact of the cart. An empty
// cart yields an empty report without calling the model.
func (f *Flows) EcoImpactReport(ctx context.Context, in CartInput) (EcoImpactOutput, error) {
	return f.ecoImpact.Call(ctx, normalizeCart(in))
}

// ProductInsights returns one insight about a product.
func (f *Flows) ProductInsights(ctx context.Context, in ProductInput) (InsightOutput, error) {
	return f.insights.Call(ctx, in)
}

// SummarizePage summarizes web page text.
func (f *Flows) SummarizePage(ctx context.Context, in PageInput) (SummaryOutput, error) {
	return f.summarize.Call(ctx, in)
}

// normalizeCart treats a nil cart as empty so it reaches the guard instead
// of failing validation.
func normalizeCart(in CartInput) CartInput {
	if in.CartContents == nil {
		in.CartContents = []string{}
	}
	return in
}

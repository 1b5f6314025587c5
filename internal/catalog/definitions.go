// Package catalog declares the EcoMarket storefront flows.
package catalog

import (
	"fmt"

	"github.com/ahrav/go-promptflow/internal/flow"
	"github.com/ahrav/go-promptflow/internal/shape"
)

// Registered flow names.
const (
	ThemedProductSuggestionsFlow = "themedProductSuggestionsFlow"
	EcoImpactReportFlow          = "ecoImpactReportFlow"
	ProductInsightsFlow          = "productInsightsFlow"
	SummarizePageFlow            = "summarizePageFlow"
)

const cartContentsDescription = "An array of product names currently in the shopping cart."

const suggestionsPrompt = `You are a helpful shopping assistant specializing in eco-friendly products.

Based on the current contents of the user's shopping cart, suggest other thematically related eco-friendly products that the user might be interested in.
The suggestions should reflect environmental or sustainability concerns.
Be concise.

Current cart contents: {{#each cartContents}}{{{this}}}{{#unless @last}}, {{/unless}}{{/each}}
Suggestions:`

const ecoImpactPrompt = `You are an encouraging and positive eco-assistant for an online store called EcoMarket.

Based on the items in the user's cart, write a short, 1-2 sentence summary of the positive environmental impact they are making.
Focus on the benefits of their choices (e.g., reducing plastic, choosing sustainable materials). Be specific but concise.
Start with a positive affirmation like "Great choices!" or "You're making a difference!".

Current cart contents: {{#each cartContents}}{{{this}}}{{#unless @last}}, {{/unless}}{{/each}}
`

const insightsPrompt = `You are a helpful and creative assistant for an eco-friendly online store called EcoMarket.

Based on the product name and description, generate a single, interesting "insight".
This could be:
- A surprising fun fact related to the product or its materials.
- A creative or alternative way to use the product.
- A specific, tangible benefit of its eco-friendliness.
- A helpful tip for maintaining or getting the most out of the product.

The insight should be short, engaging, and easy to understand (1-2 sentences). Do not repeat information that is already obvious from the description.

Product Name: {{{productName}}}
Description: {{{productDescription}}}
`

const summarizePrompt = `You are an expert at summarizing web content for accessibility.

Analyze the text provided and generate a simple, clear, and concise summary.
Focus on the main points and key information. Use short sentences and simple vocabulary.

Text to summarize:
{{{textContent}}}
`

// Configs returns the flow configurations in registration order. Both cart
// flows return an empty result for an empty cart without calling the model;
// the product and page flows have no list input and always call it.
func Configs() []flow.Config {
	cart := shape.New("EcoMarketCart",
		shape.StringArray("cartContents", cartContentsDescription),
	)

	return []flow.Config{
		{
			Name:        ThemedProductSuggestionsFlow,
			Description: "Suggests thematically related eco-friendly products for the current cart.",
			Input:       cart,
			Output: shape.New("ThemedProductSuggestions",
				shape.StringArray("suggestions", "An array of thematically related eco-friendly product suggestions."),
			),
			Prompt: suggestionsPrompt,
			Guard:  flow.EmptyArrayGuard("cartContents", map[string]any{"suggestions": []any{}}),
		},
		{
			Name:        EcoImpactReportFlow,
			Description: "Summarizes the positive environmental impact of the items in the cart.",
			Input:       cart,
			Output: shape.New("EcoImpactReport",
				shape.String("report", "A short, encouraging summary of the positive environmental impact of the items in the cart."),
			),
			Prompt: ecoImpactPrompt,
			Guard:  flow.EmptyArrayGuard("cartContents", map[string]any{"report": ""}),
		},
		{
			Name:        ProductInsightsFlow,
			Description: "Generates one interesting insight, tip or fun fact about a product.",
			Input: shape.New("ProductInfo",
				shape.String("productName", "The name of the product."),
				shape.String("productDescription", "The detailed description of the product."),
			),
			Output: shape.New("ProductInsight",
				shape.String("insight", "A single, concise, and interesting insight, tip, or fun fact about the product. Should be 1-2 sentences."),
			),
			Prompt: insightsPrompt,
		},
		{
			Name:        SummarizePageFlow,
			Description: "Summarizes the text content of a web page for accessibility.",
			Input: shape.New("PageText",
				shape.String("textContent", "The full text content of the webpage to be summarized."),
			),
			Output: shape.New("PageSummary",
				shape.String("summary", "A concise, easy-to-read summary of the provided text."),
			),
			Prompt: summarizePrompt,
		},
	}
}

// Register defines every catalog flow and adds it to reg. It stops at the
// first failure, leaving earlier flows registered.
func Register(reg *flow.Registry) error {
	for _, cfg := range Configs() {
		def, err := flow.Define(cfg)
		if err != nil {
			return fmt.Errorf("define %s: %w", cfg.Name, err)
		}
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

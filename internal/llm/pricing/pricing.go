// Package pricing estimates the cost of provider calls from token usage.
// Rates are held in milli-cents per 1000 tokens and all arithmetic is
// integer.
package pricing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// milliCentsFactor converts a per-1000-token rate into a per-token cost.
const milliCentsFactor = 1000

// ErrInvalidEntry is returned when a pricing file holds an unusable entry.
var ErrInvalidEntry = errors.New("invalid pricing entry")

// Entry holds the rates for one provider/model pair.
type Entry struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	PromptCostPer1000 int64  `yaml:"prompt_cost_per_1000"` // Milli-cents per 1000 prompt tokens
	OutputCostPer1000 int64  `yaml:"output_cost_per_1000"` // Milli-cents per 1000 completion tokens
}

// Key identifies the entry in a Table.
func (e Entry) Key() string {
	return key(e.Provider, e.Model)
}

// Calculate returns the cost of usage in milli-cents, truncated.
func (e Entry) Calculate(usage transport.NormalizedUsage) int64 {
	prompt := (usage.PromptTokens * e.PromptCostPer1000) / milliCentsFactor
	output := (usage.CompletionTokens * e.OutputCostPer1000) / milliCentsFactor
	return prompt + output
}

func (e Entry) validate() error {
	if e.Provider == "" || e.Model == "" {
		return fmt.Errorf("%w: provider and model are required", ErrInvalidEntry)
	}
	if e.PromptCostPer1000 < 0 || e.OutputCostPer1000 < 0 {
		return fmt.Errorf("%w: %s has a negative rate", ErrInvalidEntry, e.Key())
	}
	return nil
}

// Table is a concurrency-safe set of rates.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns a table holding entries.
func New(entries ...Entry) *Table {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		t.entries[e.Key()] = e
	}
	return t
}

// Default returns a table with list rates for the default models of each
// provider.
func Default() *Table {
	return New(
		Entry{Provider: "openai", Model: "gpt-4o-mini", PromptCostPer1000: 15, OutputCostPer1000: 60},
		Entry{Provider: "openai", Model: "gpt-4o", PromptCostPer1000: 250, OutputCostPer1000: 1000},
		Entry{Provider: "anthropic", Model: "claude-3-5-haiku-latest", PromptCostPer1000: 80, OutputCostPer1000: 400},
		Entry{Provider: "anthropic", Model: "claude-3-5-sonnet-latest", PromptCostPer1000: 300, OutputCostPer1000: 1500},
		Entry{Provider: "google", Model: "gemini-2.0-flash", PromptCostPer1000: 10, OutputCostPer1000: 40},
		Entry{Provider: "google", Model: "gemini-1.5-flash", PromptCostPer1000: 8, OutputCostPer1000: 30},
	)
}

// Cost returns the cost of usage in milli-cents. ok is false when the table
// has no rate for the pair.
func (t *Table) Cost(provider, model string, usage transport.NormalizedUsage) (cost int64, ok bool) {
	t.mu.RLock()
	e, ok := t.entries[key(provider, model)]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return e.Calculate(usage), true
}

// Set adds or replaces an entry.
func (t *Table) Set(e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Key()] = e
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

type file struct {
	Prices []Entry `yaml:"prices"`
}

// LoadFile merges the entries of a YAML pricing file into t. The file has a
// single "prices" list. Nothing is merged if any entry is invalid.
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	for _, e := range f.Prices {
		if err := e.validate(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range f.Prices {
		t.entries[e.Key()] = e
	}
	return nil
}

func key(provider, model string) string {
	return strings.ToLower(provider) + "/" + model
}

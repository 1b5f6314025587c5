// Package flow defines, registers and executes typed prompt flows.
//
// A flow binds an input shape, an output shape and a prompt template to one
// named model operation. The Executor validates input, applies the flow's
// short-circuit guard, renders the prompt, calls the Provider and validates
// what comes back. Callers receive either output that matches the declared
// shape or a typed error; partial results are never returned.
package flow

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-promptflow/internal/prompt"
	"github.com/ahrav/go-promptflow/internal/shape"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Guard inspects validated input and may short-circuit the invocation. When
// it returns true the returned output is validated against the flow's output
// shape and handed back without contacting the provider.
type Guard func(input map[string]any) (map[string]any, bool)

// Config describes a flow to Define. Exactly one of Prompt or Template must
// be set.
type Config struct {
	Name        string `validate:"required"`
	Description string
	Input       shape.Shape
	Output      shape.Shape
	// Prompt is Handlebars-style template source.
	Prompt string
	// Template is a pre-built template, for flows assembled from segments.
	Template *prompt.Template
	// SystemPrompt is sent alongside the rendered prompt when non-empty.
	SystemPrompt string
	Guard        Guard
}

// Definition is an immutable, validated flow. It is safe for concurrent use.
type Definition struct {
	name        string
	description string
	input       shape.Shape
	output      shape.Shape
	tmpl        *prompt.Template
	system      string
	guard       Guard
}

// Define checks cfg and builds a Definition. Shapes are checked and cloned,
// the prompt is parsed once, and every path it references is bound against
// the input shape so template mistakes surface here rather than per call.
func Define(cfg Config) (*Definition, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := cfg.Input.Check(); err != nil {
		return nil, fmt.Errorf("%w: flow %q input: %w", ErrInvalidDefinition, cfg.Name, err)
	}
	if err := cfg.Output.Check(); err != nil {
		return nil, fmt.Errorf("%w: flow %q output: %w", ErrInvalidDefinition, cfg.Name, err)
	}

	tmpl := cfg.Template
	switch {
	case tmpl != nil && cfg.Prompt != "":
		return nil, fmt.Errorf("%w: flow %q sets both Prompt and Template", ErrInvalidDefinition, cfg.Name)
	case tmpl == nil && cfg.Prompt == "":
		return nil, fmt.Errorf("%w: flow %q has no prompt", ErrInvalidDefinition, cfg.Name)
	case tmpl == nil:
		var err error
		if tmpl, err = prompt.Parse(cfg.Prompt); err != nil {
			return nil, fmt.Errorf("%w: flow %q: %w", ErrInvalidDefinition, cfg.Name, err)
		}
	}

	input := cfg.Input.Clone()
	if err := tmpl.Bind(input); err != nil {
		return nil, fmt.Errorf("%w: flow %q: %w", ErrInvalidDefinition, cfg.Name, err)
	}

	return &Definition{
		name:        cfg.Name,
		description: cfg.Description,
		input:       input,
		output:      cfg.Output.Clone(),
		tmpl:        tmpl,
		system:      cfg.SystemPrompt,
		guard:       cfg.Guard,
	}, nil
}

// MustDefine is like Define but panics on error.
func MustDefine(cfg Config) *Definition {
	d, err := Define(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the flow's unique name.
func (d *Definition) Name() string { return d.name }

// Description returns the flow's human-readable description.
func (d *Definition) Description() string { return d.description }

// InputShape returns a copy of the input shape.
func (d *Definition) InputShape() shape.Shape { return d.input.Clone() }

// OutputShape returns a copy of the output shape.
func (d *Definition) OutputShape() shape.Shape { return d.output.Clone() }

// Template returns the parsed prompt.
func (d *Definition) Template() *prompt.Template { return d.tmpl }

// SystemPrompt returns the system prompt, if any.
func (d *Definition) SystemPrompt() string { return d.system }

// HasGuard reports whether the flow can short-circuit.
func (d *Definition) HasGuard() bool { return d.guard != nil }

// EmptyArrayGuard short-circuits with output whenever the array at field is
// empty. Each firing returns a fresh copy of output.
func EmptyArrayGuard(field string, output map[string]any) Guard {
	return func(input map[string]any) (map[string]any, bool) {
		v, ok := input[field]
		if !ok || v == nil {
			return nil, false
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		if rv.Len() != 0 {
			return nil, false
		}
		return cloneValue(output).(map[string]any), true
	}
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, e := range v {
			res[k] = cloneValue(e)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = cloneValue(e)
		}
		return res
	case []string:
		return append([]string{}, v...)
	default:
		return v
	}
}

package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Typed is a caller-facing handle for one flow. It converts Go values to and
// from the map form the executor works with using their JSON encoding, so
// struct field tags must match the flow's shape field names.
type Typed[In, Out any] struct {
	exec *Executor
	def  *Definition
}

// Bind returns a typed handle that runs def on exec.
func Bind[In, Out any](exec *Executor, def *Definition) *Typed[In, Out] {
	return &Typed[In, Out]{exec: exec, def: def}
}

// Definition returns the bound flow.
func (t *Typed[In, Out]) Definition() *Definition { return t.def }

// Call executes the flow with in and decodes its output.
func (t *Typed[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	var out Out

	value, err := toValue(in)
	if err != nil {
		return out, fmt.Errorf("flow %s: encode input: %w", t.def.name, err)
	}

	res, err := t.exec.Execute(ctx, t.def, value)
	if err != nil {
		return out, err
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return out, fmt.Errorf("flow %s: encode output: %w", t.def.name, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("flow %s: decode output: %w", t.def.name, err)
	}
	return out, nil
}

// toValue converts v to a map through its JSON form. Numbers decode as
// json.Number so integers keep their exact text when rendered.
func toValue(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

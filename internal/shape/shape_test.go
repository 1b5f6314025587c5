package shape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cartShape() Shape {
	return New("cart",
		StringArray("cartContents", "An array of product names currently in the shopping cart."),
	)
}

func TestShapeCheck(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		wantErr string
	}{
		{
			name:  "valid_flat_shape",
			shape: New("product", String("productName", ""), String("productDescription", "")),
		},
		{
			name: "valid_nested_shape",
			shape: New("order",
				ArrayOf("lines", "", Object("", "", String("sku", ""), Number("qty", ""))),
				Object("meta", "", Boolean("gift", "")),
			),
		},
		{
			name:    "duplicate_field_names",
			shape:   New("dup", String("a", ""), Number("a", "")),
			wantErr: `duplicate field "a"`,
		},
		{
			name:    "missing_field_name",
			shape:   New("anon", Field{Kind: KindString}),
			wantErr: "Name",
		},
		{
			name:    "unknown_kind",
			shape:   New("bad", Field{Name: "x", Kind: "date"}),
			wantErr: "Kind",
		},
		{
			name:    "array_without_element",
			shape:   New("bad", Field{Name: "xs", Kind: KindArray}),
			wantErr: "has no element",
		},
		{
			name:    "empty_object",
			shape:   New("bad", Object("o", "")),
			wantErr: "has no fields",
		},
		{
			name:    "duplicate_nested_names",
			shape:   New("bad", Object("o", "", String("k", ""), String("k", ""))),
			wantErr: `duplicate field "k" in "o"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.shape.Check()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidShape)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	product := New("product",
		String("productName", ""),
		Number("price", ""),
		Boolean("inStock", ""),
		StringArray("tags", ""),
	)

	tests := []struct {
		name      string
		value     any
		wantField string
		wantKind  Kind
	}{
		{
			name: "valid_value",
			value: map[string]any{
				"productName": "tote", "price": 12.5, "inStock": true, "tags": []any{"bag"},
			},
		},
		{
			name: "extra_fields_ignored",
			value: map[string]any{
				"productName": "tote", "price": 3, "inStock": false, "tags": []string{}, "color": "green",
			},
		},
		{
			name:      "missing_first_declared_field_wins",
			value:     map[string]any{"inStock": "yes"},
			wantField: "productName",
			wantKind:  KindString,
		},
		{
			name: "numeric_string_not_a_number",
			value: map[string]any{
				"productName": "tote", "price": "12.5", "inStock": true, "tags": []any{},
			},
			wantField: "price",
			wantKind:  KindNumber,
		},
		{
			name: "number_not_a_string",
			value: map[string]any{
				"productName": 42, "price": 1, "inStock": true, "tags": []any{},
			},
			wantField: "productName",
			wantKind:  KindString,
		},
		{
			name: "null_counts_as_missing",
			value: map[string]any{
				"productName": "tote", "price": 1, "inStock": nil, "tags": []any{},
			},
			wantField: "inStock",
			wantKind:  KindBoolean,
		},
		{
			name: "non_string_array_element",
			value: map[string]any{
				"productName": "tote", "price": 1, "inStock": true, "tags": []any{"a", 2},
			},
			wantField: "tags[1]",
			wantKind:  KindString,
		},
		{
			name:     "not_an_object",
			value:    []any{"x"},
			wantKind: KindObject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(product, tt.value)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Equal(t, tt.wantKind, verr.Expected)
		})
	}
}

func TestValidateEmptyArray(t *testing.T) {
	assert.NoError(t, Validate(cartShape(), map[string]any{"cartContents": []any{}}))
	assert.NoError(t, Validate(cartShape(), map[string]any{"cartContents": []string{}}))
}

func TestValidateNestedPaths(t *testing.T) {
	s := New("order",
		ArrayOf("lines", "", Object("", "", String("sku", ""), Number("qty", ""))),
	)
	err := Validate(s, map[string]any{
		"lines": []any{
			map[string]any{"sku": "a", "qty": 1},
			map[string]any{"sku": "b", "qty": "2"},
		},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lines[1].qty", verr.Field)
	assert.Equal(t, `lines[1].qty: expected number, got string ("2")`, verr.Error())
}

func TestValidateArrayWithoutElement(t *testing.T) {
	s := New("bad", Field{Name: "xs", Kind: KindArray})

	var verr *ValidationError
	require.NotPanics(t, func() {
		err := Validate(s, map[string]any{"xs": []any{"a"}})
		require.ErrorAs(t, err, &verr)
	})
	assert.Equal(t, "xs", verr.Field)
}

func TestAsMap(t *testing.T) {
	m, ok := AsMap(map[string]string{"name": "tote"})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "tote"}, m)

	_, ok = AsMap([]any{"tote"})
	assert.False(t, ok)
}

func TestValidationErrorMessage(t *testing.T) {
	err := Validate(cartShape(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, "cartContents: required array is missing", err.Error())
}

func TestValidateJSON(t *testing.T) {
	out := New("suggestions", StringArray("suggestions", ""))

	t.Run("valid_object", func(t *testing.T) {
		m, err := ValidateJSON(out, []byte(`{"suggestions":["bamboo cutlery","beeswax wrap"]}`))
		require.NoError(t, err)
		assert.Equal(t, []any{"bamboo cutlery", "beeswax wrap"}, m["suggestions"])
	})

	t.Run("malformed_json", func(t *testing.T) {
		_, err := ValidateJSON(out, []byte(`{"suggestions":`))
		assert.ErrorIs(t, err, ErrInvalidJSON)
	})

	t.Run("array_payload", func(t *testing.T) {
		_, err := ValidateJSON(out, []byte(`["a"]`))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, KindObject, verr.Expected)
	})

	t.Run("missing_field", func(t *testing.T) {
		_, err := ValidateJSON(out, []byte(`{"other":1}`))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "suggestions", verr.Field)
	})
}

func TestIsNumber(t *testing.T) {
	for _, v := range []any{1, int64(2), uint8(3), float32(1.5), 2.25, json.Number("7")} {
		assert.True(t, IsNumber(v), "%T", v)
	}
	for _, v := range []any{"1", true, nil, []int{1}} {
		assert.False(t, IsNumber(v), "%T", v)
	}
}

func TestLookup(t *testing.T) {
	s := New("order",
		Object("customer", "", String("name", ""), Object("address", "", String("city", ""))),
		StringArray("tags", ""),
	)

	f, ok := s.Lookup("customer.address.city")
	require.True(t, ok)
	assert.Equal(t, KindString, f.Kind)

	_, ok = s.Lookup("customer.email")
	assert.False(t, ok)

	_, ok = s.Lookup("tags.length")
	assert.False(t, ok)

	assert.Equal(t, []string{"customer", "tags"}, s.Names())
}

func TestClone(t *testing.T) {
	s := New("order", ArrayOf("lines", "", Object("", "", String("sku", ""))))
	c := s.Clone()
	c.Fields[0].Elem.Fields[0].Name = "changed"
	assert.Equal(t, "sku", s.Fields[0].Elem.Fields[0].Name)
}

func TestJSONSchema(t *testing.T) {
	s := New("insight", String("insight", "A single, concise insight."), StringArray("tags", ""))
	schema := s.JSONSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"insight", "tags"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, map[string]any{
		"type":        "string",
		"description": "A single, concise insight.",
	}, props["insight"])
	assert.Equal(t, map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}, props["tags"])
}

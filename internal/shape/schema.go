package shape

// JSONSchema renders the shape as a JSON Schema object. Every field is
// required and undeclared properties are rejected, which is the form
// structured-output APIs expect.
func (s Shape) JSONSchema() map[string]any {
	return objectSchema(s.Fields, "")
}

func objectSchema(fields []Field, description string) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		required = append(required, f.Name)
	}
	res := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	if description != "" {
		res["description"] = description
	}
	return res
}

func fieldSchema(f Field) map[string]any {
	if f.Kind == KindObject {
		return objectSchema(f.Fields, f.Description)
	}
	res := map[string]any{"type": string(f.Kind)}
	if f.Kind == KindArray && f.Elem != nil {
		res["items"] = fieldSchema(*f.Elem)
	}
	if f.Description != "" {
		res["description"] = f.Description
	}
	return res
}

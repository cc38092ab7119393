package openapi

import "github.com/getkin/kin-openapi/openapi3"

func stringSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
}

// errorSchema mirrors model.ErrorResponse.
func errorSchema() *openapi3.SchemaRef {
	kind := stringSchema("Denial or failure kind.")
	kind.Value.Enum = []any{
		"UNAUTHENTICATED", "FORBIDDEN", "INVALID_ROLE_REFERENCE",
		"BAD_REQUEST", "NOT_FOUND", "CONFLICT", "UNPROCESSABLE", "INTERNAL",
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:     &openapi3.Types{"object"},
						Required: []string{"code", "kind", "message"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"kind":    kind,
							"message": stringSchema(""),
						},
					},
				},
			},
		},
	}
}

// resultSchema is the success envelope; the result shape varies per procedure.
func resultSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"result"},
			Properties: openapi3.Schemas{
				"result": &openapi3.SchemaRef{Value: &openapi3.Schema{}},
			},
		},
	}
}

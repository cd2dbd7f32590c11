package expression_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nine-minds/alga-workflow/expression"
)

func kind(k string) *expression.Type {
	return &expression.Type{Kind: k}
}

func TestCompat(t *testing.T) {
	tests := []struct {
		name   string
		source *expression.Type
		target *expression.Type
		want   expression.Compatibility
	}{
		{
			name:   "same scalar kind",
			source: kind("string"),
			target: kind("string"),
			want:   expression.CompatibilityExact,
		},
		{
			name:   "integer widens to number",
			source: kind("integer"),
			target: kind("number"),
			want:   expression.CompatibilityCoercible,
		},
		{
			name:   "number narrows to integer",
			source: kind("number"),
			target: kind("integer"),
			want:   expression.CompatibilityCoercible,
		},
		{
			name:   "scalar renders as string",
			source: kind("boolean"),
			target: kind("string"),
			want:   expression.CompatibilityCoercible,
		},
		{
			name:   "string parses to number",
			source: kind("string"),
			target: kind("number"),
			want:   expression.CompatibilityCoercible,
		},
		{
			name:   "object cannot become number",
			source: kind("object"),
			target: kind("number"),
			want:   expression.CompatibilityIncompatible,
		},
		{
			name:   "array cannot become string",
			source: kind("array"),
			target: kind("string"),
			want:   expression.CompatibilityIncompatible,
		},
		{
			name:   "nil source",
			source: nil,
			target: kind("string"),
			want:   expression.CompatibilityUnknown,
		},
		{
			name:   "missing kind",
			source: &expression.Type{},
			target: kind("string"),
			want:   expression.CompatibilityUnknown,
		},
		{
			name:   "unresolved ref is opaque",
			source: &expression.Type{Ref: "#/definitions/ticket"},
			target: kind("object"),
			want:   expression.CompatibilityUnknown,
		},
		{
			name:   "array of exact items",
			source: &expression.Type{Kind: "array", Items: kind("string")},
			target: &expression.Type{Kind: "array", Items: kind("string")},
			want:   expression.CompatibilityExact,
		},
		{
			name:   "array of coercible items",
			source: &expression.Type{Kind: "array", Items: kind("integer")},
			target: &expression.Type{Kind: "array", Items: kind("number")},
			want:   expression.CompatibilityCoercible,
		},
		{
			name:   "array without item types",
			source: &expression.Type{Kind: "array"},
			target: &expression.Type{Kind: "array", Items: kind("string")},
			want:   expression.CompatibilityUnknown,
		},
		{
			name: "object with all required present",
			source: &expression.Type{
				Kind: "object",
				Properties: map[string]*expression.Type{
					"id":    kind("string"),
					"extra": kind("boolean"),
				},
			},
			target: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"id": kind("string")},
				Required:   []string{"id"},
			},
			want: expression.CompatibilityExact,
		},
		{
			name: "object with coercible required property",
			source: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"total": kind("integer")},
			},
			target: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"total": kind("number")},
				Required:   []string{"total"},
			},
			want: expression.CompatibilityCoercible,
		},
		{
			name: "object missing required property",
			source: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"other": kind("string")},
			},
			target: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"id": kind("string")},
				Required:   []string{"id"},
			},
			want: expression.CompatibilityIncompatible,
		},
		{
			name:   "object with undescribed source properties",
			source: &expression.Type{Kind: "object"},
			target: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"id": kind("string")},
				Required:   []string{"id"},
			},
			want: expression.CompatibilityUnknown,
		},
		{
			name: "object with incompatible required property",
			source: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"id": kind("object")},
			},
			target: &expression.Type{
				Kind:       "object",
				Properties: map[string]*expression.Type{"id": kind("number")},
				Required:   []string{"id"},
			},
			want: expression.CompatibilityIncompatible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, expression.Compat(tt.source, tt.target))
		})
	}
}

func TestCompatibilityString(t *testing.T) {
	require.Equal(t, "EXACT", expression.CompatibilityExact.String())
	require.Equal(t, "COERCIBLE", expression.CompatibilityCoercible.String())
	require.Equal(t, "INCOMPATIBLE", expression.CompatibilityIncompatible.String())
	require.Equal(t, "UNKNOWN", expression.CompatibilityUnknown.String())
}

func TestTypeFromSchema(t *testing.T) {
	typ := expression.TypeFromSchema(map[string]any{
		"type":     "object",
		"required": []any{"ticket"},
		"properties": map[string]any{
			"ticket": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
			},
			"tags": map[string]any{
				"items": map[string]any{"type": "string"},
			},
		},
	})

	require.Equal(t, "object", typ.Kind)
	require.Equal(t, []string{"ticket"}, typ.Required)
	require.Equal(t, "string", typ.Properties["ticket"].Properties["id"].Kind)

	// items without an explicit type still infers an array.
	require.Equal(t, "array", typ.Properties["tags"].Kind)
	require.Equal(t, "string", typ.Properties["tags"].Items.Kind)

	require.Nil(t, expression.TypeFromSchema(nil))
	require.Equal(t, "#/x", expression.TypeFromSchema(map[string]any{"$ref": "#/x"}).Ref)
}

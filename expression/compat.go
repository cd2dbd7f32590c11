package expression

// Type is a JSON-schema-shaped type descriptor used by the mapping
// type-compatibility analyzer and by the diagnostics property-descent check.
// A Type with an unresolved Ref, or with an empty Kind, cannot be reasoned
// about statically and yields CompatibilityUnknown.
type Type struct {
	// Kind is one of "string", "number", "integer", "boolean", "object",
	// "array", "null". Empty means the type could not be inferred.
	Kind string
	// Ref holds an unresolved $ref, if any. A Type carrying a Ref is opaque.
	Ref string
	// Properties describes object members. May be incomplete.
	Properties map[string]*Type
	// Required lists object members that must be present.
	Required []string
	// Items describes array elements.
	Items *Type
}

type Compatibility int

const (
	// CompatibilityUnknown means one of the two types could not be
	// statically inferred. It must never be conflated with INCOMPATIBLE:
	// unknown drives an informational treatment, incompatible a warning.
	CompatibilityUnknown Compatibility = iota
	CompatibilityExact
	CompatibilityCoercible
	CompatibilityIncompatible
)

func (c Compatibility) String() string {
	switch c {
	case CompatibilityExact:
		return "EXACT"
	case CompatibilityCoercible:
		return "COERCIBLE"
	case CompatibilityIncompatible:
		return "INCOMPATIBLE"
	default:
		return "UNKNOWN"
	}
}

// Compat computes whether a value of the source type can be mapped onto the
// target type. It is a pure function over the two descriptors.
func Compat(source, target *Type) Compatibility {
	if source == nil || target == nil {
		return CompatibilityUnknown
	}
	if source.Ref != "" || target.Ref != "" {
		return CompatibilityUnknown
	}
	if source.Kind == "" || target.Kind == "" {
		return CompatibilityUnknown
	}

	if source.Kind == target.Kind {
		switch source.Kind {
		case "object":
			return objectCompat(source, target)
		case "array":
			return arrayCompat(source, target)
		default:
			return CompatibilityExact
		}
	}

	// integer is a subset of number; widening always succeeds.
	if source.Kind == "integer" && target.Kind == "number" {
		return CompatibilityCoercible
	}

	// Any scalar renders as a string; strings parse to numbers and booleans
	// at runtime, with a runtime failure when the content does not parse.
	if target.Kind == "string" && isScalar(source.Kind) {
		return CompatibilityCoercible
	}
	if source.Kind == "string" && (target.Kind == "number" || target.Kind == "integer" || target.Kind == "boolean") {
		return CompatibilityCoercible
	}
	if source.Kind == "number" && target.Kind == "integer" {
		return CompatibilityCoercible
	}

	return CompatibilityIncompatible
}

func isScalar(kind string) bool {
	switch kind {
	case "string", "number", "integer", "boolean":
		return true
	}
	return false
}

func arrayCompat(source, target *Type) Compatibility {
	if source.Items == nil || target.Items == nil {
		return CompatibilityUnknown
	}
	switch Compat(source.Items, target.Items) {
	case CompatibilityExact:
		return CompatibilityExact
	case CompatibilityCoercible:
		return CompatibilityCoercible
	case CompatibilityUnknown:
		return CompatibilityUnknown
	default:
		return CompatibilityIncompatible
	}
}

// objectCompat checks that every required target property is satisfiable
// from the source. Extra source properties never hurt. Unknown nested
// results degrade the whole object result to unknown rather than allowing a
// false INCOMPATIBLE.
func objectCompat(source, target *Type) Compatibility {
	if len(target.Properties) == 0 {
		return CompatibilityUnknown
	}

	result := CompatibilityExact
	for _, name := range target.Required {
		targetProp, ok := target.Properties[name]
		if !ok {
			continue
		}
		sourceProp, ok := source.Properties[name]
		if !ok {
			if len(source.Properties) == 0 {
				return CompatibilityUnknown
			}
			return CompatibilityIncompatible
		}
		switch Compat(sourceProp, targetProp) {
		case CompatibilityIncompatible:
			return CompatibilityIncompatible
		case CompatibilityUnknown:
			result = CompatibilityUnknown
		case CompatibilityCoercible:
			if result == CompatibilityExact {
				result = CompatibilityCoercible
			}
		}
	}
	return result
}

// TypeFromSchema derives a Type descriptor from a decoded JSON Schema
// document. Unresolvable constructs ($ref, missing type) produce opaque
// types that analyze as unknown.
func TypeFromSchema(schema map[string]any) *Type {
	if schema == nil {
		return nil
	}
	if ref, ok := schema["$ref"].(string); ok {
		return &Type{Ref: ref}
	}

	t := &Type{}
	if kind, ok := schema["type"].(string); ok {
		t.Kind = kind
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		t.Properties = make(map[string]*Type, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				t.Properties[name] = TypeFromSchema(sub)
			}
		}
		if t.Kind == "" {
			t.Kind = "object"
		}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				t.Required = append(t.Required, name)
			}
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		t.Items = TypeFromSchema(items)
		if t.Kind == "" {
			t.Kind = "array"
		}
	}

	return t
}

package stream

import "sort"

// Record is one JSON object, either as extracted from a response body or as
// emitted downstream.
type Record map[string]any

// Property is a JSON Schema property declaration. Every property is
// nullable, matching what downstream loaders expect from a tap.
type Property struct {
	Type                 []string            `json:"type"`
	Format               string              `json:"format,omitempty"`
	Enum                 []string            `json:"enum,omitempty"`
	Properties           map[string]Property `json:"properties,omitempty"`
	Items                *Property           `json:"items,omitempty"`
	AdditionalProperties *bool               `json:"additionalProperties,omitempty"`
}

// Schema is the declared field set of a stream.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
}

// NewSchema builds an object schema from named properties.
func NewSchema(props map[string]Property) Schema {
	return Schema{Type: "object", Properties: props}
}

// StringType declares a nullable string.
func StringType(enum ...string) Property {
	return Property{Type: []string{"string", "null"}, Enum: enum}
}

// IntegerType declares a nullable integer.
func IntegerType() Property {
	return Property{Type: []string{"integer", "null"}}
}

// BooleanType declares a nullable boolean.
func BooleanType() Property {
	return Property{Type: []string{"boolean", "null"}}
}

// DateTimeType declares a nullable RFC 3339 timestamp.
func DateTimeType() Property {
	return Property{Type: []string{"string", "null"}, Format: "date-time"}
}

// ObjectType declares a nullable object that keeps undeclared keys.
func ObjectType(props map[string]Property) Property {
	open := true
	return Property{
		Type:                 []string{"object", "null"},
		Properties:           props,
		AdditionalProperties: &open,
	}
}

// ArrayType declares a nullable array of items.
func ArrayType(items Property) Property {
	return Property{Type: []string{"array", "null"}, Items: &items}
}

// Fields returns the declared top-level property names, sorted.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Project returns a record holding exactly the declared top-level fields.
// Declared fields missing from r are set to nil; undeclared fields are
// dropped. Nested objects are kept as they are.
func (s Schema) Project(r Record) Record {
	out := make(Record, len(s.Properties))
	for name := range s.Properties {
		out[name] = r[name]
	}
	return out
}

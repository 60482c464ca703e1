package skill

import "sort"

// MaxSchemaDepth caps the recursive schema walk. Deeper structure is
// summarized as an opaque node.
const MaxSchemaDepth = 5

// Schema is a recursive snapshot of a JSON value's shape, with
// nullability tracked per node.
type Schema struct {
	Type     string             `json:"type"`
	Nullable bool               `json:"nullable,omitempty"`
	Fields   map[string]*Schema `json:"fields,omitempty"`
	Items    *Schema            `json:"items,omitempty"`
}

// SchemaOf snapshots the shape of a decoded JSON value. Object fields
// come from the first sample; arrays sample their first element; null
// marks nullability.
func SchemaOf(value interface{}) *Schema {
	return schemaOf(value, 0)
}

func schemaOf(value interface{}, depth int) *Schema {
	if depth >= MaxSchemaDepth {
		return &Schema{Type: "opaque"}
	}
	switch v := value.(type) {
	case nil:
		return &Schema{Type: "null", Nullable: true}
	case bool:
		return &Schema{Type: "boolean"}
	case float64, int, int64:
		return &Schema{Type: "number"}
	case string:
		return &Schema{Type: "string"}
	case []interface{}:
		s := &Schema{Type: "array"}
		if len(v) > 0 {
			s.Items = schemaOf(v[0], depth+1)
		}
		return s
	case map[string]interface{}:
		s := &Schema{Type: "object", Fields: make(map[string]*Schema, len(v))}
		for key, val := range v {
			s.Fields[key] = schemaOf(val, depth+1)
		}
		return s
	default:
		return &Schema{Type: "unknown"}
	}
}

// ShapeOf summarizes a decoded JSON value into the compact Shape form.
func ShapeOf(value interface{}) *Shape {
	switch v := value.(type) {
	case nil:
		return &Shape{Type: "null"}
	case bool:
		return &Shape{Type: "boolean"}
	case float64, int, int64:
		return &Shape{Type: "number"}
	case string:
		return &Shape{Type: "string"}
	case []interface{}:
		return &Shape{Type: "array"}
	case map[string]interface{}:
		fields := make([]string, 0, len(v))
		for key := range v {
			fields = append(fields, key)
		}
		sort.Strings(fields)
		return &Shape{Type: "object", Fields: fields}
	default:
		return &Shape{Type: "unknown"}
	}
}

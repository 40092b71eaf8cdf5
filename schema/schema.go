package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Schema is a recursive JSON Schema subset used as a tool's inputSchema.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// Object returns an object schema with the given properties and required keys.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: typeObject, Properties: props, Required: required}
}

// Generate derives a schema from the type of v.
func Generate(v any) (*Schema, error) {
	if v == nil {
		return nil, fmt.Errorf("schema: cannot generate from nil")
	}
	return GenerateFromType(reflect.TypeOf(v))
}

// GenerateFromType derives a schema from t. Struct fields follow their json
// tags; the jsonschema tag accepts required, description=, enum=a|b,
// minimum=, maximum= and default= entries separated by commas.
func GenerateFromType(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return structSchema(t)
	case reflect.String:
		return &Schema{Type: typeString}, nil
	case reflect.Bool:
		return &Schema{Type: typeBoolean}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: typeInteger}, nil
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: typeNumber}, nil
	case reflect.Slice, reflect.Array:
		items, err := GenerateFromType(t.Elem())
		if err != nil {
			return nil, err
		}
		return &Schema{Type: typeArray, Items: items}, nil
	case reflect.Map:
		return &Schema{Type: typeObject}, nil
	case reflect.Interface:
		return &Schema{}, nil
	default:
		return nil, fmt.Errorf("schema: unsupported kind %s", t.Kind())
	}
}

func structSchema(t reflect.Type) (*Schema, error) {
	s := &Schema{Type: typeObject, Properties: make(map[string]*Schema)}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			head, _, _ := strings.Cut(tag, ",")
			if head == "-" {
				continue
			}
			if head != "" {
				name = head
			}
		}

		fs, err := GenerateFromType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if applyTag(field.Tag.Get("jsonschema"), fs) {
			s.Required = append(s.Required, name)
		}
		s.Properties[name] = fs
	}

	return s, nil
}

// applyTag decorates s from a jsonschema tag and reports whether the field is required.
func applyTag(tag string, s *Schema) bool {
	required := false
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		key, val, _ := strings.Cut(part, "=")
		switch key {
		case "required":
			required = true
		case "description":
			s.Description = val
		case "enum":
			for _, e := range strings.Split(val, "|") {
				s.Enum = append(s.Enum, e)
			}
		case "minimum":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				s.Minimum = &f
			}
		case "maximum":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				s.Maximum = &f
			}
		case "default":
			s.Default = parseDefault(s.Type, val)
		}
	}
	return required
}

func parseDefault(typ, val string) any {
	switch typ {
	case typeInteger:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	case typeNumber:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case typeBoolean:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return val
}

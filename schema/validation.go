package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	typeObject  = "object"
	typeArray   = "array"
	typeString  = "string"
	typeInteger = "integer"
	typeNumber  = "number"
	typeBoolean = "boolean"
)

// ValidationError is a single violation at a dotted path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every violation found in one document.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks raw JSON arguments. An empty document is treated as an
// empty object.
func (s *Schema) Validate(data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationError{Message: "invalid JSON: " + err.Error()}
	}
	return s.ValidateValue(value)
}

// ValidateValue checks an already decoded value.
func (s *Schema) ValidateValue(value any) error {
	var errs ValidationErrors
	s.check("", value, &errs)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *Schema) check(path string, value any, errs *ValidationErrors) {
	if value == nil {
		return
	}
	fail := func(format string, args ...any) {
		*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch s.Type {
	case typeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			fail("expected object, got %s", kindOf(value))
			return
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				*errs = append(*errs, &ValidationError{Path: join(path, name), Message: "required field is missing"})
			}
		}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if v, ok := obj[name]; ok {
				s.Properties[name].check(join(path, name), v, errs)
			}
		}
	case typeArray:
		arr, ok := value.([]any)
		if !ok {
			fail("expected array, got %s", kindOf(value))
			return
		}
		if s.Items != nil {
			for i, v := range arr {
				s.Items.check(fmt.Sprintf("%s[%d]", path, i), v, errs)
			}
		}
	case typeString:
		str, ok := value.(string)
		if !ok {
			fail("expected string, got %s", kindOf(value))
			return
		}
		if len(s.Enum) > 0 && !inEnum(s.Enum, str) {
			fail("value must be one of %v", s.Enum)
		}
	case typeInteger, typeNumber:
		num, ok := value.(float64)
		if !ok {
			fail("expected %s, got %s", s.Type, kindOf(value))
			return
		}
		if s.Type == typeInteger && num != math.Trunc(num) {
			fail("expected integer, got %v", num)
			return
		}
		if s.Minimum != nil && num < *s.Minimum {
			fail("value %v is less than minimum %v", num, *s.Minimum)
		}
		if s.Maximum != nil && num > *s.Maximum {
			fail("value %v is greater than maximum %v", num, *s.Maximum)
		}
	case typeBoolean:
		if _, ok := value.(bool); !ok {
			fail("expected boolean, got %s", kindOf(value))
		}
	}
}

func inEnum(enum []any, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return typeObject
	case []any:
		return typeArray
	case string:
		return typeString
	case float64:
		return typeNumber
	case bool:
		return typeBoolean
	default:
		return fmt.Sprintf("%T", v)
	}
}

func join(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

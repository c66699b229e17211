package modelapi

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
)

type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeInteger PropertyType = "integer"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeObject  PropertyType = "object"
	PropertyTypeArray   PropertyType = "array"
)

// Schema is a provider neutral description of the JSON a structured
// completion must produce. Providers translate it to their own dialect.
type Schema struct {
	Type        PropertyType
	Description string
	Enum        []string
	Pattern     string
	Nullable    bool
	Items       *Schema
	Properties  map[string]*Schema
	Required    []string
}

// PropertyNames returns the object's property names in a stable order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONSchema renders the schema as a standard JSON Schema document.
// Nullable properties become a ["type", "null"] union.
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{}
	if s.Nullable {
		out["type"] = []string{string(s.Type), "null"}
	} else {
		out["type"] = string(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		enum := make([]any, 0, len(s.Enum)+1)
		for _, v := range s.Enum {
			enum = append(enum, v)
		}
		if s.Nullable {
			enum = append(enum, nil)
		}
		out["enum"] = enum
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if s.Type == PropertyTypeObject {
		props := map[string]any{}
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			out["required"] = s.Required
		}
	}
	return out
}

// Check validates a decoded JSON value (as produced by encoding/json into an
// any) against the schema. A missing nullable property counts as null.
func (s *Schema) Check(value any) error {
	return s.check("$", value)
}

func (s *Schema) check(path string, value any) error {
	if value == nil {
		if s.Nullable {
			return nil
		}
		return fmt.Errorf("%s: null is not allowed", path)
	}

	switch s.Type {
	case PropertyTypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		for _, name := range s.Required {
			if prop, ok := s.Properties[name]; ok && prop.Nullable {
				continue
			}
			if _, ok := obj[name]; !ok {
				return fmt.Errorf("%s: missing required property %q", path, name)
			}
		}
		for _, name := range s.PropertyNames() {
			v, ok := obj[name]
			if !ok {
				continue
			}
			if err := s.Properties[name].check(path+"."+name, v); err != nil {
				return err
			}
		}
	case PropertyTypeArray:
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if s.Items == nil {
			return nil
		}
		for i, item := range arr {
			if err := s.Items.check(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case PropertyTypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
		if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
			return fmt.Errorf("%s: %q is not one of %v", path, str, s.Enum)
		}
		if s.Pattern != "" {
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return fmt.Errorf("%s: invalid pattern %q: %w", path, s.Pattern, err)
			}
			if !re.MatchString(str) {
				return fmt.Errorf("%s: %q does not match %s", path, str, s.Pattern)
			}
		}
	case PropertyTypeNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case PropertyTypeInteger:
		n, ok := value.(float64)
		if !ok || n != math.Trunc(n) {
			return fmt.Errorf("%s: expected integer, got %v", path, value)
		}
	case PropertyTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	}
	return nil
}

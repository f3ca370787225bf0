// Package tool holds the tool schemas, validation and the per-agent registry.
package tool

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// ParamType is the closed set of parameter kinds a tool may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Type        ParamType   `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Schema is the static description of a tool.
type Schema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Parameters  []Parameter `json:"parameters"`
	Returns     string      `json:"returns"`
}

// Handler runs a tool with validated input.
type Handler func(ctx context.Context, input map[string]interface{}) (interface{}, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Schema  Schema
	Handler Handler
}

// Annotated lets a handler attach metadata to its result.
type Annotated struct {
	Data     interface{}
	Metadata map[string]interface{}
}

// Result is the outcome of one tool execution. Data is set only on success,
// Error only on failure.
type Result struct {
	Success         bool                   `json:"success"`
	Data            interface{}            `json:"data,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Validation is the outcome of ValidateInput.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks input against the schema. Errors follow parameter
// declaration order, so the result does not depend on map iteration.
func (s Schema) Validate(input map[string]interface{}) Validation {
	var errs []string
	for _, p := range s.Parameters {
		v, ok := input[p.Name]
		if !ok || v == nil {
			if p.Required {
				errs = append(errs, "Missing required parameter: "+p.Name)
			}
			continue
		}
		if !matchesType(p.Type, v) {
			errs = append(errs, fmt.Sprintf("Invalid type for parameter %s: expected %s, got %s",
				p.Name, p.Type, describe(v)))
			continue
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, v) {
			errs = append(errs, fmt.Sprintf("Invalid value for parameter %s: must be one of [%s]",
				p.Name, strings.Join(p.Enum, ", ")))
		}
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// withDefaults returns a copy of input with declared defaults filled in.
func (s Schema) withDefaults(input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input)+len(s.Parameters))
	for k, v := range input {
		out[k] = v
	}
	for _, p := range s.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// FunctionParameters renders the schema's parameters as a JSON-schema object.
func (s Schema) FunctionParameters() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Parameters))
	required := make([]string, 0)
	for _, p := range s.Parameters {
		prop := map[string]interface{}{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func matchesType(t ParamType, v interface{}) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case TypeArray:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		return reflect.ValueOf(v).Kind() == reflect.Map
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func inEnum(enum []string, v interface{}) bool {
	s := fmt.Sprint(v)
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// IntArg reads an integer argument, returning def when absent.
func IntArg(input map[string]interface{}, name string, def int) int {
	if f, ok := toFloat(input[name]); ok {
		return int(f)
	}
	return def
}

// StringArg reads a string argument, returning def when absent or blank.
func StringArg(input map[string]interface{}, name, def string) string {
	if s, ok := input[name].(string); ok && s != "" {
		return s
	}
	return def
}

// BoolArg reads a boolean argument.
func BoolArg(input map[string]interface{}, name string, def bool) bool {
	if b, ok := input[name].(bool); ok {
		return b
	}
	return def
}

package contract

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

// maxExactInteger is the largest magnitude a float64 holds without losing
// integer precision.
const maxExactInteger = 1 << 53

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Violations []domain.FieldViolation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	v := e.Violations[0]
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%s: %s", v.Path, v.Reason)
	}
	return fmt.Sprintf("%s: %s (and %d more)", v.Path, v.Reason, len(e.Violations)-1)
}

// Validate checks value against shape and returns a copy holding only the
// declared fields. Validation fails closed: any missing required field,
// wrong type or out-of-set enum value produces a *ValidationError and no
// partial result.
func Validate(value map[string]any, shape Shape) (map[string]any, error) {
	var violations []domain.FieldViolation
	out := validateObject("", value, shape.Fields, &violations)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func validateObject(prefix string, value map[string]any, fields []Field, vs *[]domain.FieldViolation) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := join(prefix, f.Name)
		raw, present := value[f.Name]
		if !present || raw == nil {
			if f.Required {
				reason := "required field missing"
				if present {
					reason = "required field is null"
				}
				*vs = append(*vs, domain.FieldViolation{Path: path, Reason: reason})
			}
			continue
		}
		if v, ok := validateValue(path, raw, f, vs); ok {
			out[f.Name] = v
		}
	}
	return out
}

func validateValue(path string, raw any, f Field, vs *[]domain.FieldViolation) (any, bool) {
	fail := func(reason string) (any, bool) {
		*vs = append(*vs, domain.FieldViolation{Path: path, Reason: reason})
		return nil, false
	}

	switch f.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return fail(fmt.Sprintf("expected string, got %s", typeName(raw)))
		}
		if f.MinLength > 0 && utf8.RuneCountInString(s) < f.MinLength {
			return fail(fmt.Sprintf("must be at least %d characters", f.MinLength))
		}
		return s, true

	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return fail(fmt.Sprintf("expected boolean, got %s", typeName(raw)))
		}
		return b, true

	case TypeNumber:
		n, ok := toFloat(raw)
		if !ok {
			return fail(fmt.Sprintf("expected number, got %s", typeName(raw)))
		}
		return n, true

	case TypeInteger:
		n, ok := toFloat(raw)
		if !ok || n != math.Trunc(n) {
			return fail(fmt.Sprintf("expected integer, got %s", typeName(raw)))
		}
		if math.Abs(n) > maxExactInteger {
			return fail(fmt.Sprintf("integer %v out of range", raw))
		}
		return int64(n), true

	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return fail(fmt.Sprintf("expected string, got %s", typeName(raw)))
		}
		if !slices.Contains(f.Enum, s) {
			return fail(fmt.Sprintf("value %q not in %v", s, f.Enum))
		}
		return s, true

	case TypeArray:
		items, ok := raw.([]any)
		if !ok {
			return fail(fmt.Sprintf("expected array, got %s", typeName(raw)))
		}
		if f.Items == nil {
			return items, true
		}
		out := make([]any, 0, len(items))
		before := len(*vs)
		for i, item := range items {
			itemPath := path + "[" + strconv.Itoa(i) + "]"
			if item == nil {
				*vs = append(*vs, domain.FieldViolation{Path: itemPath, Reason: "null element"})
				continue
			}
			if v, ok := validateValue(itemPath, item, *f.Items, vs); ok {
				out = append(out, v)
			}
		}
		return out, len(*vs) == before

	case TypeObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return fail(fmt.Sprintf("expected object, got %s", typeName(raw)))
		}
		if len(f.Fields) == 0 {
			return m, true
		}
		before := len(*vs)
		out := validateObject(path, m, f.Fields, vs)
		return out, len(*vs) == before
	}

	return fail(fmt.Sprintf("unsupported field type %q", f.Type))
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(raw any) string {
	switch raw.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", raw)
}

package engine

import (
	"fmt"
	"reflect"
)

// isNumericKind reports whether v is any Go numeric type. encoding/json
// always decodes numbers into interface{} as float64, while a field
// resolved off a typed struct (Author.Level int, etc.) keeps its native
// int/int64 kind. Treating "type mismatch" at the Go-type level would make
// eq/gt/lt spuriously fail any time a struct-native int crosses paths with
// a JSON-sourced float64 rule value for the same logical number — so
// numeric kind, not exact Go type, is what "matching type" means here.
func isNumericKind(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// valuesEqual implements "eq" / "neq": numeric kinds compare by numeric
// value regardless of exact Go type, everything else compares by
// reflect.DeepEqual. Mismatched non-numeric types are never equal.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumericKind(a) && isNumericKind(b) {
		af, _ := asFloat64(a)
		bf, _ := asFloat64(b)
		return af == bf
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered implements gt/lt/gte/lte. Returns (cmp, ok) where cmp is
// negative/zero/positive like the field compared to value, and ok is false
// on a type mismatch (per spec: an ordered comparison across mismatched
// types is never true).
func compareOrdered(field, value any) (int, bool) {
	if isNumericKind(field) && isNumericKind(value) {
		ff, _ := asFloat64(field)
		vf, _ := asFloat64(value)
		switch {
		case ff < vf:
			return -1, true
		case ff > vf:
			return 1, true
		default:
			return 0, true
		}
	}
	fs, fok := field.(string)
	vs, vok := value.(string)
	if fok && vok {
		switch {
		case fs < vs:
			return -1, true
		case fs > vs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

// stringify renders v for the "contains"/"not_contains" substring test,
// matching the original implementation's implicit str() coercion.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// membership implements in/not_in: value must be a slice (decoded from a
// JSON array as []any). A non-slice value is a type mismatch, not a match.
func membership(field, value any) (bool, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return false, false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(field, rv.Index(i).Interface()) {
			return true, true
		}
	}
	return false, true
}

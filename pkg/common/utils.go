package common

import (
	"maps"
	"reflect"
	"slices"
)

// InterfaceToSlice converts a value to a fresh []interface{} when it is a
// slice of any element type. The second return is false for nil and
// non-slices.
func InterfaceToSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []interface{}:
		return append([]interface{}(nil), v...), true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// CopyMap shallow-copies a string-keyed map. Nil stays nil.
func CopyMap(original map[string]interface{}) map[string]interface{} {
	return maps.Clone(original)
}

// MergeMaps merges maps left to right into a fresh map, later maps winning
// on key conflicts. Nil inputs are skipped.
func MergeMaps(sources ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, source := range sources {
		maps.Copy(merged, source)
	}
	return merged
}

// DeepCopyValue recursively copies maps and slices so the result shares no
// mutable structure with the input. Scalars pass through.
func DeepCopyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = DeepCopyValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = DeepCopyValue(item)
		}
		return out
	default:
		return value
	}
}

// StringSliceContains reports whether s is present in list.
func StringSliceContains(list []string, s string) bool {
	return slices.Contains(list, s)
}

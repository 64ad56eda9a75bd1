package state

import "reflect"

// defaultEquals provides type-appropriate structural equality.
// Uses == for the common comparable kinds and reflect.DeepEqual for others.
// When T is an interface type the two dynamic types may differ, so every
// assertion on b is comma-ok; a kind mismatch falls through to DeepEqual
// rather than panicking.
func defaultEquals[T any](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		if bv, ok := any(b).(int); ok {
			return av == bv
		}
	case int8:
		if bv, ok := any(b).(int8); ok {
			return av == bv
		}
	case int16:
		if bv, ok := any(b).(int16); ok {
			return av == bv
		}
	case int32:
		if bv, ok := any(b).(int32); ok {
			return av == bv
		}
	case int64:
		if bv, ok := any(b).(int64); ok {
			return av == bv
		}
	case uint:
		if bv, ok := any(b).(uint); ok {
			return av == bv
		}
	case uint8:
		if bv, ok := any(b).(uint8); ok {
			return av == bv
		}
	case uint16:
		if bv, ok := any(b).(uint16); ok {
			return av == bv
		}
	case uint32:
		if bv, ok := any(b).(uint32); ok {
			return av == bv
		}
	case uint64:
		if bv, ok := any(b).(uint64); ok {
			return av == bv
		}
	case float32:
		if bv, ok := any(b).(float32); ok {
			return av == bv
		}
	case float64:
		if bv, ok := any(b).(float64); ok {
			return av == bv
		}
	case string:
		if bv, ok := any(b).(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := any(b).(bool); ok {
			return av == bv
		}
	default:
		// Slices, maps, structs and dynamic values.
		return reflect.DeepEqual(a, b)
	}
	// Mismatched dynamic types behind an interface.
	return reflect.DeepEqual(a, b)
}

// Equal reports whether two dynamically typed values are structurally equal.
// This is the equality used for type-erased cell values (bindings, restores,
// Watch previous-value comparison).
func Equal(a, b any) bool {
	return defaultEquals(a, b)
}

// Package mapsafe reads typed values out of loosely typed request payloads.
package mapsafe

// Get retrieves a typed value from a map[string]any.
// If the key is missing or the type cannot be converted, it returns the default value.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	if v, ok := Lookup[T](m, key); ok {
		return v
	}
	return defaultValue
}

// Lookup retrieves a typed value and reports whether the key was present
// and convertible.
func Lookup[T any](m map[string]any, key string) (T, bool) {
	var zero T

	val, ok := m[key]
	if !ok {
		return zero, false
	}

	switch any(zero).(type) {
	case int:
		switch x := val.(type) {
		case int:
			return any(x).(T), true
		case int64:
			return any(int(x)).(T), true
		case float64:
			return any(int(x)).(T), true
		}
	case float64:
		switch x := val.(type) {
		case float64:
			return any(x).(T), true
		case float32:
			return any(float64(x)).(T), true
		case int:
			return any(float64(x)).(T), true
		}
	case float32:
		switch x := val.(type) {
		case float32:
			return any(x).(T), true
		case float64:
			return any(float32(x)).(T), true
		case int:
			return any(float32(x)).(T), true
		}
	default:
		// fallback: if type matches exactly
		if v, ok := val.(T); ok {
			return v, true
		}
	}

	return zero, false
}

// Ptr is Lookup returning nil for a missing or unconvertible value.
func Ptr[T any](m map[string]any, key string) *T {
	if v, ok := Lookup[T](m, key); ok {
		return &v
	}
	return nil
}

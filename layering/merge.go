// Package layering deep-copies and merges plain data trees built from
// map[string]any and []any values.
package layering

// MergeLayers composes data layers ordered from strongest to weakest,
// returning a new tree that keeps explicit fields from stronger layers while
// filling any missing fields from weaker ones. Mappings merge field by field;
// sequences and primitives from the strongest layer that sets them win whole.
func MergeLayers(layers ...map[string]any) map[string]any {
	if len(layers) == 0 {
		return nil
	}

	merged := CloneMap(layers[len(layers)-1])
	for i := len(layers) - 2; i >= 0; i-- {
		merged = mergeMap(layers[i], merged)
	}
	return merged
}

func mergeMap(strong, weak map[string]any) map[string]any {
	if strong == nil {
		return weak
	}
	result := make(map[string]any, len(strong)+len(weak))
	for key, value := range weak {
		result[key] = value
	}
	for key, value := range strong {
		existing, ok := result[key]
		if !ok {
			result[key] = Clone(value)
			continue
		}
		result[key] = mergeValue(value, existing)
	}
	return result
}

func mergeValue(strong, weak any) any {
	strongMap, ok := strong.(map[string]any)
	if !ok {
		return Clone(strong)
	}
	weakMap, ok := weak.(map[string]any)
	if !ok {
		return CloneMap(strongMap)
	}
	return mergeMap(strongMap, weakMap)
}

// Clone returns a deep copy of v when it is a mapping or sequence. Any other
// value, including pointers and opaque handles, is returned as is.
func Clone(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		return CloneSlice(typed)
	default:
		return v
	}
}

// CloneMap deep copies m. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = Clone(value)
	}
	return out
}

// CloneSlice deep copies s. A nil slice stays nil, an empty slice stays empty.
func CloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, value := range s {
		out[i] = Clone(value)
	}
	return out
}

package actions

// Argument coercion helpers. Reasoning services deliver JSON, so
// numbers arrive as float64 and everything else needs a type check.

// StringArg returns args[key] as a string, or def when absent or not a
// string.
func StringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// FloatArg returns args[key] as a float64, accepting any JSON number
// representation.
func FloatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// StringsArg returns args[key] as a string slice; JSON arrays arrive as
// []any.
func StringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package utils

import "strconv"

// ToStringSlice keeps the string elements of an untyped slice. Bridge payloads
// decode arrays as []any.
func ToStringSlice(value any) []string {
	stringSlice := make([]string, 0)
	switch v := value.(type) {
	case []string:
		return append(stringSlice, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				stringSlice = append(stringSlice, s)
			}
		}
	}
	return stringSlice
}

// String reads a string field from an untyped payload.
func String(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Float reads a numeric field from an untyped payload; numeric strings are accepted.
func Float(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

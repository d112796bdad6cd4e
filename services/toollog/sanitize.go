package toollog

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxStringLen  = 500
	maxArrayItems = 10

	redactedMarker  = "[REDACTED]"
	truncatedMarker = "...[truncated]"
)

// sensitiveKeys is matched case-insensitively as substrings of map keys
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SanitizeArgs produces a storage-safe snapshot of tool arguments: sensitive
// keys are redacted, long strings truncated, long arrays cut with an
// omission marker, nested maps sanitized recursively.
func SanitizeArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}

	out := make(map[string]interface{}, len(args))
	for key, value := range args {
		if isSensitiveKey(key) {
			out[key] = redactedMarker
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return truncateString(v)
	case []interface{}:
		if len(v) <= maxArrayItems {
			items := make([]interface{}, len(v))
			for i, item := range v {
				items[i] = sanitizeValue(item)
			}
			return items
		}
		items := make([]interface{}, 0, maxArrayItems+1)
		for _, item := range v[:maxArrayItems] {
			items = append(items, sanitizeValue(item))
		}
		items = append(items, fmt.Sprintf("...[%d more items omitted]", len(v)-maxArrayItems))
		return items
	case map[string]interface{}:
		return SanitizeArgs(v)
	default:
		return v
	}
}

// SanitizeResult produces a storage-safe snapshot of a tool result. More
// aggressive than SanitizeArgs to bound storage growth: scalars are kept
// (strings truncated), arrays and objects are replaced by their sizes.
func SanitizeResult(result map[string]interface{}) map[string]interface{} {
	if result == nil {
		return nil
	}

	out := make(map[string]interface{}, len(result))
	for key, value := range result {
		if isSensitiveKey(key) {
			out[key] = redactedMarker
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = truncateString(v)
		case []interface{}:
			out[key] = map[string]interface{}{"_array_count": len(v)}
		case map[string]interface{}:
			out[key] = map[string]interface{}{"_object_keys": len(v)}
		default:
			out[key] = v
		}
	}
	return out
}

func truncateString(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	// Cut on a rune boundary so the snapshot stays valid UTF-8
	cut := maxStringLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}

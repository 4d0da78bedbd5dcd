package toolregistry

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const redactedValue = "[REDACTED]"

var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "credential", "private_key", "cookie", "session",
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// MaskCallerID keeps the first and last two characters of a caller id.
func MaskCallerID(id string) string {
	runes := []rune(id)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + "****" + string(runes[len(runes)-2:])
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = redactValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// summarizeArgs renders params as compact JSON with sensitive keys masked,
// passes it through the configured Redactor and truncates it.
func (r *Registry) summarizeArgs(params map[string]interface{}) string {
	if len(params) == 0 {
		return "{}"
	}

	data, err := json.Marshal(redactValue(params))
	if err != nil {
		return "<unserializable>"
	}
	s := string(data)
	if r.redactor != nil {
		s = r.redactor.Redact(s)
	}
	return truncate(s, r.argsSummaryMax)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	const ellipsis = "..."
	runes := []rune(s)
	if limit <= len(ellipsis) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

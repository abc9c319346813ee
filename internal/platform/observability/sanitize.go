package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString drops control characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeIdentifier cleans document and container identifiers read from configuration.
func SanitizeIdentifier(id string) string {
	return sanitizeString(id, 128)
}

// MaskDNI keeps the last three characters of a national id so logs stay correlatable without
// exposing the full value.
func MaskDNI(dni string) string {
	runes := []rune(sanitizeString(dni, 32))
	if len(runes) <= 3 {
		return "***"
	}
	masked := make([]rune, len(runes))
	for i := range runes {
		if i < len(runes)-3 {
			masked[i] = '*'
			continue
		}
		masked[i] = runes[i]
	}
	return string(masked)
}

package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr whose value is redacted when non-empty.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// BearerSubject trims an Authorization header down to something loggable.
func BearerSubject(header string) string {
	if header == "" {
		return ""
	}
	scheme, _, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return RedactedValue
	}
	return scheme + " " + RedactedValue
}

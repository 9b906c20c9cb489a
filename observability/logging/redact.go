package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// secretKeys are always replaced with RedactedValue.
var secretKeys = map[string]struct{}{
	"proof":         {},
	"passphrase":    {},
	"hmac_secret":   {},
	"authorization": {},
	"token":         {},
}

// identifierKeys identify a pharmacy or prescriber. Only the last four
// characters survive so support can still correlate lines.
var identifierKeys = map[string]struct{}{
	"npi": {},
}

const visibleTail = 4

// MaskValue returns the redacted placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskIdentifier keeps the last four characters of value.
func MaskIdentifier(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= visibleTail {
		return MaskValue(value)
	}
	return strings.Repeat("*", len(value)-visibleTail) + value[len(value)-visibleTail:]
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	key := strings.ToLower(strings.TrimSpace(attr.Key))
	if _, ok := secretKeys[key]; ok {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	if _, ok := identifierKeys[key]; ok {
		return slog.String(attr.Key, MaskIdentifier(attr.Value.String()))
	}
	return attr
}

package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of sensitive attributes.
const RedactedValue = "[REDACTED]"

// Credentials and connection strings that must never reach a log sink. Keys
// are matched case-insensitively, with dashes treated as underscores.
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"token":          {},
	"bearer":         {},
	"secret":         {},
	"jwt_secret":     {},
	"passphrase":     {},
	"password":       {},
	"dsn":            {},
	"settlement_dsn": {},
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// Sensitive reports whether values logged under key are redacted.
func Sensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// MaskField builds a string attribute, redacting non-empty sensitive values.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) != "" && Sensitive(key) {
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, value)
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !Sensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}

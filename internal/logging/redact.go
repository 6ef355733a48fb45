// Package logging provides redaction helpers for filewarden's
// structured logs.
package logging

import (
	"log/slog"
	"strings"
)

// Masked replaces sensitive values in log output.
const Masked = "[REDACTED]"

// sensitiveKeys are attribute names whose values never reach the log.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"authorization": true,
	"bearer":        true,
	"cookie":        true,
	"session_id":    true,
	"smtp_password": true,
	"webhook_url":   true,
	"credentials":   true,
}

// IsSensitiveKey reports whether a log attribute key must be masked.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if sensitiveKeys[lower] {
		return true
	}
	for k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// MaskValue masks value when key is sensitive.
func MaskValue(key, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(key) {
		return Masked
	}
	return value
}

// MaskString keeps the first and last few characters of a secret for
// debugging and masks the middle. Short strings mask completely.
func MaskString(s string, showFirst, showLast int) string {
	if s == "" {
		return s
	}
	if len(s) <= showFirst+showLast+3 {
		return Masked
	}
	return s[:showFirst] + "***" + s[len(s)-showLast:]
}

// MaskEmail partially masks an email address local part.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return Masked
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return Masked + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

// RedactAttr is a slog ReplaceAttr hook that masks sensitive attributes.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Masked)
	}
	return a
}

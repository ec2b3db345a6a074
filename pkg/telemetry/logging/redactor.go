package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks credentials in log attributes. Values under sensitive keys
// are truncated to a short prefix; other string values are scanned for
// embedded bearer tokens and API keys.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// sensitiveKeys are matched as substrings of lower-cased attribute keys.
var sensitiveKeys = []string{
	"token", "authorization", "secret", "password", "api_key", "apikey", "credential",
}

// NewRedactor creates a Redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer ***"},
			{regexp.MustCompile(`\b(pat|sat|sk)_[A-Za-z0-9]{8,}`), "${1}_***"},
			{regexp.MustCompile(`\bsk-[A-Za-z0-9]{8,}`), "sk-***"},
		},
	}
}

// RedactAttr returns attr with credential material masked. Groups are
// processed recursively.
func (r *Redactor) RedactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()

	if value.Kind() == slog.KindGroup {
		group := value.Group()
		redacted := make([]any, len(group))
		for i, a := range group {
			redacted[i] = r.RedactAttr(a)
		}
		return slog.Group(attr.Key, redacted...)
	}

	if IsSensitiveKey(attr.Key) {
		if value.Kind() == slog.KindString {
			return slog.String(attr.Key, MaskSecret(value.String()))
		}
		return slog.String(attr.Key, "***")
	}

	if value.Kind() == slog.KindString {
		return slog.String(attr.Key, r.RedactString(value.String()))
	}

	return attr
}

// RedactString masks credentials embedded in free text.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// IsSensitiveKey reports whether an attribute key names credential material.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSecret keeps the first four characters of a secret for correlation.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***"
	}
	return secret[:4] + "***"
}

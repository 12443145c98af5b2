package core

import (
	"regexp"
	"strings"
)

var (
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	kvSecretRe    = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|password|authorization)\s*[:=]\s*["']?[^"'\s]+["']?`,
	)
	providerKeyRe = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{16,}|gsk_[A-Za-z0-9]{16,}|ms-[A-Za-z0-9\-]{16,})\b`)
	credURLRe     = regexp.MustCompile(`(?i)(https?://)[^@\s/]+@`)
)

// RedactString trims, truncates, and scrubs credentials from free-form text
// such as provider error messages before they reach logs.
func RedactString(s string) string {
	const maxLen = 512
	s = strings.TrimSpace(s)
	s = credURLRe.ReplaceAllString(s, "$1[REDACTED]@")
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	s = providerKeyRe.ReplaceAllString(s, "[REDACTED]")
	if len(s) > maxLen {
		s = s[:maxLen] + "…"
	}
	return s
}

// RedactError applies RedactString to an error, returning an empty string when nil.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}

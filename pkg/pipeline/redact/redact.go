// Package redact strips credentials from messages before they reach logs or
// the terminal.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|access[_-]?key(?:[_-]?id)?|secret[_-]?(?:access[_-]?)?key|object[_-]?store[_-]?(?:access|secret)[_-]?key)\b\s*[:=]\s*[^\s"'&,]+`)

	// S3 presigned and SigV4 query parameters.
	sigV4Re = regexp.MustCompile(`(?i)\b(X-Amz-Credential|X-Amz-Signature|X-Amz-Security-Token)=[^\s"'&]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = sigV4Re.ReplaceAllString(out, "$1=<redacted>")
	return strings.TrimSpace(out)
}

package logging

import (
	"regexp"
)

const (
	// MaxErrorLogLength is the maximum length of an upstream error to log
	MaxErrorLogLength = 500
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match access tokens in feed URLs (e.g. ?access_token=xxx)
	tokenPattern = regexp.MustCompile(`(?i)(access_token|token|key)=[A-Za-z0-9-_]+`)

	// Pattern to match URL credentials (user:pass@host format)
	credsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeURL removes credentials and tokens from a URL before logging.
func SanitizeURL(u string) string {
	if u == "" {
		return ""
	}

	sanitized := tokenPattern.ReplaceAllString(u, "${1}="+RedactedText)
	sanitized = credsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError sanitizes and truncates an error message for logging.
// Upstream feeds echo request URLs back in error bodies, so the same
// redaction rules apply.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return TruncateString(SanitizeURL(err.Error()), MaxErrorLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

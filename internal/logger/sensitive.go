package logger

import (
	"regexp"
	"strings"
)

// SensitiveDataPatterns match values that must never reach a log or a printed config
var SensitiveDataPatterns = []*regexp.Regexp{
	// passwords, secrets and keys in key=value or key: value form
	regexp.MustCompile(`(?i)((passw(or)?d|secret|api[_-]?key|token)[0-9a-z\-_\.]*["']?\s*[:=]\s*["']?)([^;,\s"']{3,})`),

	// credentials embedded in URLs (mqtt brokers, sentry DSNs)
	regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@\s]+)(@)`),
}

// RedactSensitiveData replaces sensitive values with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	input = SensitiveDataPatterns[0].ReplaceAllString(input, "$1[REDACTED]")
	input = SensitiveDataPatterns[1].ReplaceAllString(input, "$1[REDACTED]$3")
	return input
}

// MaskToken shortens a device token to its first and last four characters.
func MaskToken(token string) string {
	const keep = 4
	if len(token) <= 2*keep {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "..." + token[len(token)-keep:]
}

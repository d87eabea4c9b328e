//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MaskedTokens detects device tokens logged in full.
//
// Device tokens identify a user's device and must only reach the logs in
// masked form:
//
//	log.Warn("illegal token skipped", logger.String("token", logger.MaskToken(raw)))
//
// The run log files (invalidToken.txt, unsent_token.txt, feedback files) are
// the only place full tokens are written.
func MaskedTokens(m dsl.Matcher) {
	m.Match(
		`logger.String("token", $x)`,
	).
		Where(!m["x"].Text.Matches(`MaskToken\(`)).
		Report("device tokens must be logged through logger.MaskToken")

	m.Match(
		`logger.Any("token", $x)`,
	).
		Report("device tokens must be logged as a masked string, use logger.String with logger.MaskToken")
}

// RedactedURLs detects broker and notification URLs logged without
// redaction. These URLs carry credentials.
func RedactedURLs(m dsl.Matcher) {
	m.Match(
		`logger.String("broker", $x)`,
		`logger.String("url", $x)`,
		`logger.String("dsn", $x)`,
	).
		Where(!m["x"].Text.Matches(`RedactSensitiveData\(`)).
		Report("URLs may contain credentials, wrap them with logger.RedactSensitiveData")
}

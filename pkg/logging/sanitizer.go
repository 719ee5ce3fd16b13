// Package logging scrubs secrets and bounds content values before they reach logs.
package logging

import (
	"net/url"
	"regexp"
	"unicode/utf8"
)

const (
	// MaxValueLogLength bounds element values and file snippets in log fields.
	MaxValueLogLength = 80
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer JWTs and opaque bearer tokens
	bearerPattern = regexp.MustCompile(`(?i)(Bearer|token)\s+[A-Za-z0-9\-_.]+`)

	// GitHub personal, OAuth, app and fine-grained tokens
	githubTokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})\b`)

	// api_key=..., apikey=..., key=...
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{20,}`)

	// user:pass@host
	credentialsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeError returns the error text with credentials and tokens redacted.
// Use this before logging errors coming back from gateways or the database.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts credentials and tokens from arbitrary text.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	out := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	out = bearerPattern.ReplaceAllString(out, "${1} "+RedactedText)
	out = githubTokenPattern.ReplaceAllString(out, RedactedText)
	out = apiKeyPattern.ReplaceAllString(out, "${1}="+RedactedText)
	out = credentialsPattern.ReplaceAllString(out, "://"+RedactedText+"@")
	return out
}

// SanitizeURL drops userinfo and the query string from a URL before logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeString(raw)
	}
	if u.User != nil {
		u.User = url.User(RedactedText)
	}
	if u.RawQuery != "" {
		u.RawQuery = ""
		u.ForceQuery = false
		return u.String() + "?" + RedactedText
	}
	return u.String()
}

// TruncateString truncates s to at most maxLen bytes on a rune boundary and
// adds an ellipsis if anything was cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// TruncateValue applies MaxValueLogLength to an element value.
func TruncateValue(s string) string {
	return TruncateString(s, MaxValueLogLength)
}

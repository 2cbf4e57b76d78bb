package security

import "regexp"

// Output-level redaction for API keys, tokens, and secrets. Runs at the
// bus boundary so it is backend-agnostic.

const redactedPlaceholder = "[REDACTED]"

type redactRule struct {
	name    string
	re      *regexp.Regexp
	replace string // expansion template; empty means replace whole match
}

var redactRules = []redactRule{
	{
		name: "anthropic api key",
		re:   regexp.MustCompile(`\bsk-ant-[a-zA-Z0-9_-]{95,}\b`),
	},
	{
		name: "openai api key",
		re:   regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b`),
	},
	{
		name: "aws access key",
		re:   regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	},
	{
		name:    "aws secret key",
		re:      regexp.MustCompile(`(?i)(AWS_SECRET_ACCESS_KEY\s*[=:]\s*)['"]?[A-Za-z0-9/+=]{40}['"]?`),
		replace: "${1}" + redactedPlaceholder,
	},
	{
		name:    "api key parameter",
		re:      regexp.MustCompile(`(?i)(api[_-]?key|apikey)(\s*[=:]\s*)['"]?[a-zA-Z0-9_\-]{16,}['"]?`),
		replace: "${1}${2}" + redactedPlaceholder,
	},
	{
		name: "bearer token",
		re:   regexp.MustCompile(`(?i)\bBearer\s+[a-zA-Z0-9_\-.]{20,}\b`),
	},
	{
		name:    "basic auth in url",
		re:      regexp.MustCompile(`((?:https?|postgresql|mysql|mongodb|redis|ftp|sftp)://[a-zA-Z0-9_\-]+:)[^@\s]{3,}(@[a-zA-Z0-9\-./:]+)`),
		replace: "${1}" + redactedPlaceholder + "${2}",
	},
	{
		name: "github token",
		re:   regexp.MustCompile(`\bgh[pousr]_[a-zA-Z0-9]{36,}\b`),
	},
	{
		name:    "token parameter",
		re:      regexp.MustCompile(`(?i)(token|access_token|auth_token)(\s*[=:]\s*)['"]?[a-zA-Z0-9_\-.]{20,}['"]?`),
		replace: "${1}${2}" + redactedPlaceholder,
	},
	{
		name: "private key header",
		re:   regexp.MustCompile(`(?i)-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH)?\s*PRIVATE KEY-----`),
	},
	{
		name: "jwt",
		re:   regexp.MustCompile(`\beyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\b`),
	},
	{
		name:    "env secret",
		re:      regexp.MustCompile(`(?i)(SECRET|PASSWORD|PASSWD|PWD|CREDENTIAL)(=)['"]?[^\s'"]{8,}['"]?`),
		replace: "${1}${2}" + redactedPlaceholder,
	},
	{
		name: "slack token",
		re:   regexp.MustCompile(`\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}-[a-zA-Z0-9]{24,}\b`),
	},
	{
		name: "google api key",
		re:   regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`),
	},
	{
		name: "stripe api key",
		re:   regexp.MustCompile(`\b[rs]k_live_[0-9a-zA-Z]{24,}\b`),
	},
}

// Redact replaces recognized secrets in text with a placeholder. Pure
// function, safe on empty input.
func Redact(text string) string {
	if text == "" {
		return text
	}

	for _, rule := range redactRules {
		if rule.replace != "" {
			text = rule.re.ReplaceAllString(text, rule.replace)
		} else {
			text = rule.re.ReplaceAllString(text, redactedPlaceholder)
		}
	}

	return text
}

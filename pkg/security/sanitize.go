package security

import "regexp"

type sanitizationPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: a message can match more than one pattern (a connection
// string can contain what looks like a path), so patterns run JWT,
// connection string, email, path, then bearer/API-key, then bare IPs —
// most-specific and highest-value secrets redacted first.
var sanitizationPatterns = []sanitizationPattern{
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[JWT]"},
	{regexp.MustCompile(`(?i)(?:postgres|mysql|mongodb|redis|jdbc)://\S+`), "[CONNECTION_STRING]"},
	{regexp.MustCompile(`https?://[^:\s]+:[^@\s]+@\S+`), "[AUTH_URL]"},
	{regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`/(?:[\w.-]+/)+[\w.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Za-z]:\\(?:[^\\]+\\)+[^\\]*`), "[PATH]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_.-]+`), "Bearer [TOKEN]"},
	{regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["':\s=]+[a-zA-Z0-9_-]{16,}`), "[API_KEY]"},
	{regexp.MustCompile(`sdk_[a-zA-Z0-9_-]{8,}`), "sdk_[REDACTED]"},
	{regexp.MustCompile(`srv_[a-zA-Z0-9_-]{8,}`), "srv_[REDACTED]"},
	{regexp.MustCompile(`cli_[a-zA-Z0-9_-]{8,}`), "cli_[REDACTED]"},
	{regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`), "[IP]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
}

// Sanitize redacts paths, IPs, credentials, emails, connection strings,
// and JWT-shaped tokens from message. Applied before an error message
// leaves the SDK when sanitization is enabled.
func Sanitize(message string) string {
	if message == "" {
		return message
	}
	result := message
	for _, p := range sanitizationPatterns {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// ContainsSensitiveData reports whether message matches any redaction
// pattern, without modifying it.
func ContainsSensitiveData(message string) bool {
	if message == "" {
		return false
	}
	for _, p := range sanitizationPatterns {
		if p.pattern.MatchString(message) {
			return true
		}
	}
	return false
}

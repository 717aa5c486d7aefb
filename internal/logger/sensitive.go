package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveValuePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)((api[_-]?key|token|secret|passw(or)?d|x-ebirdapitoken)[:=]\s*)([^;,\s&]{3,})`), "${1}" + redacted},
	// userinfo password in broker and database URLs
	{regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@\s]+)(@)`), "${1}" + redacted + "${3}"},
}

// sensitiveKeywords mark field keys whose values are never written out.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "authorization", "credential",
}

// RedactSensitiveData masks credentials embedded in free text, such as
// broker URLs with passwords or API tokens in query strings.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, p := range sensitiveValuePatterns {
		input = p.re.ReplaceAllString(input, p.repl)
	}
	return input
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// redactField hides the value of fields whose key looks like a credential
// and scrubs credentials out of string values.
func redactField(f Field) Field {
	s, isString := f.Value.(string)
	switch {
	case isSensitiveKey(f.Key) && f.Value != nil:
		return Field{Key: f.Key, Value: redacted}
	case isString:
		return Field{Key: f.Key, Value: RedactSensitiveData(s)}
	default:
		return f
	}
}

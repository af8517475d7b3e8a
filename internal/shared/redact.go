package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches credential-bearing fragments in log and error
// strings: key=value pairs with secret-looking keys, Authorization headers,
// and sqlite DSN auth parameters.
var secretPatterns = []*regexp.Regexp{
	// Generic secrets in key=value or key: value form.
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|access[_-]?token|password|passwd)\s*[:=]\s*"?([^\s"&,;]+)"?`),
	// Bearer tokens in Authorization headers, including OTLP header lists.
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// sqlite3 DSN auth query parameters (_auth_user, _auth_pass, _auth_crypt).
	regexp.MustCompile(`(?i)(_auth_(?:user|pass|crypt))=([^\s"&]+)`),
}

// secretKeyFragments flags attribute and environment keys whose values should
// never be logged verbatim.
var secretKeyFragments = []string{
	"api_key", "apikey", "secret", "token", "password", "passwd", "credential", "headers",
}

// Redact replaces credential-bearing fragments in s with a placeholder. Safe
// to call on any string; non-matching input passes through unchanged.
func Redact(s string) string {
	if s == "" {
		return s
	}
	result := s
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the key prefix, redact only the value.
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// SecretKey reports whether a key name looks like it names a credential.
func SecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RedactValue scrubs a keyed value: secret-looking keys lose the whole value,
// everything else gets pattern redaction.
func RedactValue(key, value string) string {
	if SecretKey(key) {
		return redactedPlaceholder
	}
	return Redact(value)
}

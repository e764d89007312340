package log

import "strings"

// controlCharReplacer escapes control characters that can be used for log
// injection (CWE-117). Untrusted strings containing newlines could otherwise
// forge fake log entries or corrupt the audit trail.
var controlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Sanitize escapes control characters in a single string value.
func Sanitize(s string) string {
	return controlCharReplacer.Replace(s)
}

// sanitizeFields escapes control characters in string-typed field values.
// Non-string values pass through unchanged.
func sanitizeFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, field := range fields {
		if s, ok := field.Value.(string); ok {
			field.Value = Sanitize(s)
		}

		out[i] = field
	}

	return out
}

package logger

import (
	"fmt"
	"strings"
)

// maxLogValueBytes caps a single user supplied value in a log line.
const maxLogValueBytes = 512

const truncatedMarker = "...(truncated)"

// SanitizeForLog escapes control characters in user supplied strings such as
// upload names and input paths so they cannot forge log lines or drive the
// terminal. Printable Unicode is kept. Long values are cut at a rune boundary.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(min(len(s), maxLogValueBytes+len(truncatedMarker)))

	for _, r := range s {
		if result.Len() >= maxLogValueBytes {
			result.WriteString(truncatedMarker)
			break
		}
		switch {
		case r == '\n':
			result.WriteString(`\n`)
		case r == '\r':
			result.WriteString(`\r`)
		case r == '\t':
			result.WriteString(`\t`)
		case r < 32 || r == 127:
			fmt.Fprintf(&result, `\x%02x`, r)
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain filename", "onboard.mp4", "onboard.mp4"},
		{"path", "/data/uploads/3f2a.mp4", "/data/uploads/3f2a.mp4"},
		{"empty", "", ""},
		{"newline", "lap\nfake entry", `lap\nfake entry`},
		{"CRLF", "lap\r\nINFO forged", `lap\r\nINFO forged`},
		{"tab", "a\tb", `a\tb`},
		{"NUL", "a\x00b", `a\x00b`},
		{"ANSI escape", "\x1b[31mred", `\x1b[31mred`},
		{"bell", "a\x07b", `a\x07b`},
		{"DEL", "a\x7fb", `a\x7fb`},
		{"accents", "circuit-d'été.mp4", "circuit-d'été.mp4"},
		{"cjk", "鈴鹿.mp4", "鈴鹿.mp4"},
		{"invalid utf8", "a\xffb", `a�b`},
		{"terminal clear", "\x1b[2J\x1b[H", `\x1b[2J\x1b[H`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_NoRawControlChars(t *testing.T) {
	var sb strings.Builder
	for r := rune(0); r < 32; r++ {
		sb.WriteRune(r)
	}
	sb.WriteRune(127)

	out := SanitizeForLog(sb.String())
	for _, r := range out {
		assert.False(t, r < 32 || r == 127, "raw control char %q in output", r)
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	exact := strings.Repeat("a", maxLogValueBytes)
	assert.Equal(t, exact, SanitizeForLog(exact))

	long := SanitizeForLog(strings.Repeat("a", 2*maxLogValueBytes))
	assert.Equal(t, strings.Repeat("a", maxLogValueBytes)+truncatedMarker, long)

	runes := SanitizeForLog(strings.Repeat("é", maxLogValueBytes))
	assert.True(t, strings.HasSuffix(runes, truncatedMarker))
	assert.Equal(t, strings.Repeat("é", maxLogValueBytes/2)+truncatedMarker, runes)
}

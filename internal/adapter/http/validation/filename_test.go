package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "onboard.mp4", "onboard.mp4"},
		{"spaces", "race 3 onboard.mp4", "race 3 onboard.mp4"},
		{"multiple dots", "2026.10.14.session.mov", "2026.10.14.session.mov"},
		{"accents", "circuit-d'été.mp4", "circuit-d'été.mp4"},
		{"cjk", "鈴鹿サーキット.mp4", "鈴鹿サーキット.mp4"},
		{"double quote", `lap"1.mp4`, "lap_1.mp4"},
		{"backslash", `lap\1.mp4`, "lap_1.mp4"},
		{"CRLF", "lap\r\n1.mp4", "lap__1.mp4"},
		{"NUL", "lap\x001.mp4", "lap_1.mp4"},
		{"DEL", "lap\x7f1.mp4", "lap_1.mp4"},
		{"slash", "in/lap.mp4", "in_lap.mp4"},
		{"colon", "C:lap.mp4", "C_lap.mp4"},
		{"traversal", "../../../etc/passwd", ".._.._.._etc_passwd"},
		{"hidden prefix kept", "..secret.mp4", "..secret.mp4"},
		{"empty", "", "file"},
		{"whitespace", "   ", "file"},
		{"only dangerous", `"/\:`, "file"},
		{"surrounded", `"on\board:cam/"`, "_on_board_cam__"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilename_LongFilenames(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantExt string
	}{
		{name: "at limit", input: strings.Repeat("a", 255)},
		{name: "over limit", input: strings.Repeat("a", 300)},
		{name: "keeps extension", input: strings.Repeat("a", 300) + ".mp4", wantExt: ".mp4"},
		{name: "keeps long extension", input: strings.Repeat("a", 300) + ".webm", wantExt: ".webm"},
		{name: "exactly at limit with extension", input: strings.Repeat("a", 251) + ".mp4", wantExt: ".mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			assert.Len(t, got, 255)
			if tt.wantExt != "" {
				assert.True(t, strings.HasSuffix(got, tt.wantExt), "got %q", got)
			}
		})
	}
}

func TestSanitizeFilename_TruncationKeepsRunesWhole(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("é", 200) + ".mp4")

	assert.LessOrEqual(t, len(got), 255)
	assert.True(t, strings.HasSuffix(got, ".mp4"))
	assert.Equal(t, strings.Repeat("é", (255-4)/2)+".mp4", got)
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		inline   bool
		expected string
	}{
		{"inline", "race-lapclock.mp4", true, `inline; filename="race-lapclock.mp4"`},
		{"attachment", "race-lapclock.mp4", false, `attachment; filename="race-lapclock.mp4"`},
		{"dangerous chars", `bad"file\name.mp4`, false, `attachment; filename="bad_file_name.mp4"`},
		{"newlines", "file\r\nname.mp4", false, `attachment; filename="file__name.mp4"`},
		{"empty", "", false, `attachment; filename="file"`},
		{
			"non-ascii gets extended parameter",
			"été-lapclock.mp4",
			false,
			`attachment; filename="_t_-lapclock.mp4"; filename*=UTF-8''%C3%A9t%C3%A9-lapclock.mp4`,
		},
		{
			"extended parameter escapes spaces",
			"Spa Francorchamps é.mp4",
			true,
			`inline; filename="Spa Francorchamps _.mp4"; filename*=UTF-8''Spa%20Francorchamps%20%C3%A9.mp4`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContentDisposition(tt.filename, tt.inline))
		})
	}
}

func TestContentDisposition_NoHeaderInjection(t *testing.T) {
	malicious := []string{
		`file"name.mp4`,
		`"both".mp4`,
		`injection"; evil=header`,
		"header\r\nX-Injected: value",
	}

	for _, filename := range malicious {
		t.Run(filename, func(t *testing.T) {
			result := ContentDisposition(filename, false)

			value := strings.TrimSuffix(strings.TrimPrefix(result, `attachment; filename="`), `"`)
			assert.NotContains(t, value, `"`)
			assert.NotContains(t, result, "\n")
			assert.NotContains(t, result, "\r")
		})
	}
}

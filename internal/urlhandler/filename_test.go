package urlhandler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain name unchanged",
			input:    "report.pdf",
			expected: "report.pdf",
		},
		{
			name:     "strips unix path",
			input:    "../../etc/passwd",
			expected: "passwd",
		},
		{
			name:     "strips windows path",
			input:    `C:\Users\victim\evil.exe`,
			expected: "evil.exe",
		},
		{
			name:     "replaces control and reserved characters",
			input:    "inv\x00oice<1>.pdf",
			expected: "inv_oice_1_.pdf",
		},
		{
			name:     "empty becomes default",
			input:    "  ",
			expected: "download",
		},
		{
			name:     "trailing dots trimmed",
			input:    "setup.exe...",
			expected: "setup.exe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFileName(tt.input))
		})
	}
}

func TestSanitizeFileNameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 300) + ".bin"
	got := SanitizeFileName(long)
	assert.LessOrEqual(t, len([]rune(got)), 255)
	assert.True(t, strings.HasSuffix(got, ".bin"), "extension must survive truncation")
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "archive.zip", FileNameFromURL("https://example.com/files/archive.zip"))
	assert.Equal(t, "example.com", FileNameFromURL("https://example.com/"))
	assert.Equal(t, "my file.pdf", FileNameFromURL("https://example.com/docs/my%20file.pdf"))
}

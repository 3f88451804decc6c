package urlhandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "adds default scheme",
			input:    "example.com/file.zip",
			expected: "http://example.com/file.zip",
		},
		{
			name:     "lowercases scheme and host",
			input:    "HTTPS://EXAMPLE.com/Path",
			expected: "https://example.com/Path",
		},
		{
			name:     "strips fragment",
			input:    "https://example.com/page#section",
			expected: "https://example.com/page",
		},
		{
			name:     "preserves query",
			input:    "https://example.com/dl?id=3",
			expected: "https://example.com/dl?id=3",
		},
		{
			name:    "empty input",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "no hostname",
			input:   "http://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://example.com/file.exe"))
	assert.True(t, IsHTTPURL("http://example.com"))
	assert.False(t, IsHTTPURL("blob:0b1e7f0a-8c2d-4f2e"))
	assert.False(t, IsHTTPURL("data:text/plain;base64,aGk="))
	assert.False(t, IsHTTPURL("file:///tmp/x"))
	assert.False(t, IsHTTPURL("not a url"))
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, SameOrigin("https://scan.example.com/a", "https://SCAN.example.com/b?x=1"))
	assert.False(t, SameOrigin("https://scan.example.com", "https://other.example.com"))
	assert.False(t, SameOrigin("http://scan.example.com", "https://scan.example.com"))
}

package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPlainText(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{
			name:     "plain text passes through",
			source:   "Bob works at Acme.",
			expected: "Bob works at Acme.",
		},
		{
			name:     "empty",
			source:   "",
			expected: "",
		},
		{
			name:     "heading markers stripped",
			source:   "# Notes\n\nBob works at Acme.",
			expected: "Notes\nBob works at Acme.",
		},
		{
			name:     "emphasis stripped",
			source:   "Bob works at **Acme** and *likes* it.",
			expected: "Bob works at Acme and likes it.",
		},
		{
			name:     "link text kept",
			source:   "See [the report](https://example.com/report) for details.",
			expected: "See the report for details.",
		},
		{
			name:     "list items on separate lines",
			source:   "- first\n- second",
			expected: "first\nsecond",
		},
		{
			name:     "inline code kept",
			source:   "Run `make build` first.",
			expected: "Run make build first.",
		},
		{
			name:     "soft line break becomes space",
			source:   "Bob works\nat Acme.",
			expected: "Bob works at Acme.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ToPlainText(tc.source))
		})
	}
}

func TestToPlainTextFencedCode(t *testing.T) {
	out := ToPlainText("Setup:\n\n```sh\nmake install\n```\n\nDone.")
	assert.Contains(t, out, "make install")
	assert.NotContains(t, out, "```")
}

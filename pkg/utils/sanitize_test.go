package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"factroom", "factroom"},
		{"factroom.ru", "factroom.ru"},
		{"path/to/file", "path_to_file"},
		{"localhost:8080", "localhost_8080"},
		{"a___b", "a_b"},
		{"  file  ", "file"},
		{"", "untitled"},
		{"<>:", "untitled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.input), "input %q", tt.input)
	}

	long := SanitizeFilename(strings.Repeat("x", 150))
	assert.Len(t, long, maxFilenameLength)
}

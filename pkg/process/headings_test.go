package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHeadings(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     []string
	}{
		{
			name: "nested sections",
			markdown: `# Main Title

Some intro text.

## Section One

### Subsection A

## Section Two
`,
			want: []string{"Main Title", "Section One", "Subsection A", "Section Two"},
		},
		{
			name:     "all levels",
			markdown: "# H1\n## H2\n### H3\n#### H4\n##### H5\n###### H6\n",
			want:     []string{"H1", "H2", "H3", "H4", "H5", "H6"},
		},
		{
			name:     "inline markup",
			markdown: "## Why **cats** purr `fast` and [sleep](https://example.com/)\n",
			want:     []string{"Why cats purr fast and sleep"},
		},
		{
			name:     "setext heading",
			markdown: "Owls\n====\n\ntext\n",
			want:     []string{"Owls"},
		},
		{
			name:     "cyrillic",
			markdown: "## Интересные факты\n",
			want:     []string{"Интересные факты"},
		},
		{name: "no headings", markdown: "Just plain text without any headings.", want: nil},
		{name: "empty", markdown: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractHeadings(tt.markdown))
		})
	}
}

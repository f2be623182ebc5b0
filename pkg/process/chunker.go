package process

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"site-ingest/pkg/models"
)

// Chunk is one retrieval-sized piece of an article
type Chunk struct {
	Index            int
	Content          string   // Chunk text, prefixed with its parent headings
	HeadingHierarchy []string // Headings present in Content, outermost first
	TokenCount       int
}

// ChunkerConfig sizes chunks in tokens
type ChunkerConfig struct {
	MaxChunkSize int           // Sections larger than this are split again
	ChunkOverlap int           // Overlap between the pieces of a split section
	Counter      *TokenCounter // nil estimates tokens from length
}

// DefaultChunkerConfig returns the export defaults: 512 tokens, 50 overlap
func DefaultChunkerConfig(counter *TokenCounter) ChunkerConfig {
	return ChunkerConfig{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
		Counter:      counter,
	}
}

// ChunkArticle chunks a stored article body. The markdown is used when present,
// otherwise the plain text. A body that does not open with a heading gets the
// article title as its top heading, so every chunk carries it.
func ChunkArticle(title string, content models.ArticleContent, cfg ChunkerConfig) ([]Chunk, error) {
	body := content.ContentMarkdown
	if strings.TrimSpace(body) == "" {
		body = content.ContentText
	}
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	if title = strings.TrimSpace(title); title != "" && !strings.HasPrefix(strings.TrimSpace(body), "#") {
		body = "# " + title + "\n\n" + body
	}
	return ChunkMarkdown(body, cfg)
}

// ChunkMarkdown splits markdown at headings, keeping the heading hierarchy in
// each chunk, and splits any section still over MaxChunkSize by characters.
func ChunkMarkdown(markdown string, cfg ChunkerConfig) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	sizing := []textsplitter.Option{
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(cfg.Counter.Count),
	}
	splitter := textsplitter.NewMarkdownTextSplitter(append(sizing,
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithSecondSplitter(textsplitter.NewRecursiveCharacter(sizing...)),
	)...)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:            len(chunks),
			Content:          part,
			HeadingHierarchy: ExtractHeadings(part),
			TokenCount:       cfg.Counter.Count(part),
		})
	}
	return chunks, nil
}

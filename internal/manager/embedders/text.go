package embedders

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"

	"github.com/tiktoken-go/tokenizer"
)

const (
	// Content is truncated to this many characters before embedding.
	contentTruncateAt = 3000
	truncationMarker  = "... [truncated]"
	// Length of the stored text preview.
	previewLength = 200
)

var ErrTokenizerInit = errors.New("failed to initialize tokenizer")

// TextBuilder constructs the deterministic embedding input for a document.
// The field order and truncation policy must stay fixed so embeddings remain
// comparable across runs.
type TextBuilder struct {
	encoding tokenizer.Codec
}

// NewTextBuilder creates a text builder using the cl100k_base tokenizer for
// token accounting.
func NewTextBuilder() (*TextBuilder, error) {
	encoding, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, ErrTokenizerInit
	}
	return &TextBuilder{encoding: encoding}, nil
}

// Build returns the embedding input text for a document along with its token
// count. Order: title, summary, truncated content, tags, content type, source.
func (b *TextBuilder) Build(doc *models.Document) (string, int, error) {
	var parts []string

	parts = append(parts, doc.Title)
	if doc.Summary != nil && *doc.Summary != "" {
		parts = append(parts, *doc.Summary)
	}

	content := doc.Content
	if len(content) > contentTruncateAt {
		content = truncateOnRuneBoundary(content, contentTruncateAt) + truncationMarker
	}
	parts = append(parts, content)

	if len(doc.Tags) > 0 {
		parts = append(parts, strings.Join(doc.Tags, ", "))
	}
	parts = append(parts, string(doc.ContentType), string(doc.Source))

	text := strings.Join(parts, "\n")

	tokenCount, err := b.CountTokens(text)
	if err != nil {
		return "", 0, err
	}

	return text, tokenCount, nil
}

// CountTokens returns the token count of the given text.
func (b *TextBuilder) CountTokens(text string) (int, error) {
	ids, _, err := b.encoding.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Preview returns the stored diagnostic preview of an embedding input.
func Preview(text string) string {
	return truncateOnRuneBoundary(text, previewLength)
}

// truncateOnRuneBoundary cuts s to at most max bytes without splitting a
// multibyte rune at the cut point.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

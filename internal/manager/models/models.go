package models

import (
	"time"
)

// SourceType identifies where a document was ingested from.
type SourceType string

const (
	SourceReddit    SourceType = "reddit"
	SourceWikipedia SourceType = "wikipedia"
)

// ContentType classifies what kind of fitness content a document holds.
type ContentType string

const (
	ContentTypeExercise   ContentType = "exercise"
	ContentTypeRoutine    ContentType = "routine"
	ContentTypeNutrition  ContentType = "nutrition"
	ContentTypeDiscussion ContentType = "discussion"
	ContentTypeGuide      ContentType = "guide"
	ContentTypeScience    ContentType = "science"
)

// RawRecord is a single item as returned by a source API, before
// normalization. Fields holds the source-native payload.
type RawRecord struct {
	SourceID string                 `json:"source_id"`
	Source   SourceType             `json:"source"`
	Fields   map[string]interface{} `json:"fields"`
}

// Document is a normalized unit of ingested knowledge.
type Document struct {
	ID           string                 `json:"id"`
	Source       SourceType             `json:"source"`
	Title        string                 `json:"title"`
	Content      string                 `json:"content"`
	Summary      *string                `json:"summary"`
	URL          string                 `json:"url"`
	ContentHash  string                 `json:"content_hash"`
	QualityScore float64                `json:"quality_score"`
	ContentType  ContentType            `json:"content_type"`
	Tags         []string               `json:"tags"`
	Metadata     map[string]interface{} `json:"metadata"`
	// Keywords and SearchableText are derived at write time and hydrated on
	// reads so the search path never recomputes them.
	Keywords       []string   `json:"keywords,omitempty"`
	SearchableText string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// Embedding is the stored vector for one document, keyed by content id.
type Embedding struct {
	ContentID    string    `json:"content_id"`
	Vector       []float32 `json:"embedding"`
	ModelVersion string    `json:"model_version"`
	TextPreview  string    `json:"text_preview"`
	TextLength   int       `json:"text_length"`
	EmbeddedAt   time.Time `json:"embedded_at"`
}

// SearchResult pairs a document with its similarity to a query.
// CombinedScore is set only when hybrid ranking ran.
type SearchResult struct {
	Document        *Document `json:"document"`
	SimilarityScore float64   `json:"similarity_score"`
	KeywordScore    float64   `json:"keyword_score,omitempty"`
	CombinedScore   *float64  `json:"combined_score,omitempty"`
}

// SortKey returns the effective ranking key: combined score when present,
// raw similarity otherwise.
func (r *SearchResult) SortKey() float64 {
	if r.CombinedScore != nil {
		return *r.CombinedScore
	}
	return r.SimilarityScore
}

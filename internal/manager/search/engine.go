// Package search ranks documents against a query vector by cosine
// similarity, optionally blended with lexical keyword matching.
package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Raw candidate pool size relative to the requested limit. Similarity
	// is never computed against the whole corpus unfiltered.
	candidateMultiplier = 3

	defaultLimit = 10

	// Hybrid blend weights.
	semanticWeight = 0.7
	keywordWeight  = 0.3

	// Keyword match location weights.
	titleMatchWeight   = 1.5
	summaryMatchWeight = 1.2
	bodyMatchWeight    = 1.0

	// Query terms this short carry no signal.
	minTermLength = 2
)

var ErrNoEmbedderConfigured = errors.New("no embedder configured")

// Options configures one search call.
type Options struct {
	Limit       int
	Threshold   float64
	Hybrid      bool
	ContentType models.ContentType
	Source      models.SourceType
	MinQuality  float64
}

// Candidate pairs a document with its stored embedding vector.
type Candidate struct {
	Document *models.Document
	Vector   []float32
}

// Engine executes semantic and hybrid search over the document store.
type Engine struct {
	documents  interfaces.DocumentStore
	embeddings interfaces.EmbeddingStore
	embedder   interfaces.Embedder
	logger     zerolog.Logger
}

func NewEngine(
	documents interfaces.DocumentStore,
	embeddings interfaces.EmbeddingStore,
	embedder interfaces.Embedder,
) (*Engine, error) {
	if embedder == nil {
		return nil, ErrNoEmbedderConfigured
	}
	return &Engine{
		documents:  documents,
		embeddings: embeddings,
		embedder:   embedder,
		logger:     util.NewLogger(zerolog.InfoLevel),
	}, nil
}

// Search embeds the query, narrows the corpus through the structured
// filters, ranks the candidate pool, and returns at most Limit results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*models.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}

	queryVector, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		e.logger.Error().Err(err).Msg("query embedding failed")
		return nil, err
	}

	candidates, err := e.loadCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}

	results := Rank(queryVector, candidates, opts.Threshold)

	if opts.Hybrid {
		for _, result := range results {
			result.KeywordScore = KeywordScore(query, result.Document)
			combined := semanticWeight*result.SimilarityScore + keywordWeight*result.KeywordScore
			result.CombinedScore = &combined
		}
	}

	sortResults(results)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	e.logger.Info().
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Bool("hybrid", opts.Hybrid).
		Msg("search complete")

	return results, nil
}

// loadCandidates narrows the document set via the structured filters and
// hydrates each candidate's embedding. Candidates lacking a valid embedding
// are skipped with a warning.
func (e *Engine) loadCandidates(ctx context.Context, opts Options) ([]Candidate, error) {
	docs, err := e.documents.Scan(ctx, interfaces.DocumentFilter{
		ContentType: opts.ContentType,
		Source:      opts.Source,
		MinQuality:  opts.MinQuality,
		Limit:       opts.Limit * candidateMultiplier,
	})
	if err != nil {
		e.logger.Error().Err(err).Msg("candidate scan failed")
		return nil, err
	}

	candidates := make([]Candidate, 0, len(docs))
	for _, doc := range docs {
		embedding, err := e.embeddings.Get(ctx, doc.ID)
		if err != nil {
			e.logger.Warn().Str("document_id", doc.ID).Msg("candidate has no embedding, skipping")
			continue
		}
		if len(embedding.Vector) == 0 {
			e.logger.Warn().Str("document_id", doc.ID).Msg("candidate embedding is empty, skipping")
			continue
		}
		if len(embedding.Vector) != e.embedder.GetDimension() {
			e.logger.Warn().
				Str("document_id", doc.ID).
				Int("embedding_dimension", len(embedding.Vector)).
				Int("expected_dimension", e.embedder.GetDimension()).
				Msg("candidate embedding dimension mismatch, skipping")
			continue
		}
		candidates = append(candidates, Candidate{Document: doc, Vector: embedding.Vector})
	}

	return candidates, nil
}

// Rank computes cosine similarity for every candidate of matching
// dimensionality, discards those below the threshold, and returns results
// sorted by similarity descending.
func Rank(queryVector []float32, candidates []Candidate, threshold float64) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(candidates))
	for _, candidate := range candidates {
		if len(candidate.Vector) != len(queryVector) {
			continue
		}

		similarity := CosineSimilarity(queryVector, candidate.Vector)
		if similarity < threshold {
			continue
		}

		results = append(results, &models.SearchResult{
			Document:        candidate.Document,
			SimilarityScore: similarity,
		})
	}

	sortResults(results)
	return results
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1,1]. A zero-norm
// vector or a length mismatch yields 0 rather than dividing by zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// KeywordScore measures lexical overlap between the query and a document.
// A term matching in the title outweighs one in the summary, which outweighs
// one anywhere else. The score is normalized by term count and clamped to
// [0,1].
func KeywordScore(query string, doc *models.Document) float64 {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return 0
	}

	title := strings.ToLower(doc.Title)
	var summary string
	if doc.Summary != nil {
		summary = strings.ToLower(*doc.Summary)
	}
	// Documents hydrated from the store carry a precomputed lowercase
	// searchable blob. Recompute only for documents that lack one.
	blob := doc.SearchableText
	if blob == "" {
		blob = strings.ToLower(doc.Title + " " + doc.Content + " " + summary + " " + strings.Join(doc.Tags, " "))
	}

	var score float64
	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += titleMatchWeight
		case summary != "" && strings.Contains(summary, term):
			score += summaryMatchWeight
		case strings.Contains(blob, term):
			score += bodyMatchWeight
		}
	}

	score /= float64(len(terms))
	if score > 1 {
		score = 1
	}
	return score
}

// queryTerms tokenizes a query, dropping terms too short to carry signal.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) > minTermLength {
			terms = append(terms, field)
		}
	}
	return terms
}

// sortResults orders by the effective sort key descending, breaking ties on
// document quality score descending.
func sortResults(results []*models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		ki, kj := results[i].SortKey(), results[j].SortKey()
		if ki != kj {
			return ki > kj
		}
		return results[i].Document.QualityScore > results[j].Document.QualityScore
	})
}

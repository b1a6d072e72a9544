package services

import (
	"context"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/quality"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
)

// OptimizeResult summarizes one index maintenance pass.
type OptimizeResult struct {
	Scanned        int
	Rescored       int
	Unchanged      int
	OrphansRemoved int
	Errors         int
}

// Optimizer performs index maintenance: recomputes quality fields over the
// stored corpus and removes embeddings whose owning document is gone.
type Optimizer struct {
	documents  interfaces.DocumentStore
	embeddings interfaces.EmbeddingStore
	logger     zerolog.Logger
}

func NewOptimizer(documents interfaces.DocumentStore, embeddings interfaces.EmbeddingStore) *Optimizer {
	return &Optimizer{
		documents:  documents,
		embeddings: embeddings,
		logger:     util.NewLogger(zerolog.InfoLevel),
	}
}

// Run executes one maintenance pass. Per-document failures are tallied and
// the pass continues.
func (o *Optimizer) Run(ctx context.Context) (*OptimizeResult, error) {
	result := &OptimizeResult{}

	docs, err := o.documents.Scan(ctx, interfaces.DocumentFilter{})
	if err != nil {
		o.logger.Error().Err(err).Msg("document scan failed")
		return nil, err
	}
	result.Scanned = len(docs)

	for _, doc := range docs {
		score := quality.Score(doc)
		contentType := quality.Classify(doc)
		if score == doc.QualityScore && contentType == doc.ContentType {
			result.Unchanged++
			continue
		}

		if err := o.documents.UpdateQuality(ctx, doc.ID, score, contentType); err != nil {
			o.logger.Error().Err(err).Str("document_id", doc.ID).Msg("quality update failed")
			result.Errors++
			continue
		}
		result.Rescored++
	}

	orphans, err := o.embeddings.OrphanedIDs(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("orphan listing failed")
		return nil, err
	}

	for _, id := range orphans {
		if err := o.embeddings.Delete(ctx, id); err != nil {
			o.logger.Error().Err(err).Str("content_id", id).Msg("orphan delete failed")
			result.Errors++
			continue
		}
		result.OrphansRemoved++
	}

	o.logger.Info().
		Int("scanned", result.Scanned).
		Int("rescored", result.Rescored).
		Int("orphans_removed", result.OrphansRemoved).
		Int("errors", result.Errors).
		Msg("index optimization complete")

	return result, nil
}

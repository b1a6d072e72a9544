package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/embedders"
	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/quality"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Default number of items embedded per batch.
	defaultEmbedBatchSize = 25
	// Pause between batches, rate limiting against the embedding API.
	defaultBatchDelay = time.Second
	// Quality histogram boundaries.
	highQualityMin   = 0.8
	mediumQualityMin = 0.6
	// Bound on per-item error details in the result.
	maxErrorDetails = 10
)

var (
	ErrNoEmbedderConfigured = errors.New("no embedder configured")
	ErrInvalidBatchSize     = errors.New("batch size must be positive")
)

// BatchOptions configures one batch embedding run.
type BatchOptions struct {
	Mode           Mode
	Filter         interfaces.DocumentFilter
	BatchSize      int
	MaxItems       int
	ForceOverwrite bool
}

// BatchEngine selects documents that need (re)embedding and processes them
// in rate-limited batches with per-item error isolation.
type BatchEngine struct {
	documents   interfaces.DocumentStore
	embeddings  interfaces.EmbeddingStore
	embedder    interfaces.Embedder
	textBuilder *embedders.TextBuilder
	batchDelay  time.Duration
	logger      zerolog.Logger
}

// NewBatchEngine creates a batch embedding engine. A missing embedder is a
// configuration error, surfaced before any work happens.
func NewBatchEngine(
	documents interfaces.DocumentStore,
	embeddingsStore interfaces.EmbeddingStore,
	embedder interfaces.Embedder,
) (*BatchEngine, error) {
	if embedder == nil {
		return nil, ErrNoEmbedderConfigured
	}

	textBuilder, err := embedders.NewTextBuilder()
	if err != nil {
		return nil, err
	}

	return &BatchEngine{
		documents:   documents,
		embeddings:  embeddingsStore,
		embedder:    embedder,
		textBuilder: textBuilder,
		batchDelay:  defaultBatchDelay,
		logger:      util.NewLogger(zerolog.InfoLevel),
	}, nil
}

// SetBatchDelay overrides the inter-batch pause.
func (e *BatchEngine) SetBatchDelay(delay time.Duration) {
	e.batchDelay = delay
}

// Run executes one batch embedding pass. One item's failure never aborts the
// batch or the run; failures are tallied and detailed up to a bound.
func (e *BatchEngine) Run(ctx context.Context, opts BatchOptions) (*interfaces.BatchResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultEmbedBatchSize
	}

	candidates, err := e.selectCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &interfaces.BatchResult{Total: len(candidates)}
	if len(candidates) == 0 {
		e.logger.Info().Str("mode", string(opts.Mode)).Msg("nothing to process")
		return result, nil
	}

	processed := 0
	for start := 0; start < len(candidates); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		e.processBatch(ctx, candidates[start:end], opts, result)
		processed += end - start

		e.logger.Info().
			Int("processed", processed).
			Int("total", len(candidates)).
			Msg("batch complete")

		if end < len(candidates) {
			time.Sleep(e.batchDelay)
		}
	}

	return result, nil
}

// MissingCount returns how many documents currently lack an embedding.
func (e *BatchEngine) MissingCount(ctx context.Context) (int, error) {
	docs, err := e.documents.Scan(ctx, interfaces.DocumentFilter{})
	if err != nil {
		return 0, err
	}
	embedded, err := e.embeddings.EmbeddedIDs(ctx)
	if err != nil {
		return 0, err
	}

	missing := 0
	for _, doc := range docs {
		if _, ok := embedded[doc.ID]; !ok {
			missing++
		}
	}
	return missing, nil
}

// selectCandidates applies the mode's predicate over the filtered document
// set. Documents arrive ordered by quality score descending, so an item cap
// keeps the best content.
func (e *BatchEngine) selectCandidates(ctx context.Context, opts BatchOptions) ([]*models.Document, error) {
	pick, err := selectorFor(opts.Mode)
	if err != nil {
		return nil, err
	}

	docs, err := e.documents.Scan(ctx, opts.Filter)
	if err != nil {
		e.logger.Error().Err(err).Msg("candidate scan failed")
		return nil, err
	}

	embedded, err := e.embeddings.EmbeddedIDs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list embedded ids")
		return nil, err
	}

	stale := make(map[string]bool)
	if opts.Mode == ModeOutdated {
		staleIDs, err := e.embeddings.StaleModelIDs(ctx, e.embedder.GetModelName())
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to list stale embeddings")
			return nil, err
		}
		for _, id := range staleIDs {
			stale[id] = true
		}
	}

	var candidates []*models.Document
	for _, doc := range docs {
		embeddedAt, exists := embedded[doc.ID]
		state := embeddingState{
			exists:     exists,
			embeddedAt: embeddedAt,
			staleModel: stale[doc.ID],
		}
		if !pick(state) {
			continue
		}
		candidates = append(candidates, doc)
		if opts.MaxItems > 0 && len(candidates) >= opts.MaxItems {
			break
		}
	}

	e.logger.Info().
		Str("mode", string(opts.Mode)).
		Int("candidates", len(candidates)).
		Msg("selected candidates")

	return candidates, nil
}

// processBatch fans the batch's items out to goroutines and waits for all of
// them to settle, so one slow or failing item does not block its siblings.
func (e *BatchEngine) processBatch(
	ctx context.Context,
	batch []*models.Document,
	opts BatchOptions,
	result *interfaces.BatchResult,
) {
	type itemOutcome struct {
		doc     *models.Document
		skipped bool
		err     error
	}

	outcomes := make([]itemOutcome, len(batch))
	var wg sync.WaitGroup

	for i, doc := range batch {
		wg.Add(1)
		go func(i int, doc *models.Document) {
			defer wg.Done()
			skipped, err := e.processItem(ctx, doc, opts)
			outcomes[i] = itemOutcome{doc: doc, skipped: skipped, err: err}
		}(i, doc)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		switch {
		case outcome.err != nil:
			result.Failed++
			if len(result.ErrorList) < maxErrorDetails {
				result.ErrorList = append(result.ErrorList, interfaces.ItemError{
					ItemID:  outcome.doc.ID,
					Message: fmt.Sprintf("%v", outcome.err),
				})
			}
			e.logger.Error().Err(outcome.err).Str("document_id", outcome.doc.ID).Msg("item failed")
		case outcome.skipped:
			result.Skipped++
		default:
			result.Successful++
			switch {
			case outcome.doc.QualityScore >= highQualityMin:
				result.HighQ++
			case outcome.doc.QualityScore >= mediumQualityMin:
				result.MediumQ++
			default:
				result.LowQ++
			}
		}
	}
}

// processItem handles one document: in quality_check mode the score and
// classification are recomputed first, then the document is (re)embedded
// unless an existing embedding is kept.
func (e *BatchEngine) processItem(ctx context.Context, doc *models.Document, opts BatchOptions) (bool, error) {
	if opts.Mode == ModeQualityCheck {
		score := quality.Score(doc)
		contentType := quality.Classify(doc)
		if score != doc.QualityScore || contentType != doc.ContentType {
			if err := e.documents.UpdateQuality(ctx, doc.ID, score, contentType); err != nil {
				return false, fmt.Errorf("quality update failed: %w", err)
			}
			doc.QualityScore = score
			doc.ContentType = contentType
		}
		if !opts.ForceOverwrite {
			// Re-score only; the existing embedding stays.
			return false, nil
		}
	}

	if opts.Mode == ModeAll && !opts.ForceOverwrite {
		if _, err := e.embeddings.Get(ctx, doc.ID); err == nil {
			return true, nil
		}
	}

	text, tokenCount, err := e.textBuilder.Build(doc)
	if err != nil {
		return false, fmt.Errorf("text build failed: %w", err)
	}
	if tokenCount > e.embedder.GetMaxTokens() {
		e.logger.Warn().
			Str("document_id", doc.ID).
			Int("tokens", tokenCount).
			Int("max_tokens", e.embedder.GetMaxTokens()).
			Msg("embedding input exceeds model token limit")
	}

	vector, err := e.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embedding generation failed: %w", err)
	}

	embedding := &models.Embedding{
		ContentID:    doc.ID,
		Vector:       vector,
		ModelVersion: e.embedder.GetModelName(),
		TextPreview:  embedders.Preview(text),
		TextLength:   len(text),
		EmbeddedAt:   time.Now().UTC(),
	}

	if err := e.embeddings.Upsert(ctx, embedding); err != nil {
		return false, fmt.Errorf("embedding store failed: %w", err)
	}

	return false, nil
}

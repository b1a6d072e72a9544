// Package ingest drives one ingestion run: fetch, normalize, dedup, score,
// and persist. Each run owns its own seen-hash set; nothing is shared
// between runs.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/quality"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Default item cap per source when the caller does not set one.
	defaultFetchLimit = 100
	// Bound on the per-item error details carried in the result.
	maxErrorDetails = 10
)

var ErrNoSourcesRegistered = errors.New("no sources registered")

// Run is a single ingestion pass over a set of sources.
type Run struct {
	sources []interfaces.Source
	store   interfaces.DocumentStore
	policy  interfaces.UpsertPolicy
	limit   int
	// seen holds content hashes observed during this run only.
	seen   map[string]bool
	logger zerolog.Logger
}

// NewRun creates an ingestion run over the given sources.
func NewRun(store interfaces.DocumentStore, srcs ...interfaces.Source) *Run {
	return &Run{
		sources: srcs,
		store:   store,
		policy:  interfaces.UpsertPolicy{SkipDuplicates: true},
		limit:   defaultFetchLimit,
		seen:    make(map[string]bool),
		logger:  util.NewLogger(zerolog.InfoLevel),
	}
}

// SetLimit caps how many items are requested from each source.
func (r *Run) SetLimit(limit int) {
	if limit > 0 {
		r.limit = limit
	}
}

// SetPolicy sets the upsert policy applied at the end of the run.
func (r *Run) SetPolicy(policy interfaces.UpsertPolicy) {
	r.policy = policy
}

// Execute runs the full pass: fetch from every source, normalize and dedup,
// score and classify, then upsert the surviving documents. A failure on one
// source or one item is recorded and the run continues.
func (r *Run) Execute(ctx context.Context) (*interfaces.IngestResult, error) {
	if len(r.sources) == 0 {
		return nil, ErrNoSourcesRegistered
	}

	result := &interfaces.IngestResult{RunID: uuid.New().String()}

	// Hashes already in the store handle cross-run duplicate suppression.
	storedHashes, err := r.store.ExistingHashes(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load stored hashes")
		return nil, err
	}

	var docs []*models.Document
	for _, source := range r.sources {
		records, err := source.Fetch(ctx, r.limit)
		if err != nil {
			r.logger.Error().Err(err).Str("source", string(source.Name())).Msg("source fetch failed, continuing")
			r.recordError(result, string(source.Name()), err)
			continue
		}
		result.Fetched += len(records)

		for _, record := range records {
			doc := r.normalize(source, record, storedHashes, result)
			if doc != nil {
				docs = append(docs, doc)
			}
		}

		r.logger.Info().
			Str("source", string(source.Name())).
			Int("fetched", len(records)).
			Msg("source pass complete")
	}

	upsert, err := r.store.Upsert(ctx, docs, r.policy)
	if err != nil {
		r.logger.Error().Err(err).Msg("upsert failed")
		return nil, err
	}

	result.Uploaded = upsert.Uploaded + upsert.Updated
	result.Duplicates += upsert.Duplicates
	result.Errors += upsert.Errors

	r.logger.Info().
		Str("run_id", result.RunID).
		Int("fetched", result.Fetched).
		Int("normalized", result.Normalized).
		Int("rejected", result.Rejected).
		Int("duplicates", result.Duplicates).
		Int("uploaded", result.Uploaded).
		Int("errors", result.Errors).
		Msg("ingestion run complete")

	return result, nil
}

// normalize converts one raw record into a scored document, applying the
// run-local and cross-run duplicate checks. Returns nil when the record is
// rejected or a duplicate.
func (r *Run) normalize(
	source interfaces.Source,
	record models.RawRecord,
	storedHashes map[string]bool,
	result *interfaces.IngestResult,
) *models.Document {
	doc, err := source.ToDocument(record)
	if err != nil {
		r.logger.Error().Err(err).Str("item_id", record.SourceID).Msg("normalization failed")
		r.recordError(result, record.SourceID, err)
		return nil
	}
	if doc == nil {
		result.Rejected++
		return nil
	}

	if r.seen[doc.ContentHash] || storedHashes[doc.ContentHash] {
		result.Duplicates++
		return nil
	}
	r.seen[doc.ContentHash] = true

	// Quality and classification are set once at creation.
	doc.QualityScore = quality.Score(doc)
	doc.ContentType = quality.Classify(doc)

	result.Normalized++
	return doc
}

func (r *Run) recordError(result *interfaces.IngestResult, itemID string, err error) {
	result.Errors++
	if len(result.ErrorList) < maxErrorDetails {
		result.ErrorList = append(result.ErrorList, interfaces.ItemError{
			ItemID:  itemID,
			Message: fmt.Sprintf("%v", err),
		})
	}
}

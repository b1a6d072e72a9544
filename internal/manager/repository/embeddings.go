package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
)

var ErrEmbeddingNotFound = errors.New("embedding not found")

// EmbeddingRepository stores one embedding per document, keyed by content id.
type EmbeddingRepository struct {
	db     *db.DB
	logger zerolog.Logger
}

func NewEmbeddingRepository(database *db.DB) *EmbeddingRepository {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &EmbeddingRepository{
		db:     database,
		logger: logger,
	}
}

// Get fetches the embedding for one document.
func (r *EmbeddingRepository) Get(ctx context.Context, contentID string) (*models.Embedding, error) {
	query := `
		SELECT content_id, embedding, model_version, text_preview, text_length, embedded_at
		FROM embeddings WHERE content_id = ?
	`
	row := r.db.QueryRowContext(ctx, query, contentID)

	var embedding models.Embedding
	var vectorJSON, embeddedAt string

	err := row.Scan(&embedding.ContentID, &vectorJSON, &embedding.ModelVersion,
		&embedding.TextPreview, &embedding.TextLength, &embeddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmbeddingNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Str("content_id", contentID).Msg("failed to get embedding")
		return nil, err
	}

	if err := json.Unmarshal([]byte(vectorJSON), &embedding.Vector); err != nil {
		return nil, fmt.Errorf("invalid embedding payload for %s: %w", contentID, err)
	}
	if t, err := time.Parse(time.RFC3339, embeddedAt); err == nil {
		embedding.EmbeddedAt = t
	}

	return &embedding, nil
}

// Upsert writes or overwrites the embedding for one document.
func (r *EmbeddingRepository) Upsert(ctx context.Context, embedding *models.Embedding) error {
	vectorJSON, err := json.Marshal(embedding.Vector)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO embeddings (content_id, embedding, model_version, text_preview, text_length, embedded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			embedding = excluded.embedding,
			model_version = excluded.model_version,
			text_preview = excluded.text_preview,
			text_length = excluded.text_length,
			embedded_at = excluded.embedded_at
	`

	_, err = r.db.ExecContext(ctx, query, embedding.ContentID, string(vectorJSON),
		embedding.ModelVersion, embedding.TextPreview, embedding.TextLength,
		embedding.EmbeddedAt.Format(time.RFC3339))
	if err != nil {
		r.logger.Error().Err(err).Str("content_id", embedding.ContentID).Msg("failed to upsert embedding")
	}
	return err
}

// Delete removes the embedding for one document.
func (r *EmbeddingRepository) Delete(ctx context.Context, contentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM embeddings WHERE content_id = ?`, contentID)
	if err != nil {
		r.logger.Error().Err(err).Str("content_id", contentID).Msg("failed to delete embedding")
	}
	return err
}

// EmbeddedIDs returns every embedded content id with its embedding timestamp.
func (r *EmbeddingRepository) EmbeddedIDs(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_id, embedded_at FROM embeddings`)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list embedded ids")
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]time.Time)
	for rows.Next() {
		var contentID, embeddedAt string
		if err := rows.Scan(&contentID, &embeddedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, embeddedAt)
		if err != nil {
			r.logger.Error().Err(err).Str("content_id", contentID).Msg("invalid embedded_at timestamp")
			continue
		}
		ids[contentID] = t
	}

	return ids, rows.Err()
}

// StaleModelIDs returns content ids whose stored embedding was produced by a
// different model version than the one currently configured.
func (r *EmbeddingRepository) StaleModelIDs(ctx context.Context, currentModel string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT content_id FROM embeddings WHERE model_version != ?`, currentModel)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list stale embeddings")
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// OrphanedIDs returns content ids of embeddings whose owning document no
// longer exists.
func (r *EmbeddingRepository) OrphanedIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT e.content_id FROM embeddings e
		LEFT JOIN documents d ON d.id = e.content_id
		WHERE d.id IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list orphaned embeddings")
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

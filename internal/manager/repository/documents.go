package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Upsert batch size; keeps each transaction under the store's
	// throughput limits.
	defaultBatchSize = 25
	// Pause between batches.
	interBatchDelay = 200 * time.Millisecond
	// Cap on the derived searchable-text blob.
	searchableTextMax = 5000
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository is the persistence gateway for documents.
type DocumentRepository struct {
	db        *db.DB
	batchSize int
	// commitTx finalizes one batch transaction; overridable in tests to
	// exercise commit-failure accounting.
	commitTx func(tx *sql.Tx) error
	logger   zerolog.Logger
}

func NewDocumentRepository(database *db.DB) *DocumentRepository {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &DocumentRepository{
		db:        database,
		batchSize: defaultBatchSize,
		commitTx:  func(tx *sql.Tx) error { return tx.Commit() },
		logger:    logger,
	}
}

// SetBatchSize overrides the upsert batch size.
func (r *DocumentRepository) SetBatchSize(size int) {
	if size > 0 {
		r.batchSize = size
	}
}

// Upsert writes documents in batches according to the given policy. A failed
// batch commit converts that batch's provisional uploads and updates into
// errors; the run continues with the next batch.
func (r *DocumentRepository) Upsert(
	ctx context.Context,
	docs []*models.Document,
	policy interfaces.UpsertPolicy,
) (*interfaces.UpsertResult, error) {
	result := &interfaces.UpsertResult{}

	existing, err := r.existingIDs(ctx, docs)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to look up existing documents")
		return nil, err
	}

	for start := 0; start < len(docs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(docs) {
			end = len(docs)
		}

		r.upsertBatch(ctx, docs[start:end], existing, policy, result)

		if end < len(docs) {
			time.Sleep(interBatchDelay)
		}
	}

	return result, nil
}

// upsertBatch processes one batch inside a single transaction.
func (r *DocumentRepository) upsertBatch(
	ctx context.Context,
	batch []*models.Document,
	existing map[string]bool,
	policy interfaces.UpsertPolicy,
	result *interfaces.UpsertResult,
) {
	// Provisional counts for this batch; rolled into errors if the
	// commit fails.
	var uploaded, updated int

	var tx *sql.Tx
	if !policy.DryRun {
		var err error
		tx, err = r.db.BeginTx(ctx, nil)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to begin transaction")
			result.Errors += len(batch)
			return
		}
		defer func() {
			if tx != nil {
				if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
					r.logger.Error().Err(err).Msg("failed to rollback transaction")
				}
			}
		}()
	}

	for _, doc := range batch {
		switch {
		case !existing[doc.ID]:
			if !policy.DryRun {
				if err := r.insertDocument(ctx, tx, doc); err != nil {
					r.logger.Error().Err(err).Str("document_id", doc.ID).Msg("failed to insert document")
					result.Errors++
					continue
				}
			}
			uploaded++
		case policy.UpdateExisting:
			if !policy.DryRun {
				if err := r.updateDocument(ctx, tx, doc); err != nil {
					r.logger.Error().Err(err).Str("document_id", doc.ID).Msg("failed to update document")
					result.Errors++
					continue
				}
			}
			updated++
		default:
			result.Duplicates++
			result.Skipped++
		}
	}

	if !policy.DryRun {
		if err := r.commitTx(tx); err != nil {
			r.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("batch commit failed")
			// No partial credit: the whole batch counts as errors.
			result.Errors += uploaded + updated
			tx = nil
			return
		}
		tx = nil
	}

	result.Uploaded += uploaded
	result.Updated += updated
}

func (r *DocumentRepository) insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	tags, metadata, keywords, searchableText, err := deriveStoredFields(doc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (id, source, title, content, summary, url, content_hash,
		                       quality_score, content_type, tags, metadata, keywords,
		                       searchable_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query, doc.ID, string(doc.Source), doc.Title, doc.Content,
		doc.Summary, doc.URL, doc.ContentHash, doc.QualityScore, string(doc.ContentType),
		tags, metadata, keywords, searchableText,
		doc.CreatedAt.Format(time.RFC3339), nil)
	return err
}

func (r *DocumentRepository) updateDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	tags, metadata, keywords, searchableText, err := deriveStoredFields(doc)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents SET title = ?, content = ?, summary = ?, url = ?, content_hash = ?,
		quality_score = ?, content_type = ?, tags = ?, metadata = ?, keywords = ?,
		searchable_text = ?, updated_at = ?
		WHERE id = ?
	`

	_, err = tx.ExecContext(ctx, query, doc.Title, doc.Content, doc.Summary, doc.URL,
		doc.ContentHash, doc.QualityScore, string(doc.ContentType), tags, metadata,
		keywords, searchableText, time.Now().UTC().Format(time.RFC3339), doc.ID)
	return err
}

// existingIDs returns which of the given documents are already stored.
func (r *DocumentRepository) existingIDs(ctx context.Context, docs []*models.Document) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(docs) == 0 {
		return existing, nil
	}

	placeholders := make([]string, len(docs))
	args := make([]interface{}, len(docs))
	for i, doc := range docs {
		placeholders[i] = "?"
		args[i] = doc.ID
	}

	query := fmt.Sprintf(`SELECT id FROM documents WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}

	return existing, rows.Err()
}

// GetByID fetches one document by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := selectDocumentColumns + ` FROM documents WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Error().Str("document_id", id).Msg("document not found")
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Str("document_id", id).Msg("failed to get document")
		return nil, err
	}

	return doc, nil
}

// Scan returns documents matching the filter, ordered by quality score
// descending.
func (r *DocumentRepository) Scan(ctx context.Context, filter interfaces.DocumentFilter) ([]*models.Document, error) {
	query := selectDocumentColumns + ` FROM documents`
	var clauses []string
	var args []interface{}

	if filter.ContentType != "" {
		clauses = append(clauses, "content_type = ?")
		args = append(args, string(filter.ContentType))
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.MinQuality > 0 {
		clauses = append(clauses, "quality_score >= ?")
		args = append(args, filter.MinQuality)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY quality_score DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to scan documents")
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan document row")
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ExistingHashes returns all stored content hashes, for cross-run dedup.
func (r *DocumentRepository) ExistingHashes(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_hash FROM documents`)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load content hashes")
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes[hash] = true
	}

	return hashes, rows.Err()
}

// Delete removes one document by id.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("document_id", id).Msg("failed to delete document")
	}
	return err
}

// UpdateQuality rewrites a document's quality score and content type in
// place. Used by the index optimization pass.
func (r *DocumentRepository) UpdateQuality(
	ctx context.Context,
	id string,
	score float64,
	contentType models.ContentType,
) error {
	query := `UPDATE documents SET quality_score = ?, content_type = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, score, string(contentType),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		r.logger.Error().Err(err).Str("document_id", id).Msg("failed to update quality fields")
	}
	return err
}

const selectDocumentColumns = `
	SELECT id, source, title, content, summary, url, content_hash, quality_score,
	       content_type, tags, metadata, keywords, searchable_text, created_at, updated_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var source, contentType, tagsJSON, metadataJSON, createdAt string
	var summary, keywordsJSON, searchableText, updatedAt sql.NullString

	err := row.Scan(&doc.ID, &source, &doc.Title, &doc.Content, &summary, &doc.URL,
		&doc.ContentHash, &doc.QualityScore, &contentType, &tagsJSON, &metadataJSON,
		&keywordsJSON, &searchableText, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	doc.Source = models.SourceType(source)
	doc.ContentType = models.ContentType(contentType)

	if summary.Valid {
		doc.Summary = &summary.String
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("invalid tags payload for %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata payload for %s: %w", doc.ID, err)
	}
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &doc.Keywords); err != nil {
			return nil, fmt.Errorf("invalid keywords payload for %s: %w", doc.ID, err)
		}
	}
	if searchableText.Valid {
		doc.SearchableText = searchableText.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		doc.CreatedAt = t
	}
	if updatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
			doc.UpdatedAt = &t
		}
	}

	return &doc, nil
}

// deriveStoredFields builds the serialized tag/metadata payloads plus the
// auxiliary search fields written alongside every document, so the search
// path never recomputes them.
func deriveStoredFields(doc *models.Document) (tags, metadata, keywords, searchableText string, err error) {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return "", "", "", "", err
	}
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", "", "", "", err
	}
	keywordsJSON, err := json.Marshal(DeriveKeywords(doc))
	if err != nil {
		return "", "", "", "", err
	}
	return string(tagsJSON), string(metadataJSON), string(keywordsJSON), DeriveSearchableText(doc), nil
}

// DeriveKeywords extracts the lower-cased keyword set from a document's
// title, tags, content type, and source.
func DeriveKeywords(doc *models.Document) []string {
	seen := make(map[string]bool)
	var keywords []string

	add := func(word string) {
		word = strings.ToLower(strings.Trim(word, ".,;:!?()[]\"'"))
		if len(word) <= 2 || seen[word] {
			return
		}
		seen[word] = true
		keywords = append(keywords, word)
	}

	for _, word := range strings.Fields(doc.Title) {
		add(word)
	}
	for _, tag := range doc.Tags {
		add(tag)
	}
	add(string(doc.ContentType))
	add(string(doc.Source))

	return keywords
}

// DeriveSearchableText builds the length-capped lower-cased text blob used
// for keyword matching at query time.
func DeriveSearchableText(doc *models.Document) string {
	parts := []string{doc.Title, doc.Content}
	if doc.Summary != nil {
		parts = append(parts, *doc.Summary)
	}
	parts = append(parts, strings.Join(doc.Tags, " "))

	text := strings.ToLower(strings.Join(parts, " "))
	if len(text) > searchableTextMax {
		cut := searchableTextMax
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

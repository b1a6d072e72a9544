package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/testutil"

	"github.com/google/uuid"
)

func testDocument(id string) *models.Document {
	summary := "Short overview of the topic"
	return &models.Document{
		ID:           id,
		Source:       models.SourceReddit,
		Title:        "Progressive overload primer",
		Content:      "Increase load or volume gradually to keep adapting over time.",
		Summary:      &summary,
		URL:          "https://www.reddit.com/r/fitness/comments/" + id,
		ContentHash:  uuid.New().String(),
		QualityScore: 0.75,
		ContentType:  models.ContentTypeGuide,
		Tags:         []string{"fitness", "training"},
		Metadata:     map[string]interface{}{"score": 42},
		CreatedAt:    time.Now().UTC(),
	}
}

func TestDocumentRepository_Integration(t *testing.T) {
	database := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, database)

	repo := NewDocumentRepository(database)
	ctx := context.Background()

	doc := testDocument("reddit_" + uuid.New().String())

	// Insert
	result, err := repo.Upsert(ctx, []*models.Document{doc}, interfaces.UpsertPolicy{})
	if err != nil {
		t.Fatalf("Failed to upsert document: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("Expected 1 uploaded, got %d", result.Uploaded)
	}
	if !testutil.RecordExists(t, database, "documents", "id", doc.ID) {
		t.Error("Expected document row to exist after upsert")
	}

	// Read back
	stored, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if stored.Title != doc.Title {
		t.Errorf("Expected title %q, got %q", doc.Title, stored.Title)
	}
	if stored.Summary == nil || *stored.Summary != *doc.Summary {
		t.Error("Expected summary to round-trip")
	}
	if len(stored.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", stored.Tags)
	}

	// Duplicate id with skip policy
	result, err = repo.Upsert(ctx, []*models.Document{doc}, interfaces.UpsertPolicy{SkipDuplicates: true})
	if err != nil {
		t.Fatalf("Failed to upsert duplicate: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Expected duplicate skipped, got %+v", result)
	}

	// Duplicate id with update policy
	doc.Title = "Progressive overload primer, revised"
	result, err = repo.Upsert(ctx, []*models.Document{doc}, interfaces.UpsertPolicy{UpdateExisting: true})
	if err != nil {
		t.Fatalf("Failed to update existing document: %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Expected 1 updated, got %+v", result)
	}
	stored, err = repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to get updated document: %v", err)
	}
	if stored.Title != doc.Title {
		t.Errorf("Expected updated title, got %q", stored.Title)
	}
	if stored.UpdatedAt == nil {
		t.Error("Expected updated_at to be set after update")
	}

	// Hash visibility
	hashes, err := repo.ExistingHashes(ctx)
	if err != nil {
		t.Fatalf("Failed to list hashes: %v", err)
	}
	if !hashes[doc.ContentHash] {
		t.Error("Expected stored content hash to be listed")
	}

	// Quality update
	if err := repo.UpdateQuality(ctx, doc.ID, 0.9, models.ContentTypeScience); err != nil {
		t.Fatalf("Failed to update quality: %v", err)
	}
	stored, err = repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to get rescored document: %v", err)
	}
	if stored.QualityScore != 0.9 || stored.ContentType != models.ContentTypeScience {
		t.Errorf("Expected quality fields updated, got score=%f type=%s",
			stored.QualityScore, stored.ContentType)
	}

	// Filtered scan
	docs, err := repo.Scan(ctx, interfaces.DocumentFilter{
		Source:     models.SourceReddit,
		MinQuality: 0.8,
	})
	if err != nil {
		t.Fatalf("Failed to scan documents: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected 1 document matching filter, got %d", len(docs))
	}

	// Delete
	if err := repo.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Failed to delete document: %v", err)
	}
	if _, err := repo.GetByID(ctx, doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound after delete, got %v", err)
	}
}

func TestDocumentRepository_DryRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, database)

	repo := NewDocumentRepository(database)
	ctx := context.Background()

	doc := testDocument("reddit_" + uuid.New().String())

	result, err := repo.Upsert(ctx, []*models.Document{doc}, interfaces.UpsertPolicy{DryRun: true})
	if err != nil {
		t.Fatalf("Failed dry-run upsert: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("Expected dry run to count 1 upload, got %d", result.Uploaded)
	}
	if testutil.RecordExists(t, database, "documents", "id", doc.ID) {
		t.Error("Expected dry run to write nothing")
	}
}

func TestEmbeddingRepository_Integration(t *testing.T) {
	database := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, database)

	docs := NewDocumentRepository(database)
	embeddings := NewEmbeddingRepository(database)
	ctx := context.Background()

	doc := testDocument("reddit_" + uuid.New().String())
	if _, err := docs.Upsert(ctx, []*models.Document{doc}, interfaces.UpsertPolicy{}); err != nil {
		t.Fatalf("Failed to upsert document: %v", err)
	}

	embedding := &models.Embedding{
		ContentID:    doc.ID,
		Vector:       []float32{0.1, 0.2, 0.3},
		ModelVersion: "text-embedding-3-small",
		TextPreview:  "Progressive overload primer",
		TextLength:   120,
		EmbeddedAt:   time.Now().UTC(),
	}

	if err := embeddings.Upsert(ctx, embedding); err != nil {
		t.Fatalf("Failed to upsert embedding: %v", err)
	}

	stored, err := embeddings.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Failed to get embedding: %v", err)
	}
	if len(stored.Vector) != 3 {
		t.Errorf("Expected 3-element vector, got %d", len(stored.Vector))
	}
	if stored.ModelVersion != embedding.ModelVersion {
		t.Errorf("Expected model version %s, got %s", embedding.ModelVersion, stored.ModelVersion)
	}

	// Conflict on content id replaces the row.
	embedding.Vector = []float32{0.4, 0.5, 0.6, 0.7}
	embedding.ModelVersion = "text-embedding-3-large"
	if err := embeddings.Upsert(ctx, embedding); err != nil {
		t.Fatalf("Failed to re-upsert embedding: %v", err)
	}
	if testutil.GetRecordCount(t, database, "embeddings") != 1 {
		t.Error("Expected one embedding row per document")
	}

	ids, err := embeddings.EmbeddedIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to list embedded ids: %v", err)
	}
	if _, ok := ids[doc.ID]; !ok {
		t.Error("Expected document id in embedded set")
	}

	stale, err := embeddings.StaleModelIDs(ctx, "text-embedding-3-small")
	if err != nil {
		t.Fatalf("Failed to list stale embeddings: %v", err)
	}
	if len(stale) != 1 || stale[0] != doc.ID {
		t.Errorf("Expected the re-embedded row to be stale against the old model, got %v", stale)
	}

	// Orphan: remove the owning document, keep the embedding.
	if err := docs.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Failed to delete document: %v", err)
	}
	orphans, err := embeddings.OrphanedIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to list orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != doc.ID {
		t.Errorf("Expected one orphaned embedding, got %v", orphans)
	}

	if err := embeddings.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Failed to delete embedding: %v", err)
	}
	if _, err := embeddings.Get(ctx, doc.ID); !errors.Is(err, ErrEmbeddingNotFound) {
		t.Errorf("Expected ErrEmbeddingNotFound after delete, got %v", err)
	}
}

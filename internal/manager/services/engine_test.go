package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
)

var errMockEmbedFailure = errors.New("mock embedding failure")

// mockEmbedder returns a fixed vector, failing on content that contains
// failOn when it is set.
type mockEmbedder struct {
	failOn string

	mu    sync.Mutex
	calls int
}

func (m *mockEmbedder) GenerateEmbedding(_ context.Context, content string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.failOn != "" && strings.Contains(content, m.failOn) {
		return nil, errMockEmbedFailure
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) GetModelName() string { return "mock-model" }
func (m *mockEmbedder) GetDimension() int    { return 3 }
func (m *mockEmbedder) GetMaxTokens() int    { return 8191 }

// mockDocumentStore serves a fixed document slice and records quality updates.
type mockDocumentStore struct {
	docs []*models.Document

	mu             sync.Mutex
	qualityUpdates map[string]float64
}

func newMockDocumentStore(docs []*models.Document) *mockDocumentStore {
	return &mockDocumentStore{
		docs:           docs,
		qualityUpdates: make(map[string]float64),
	}
}

func (m *mockDocumentStore) GetByID(_ context.Context, id string) (*models.Document, error) {
	for _, doc := range m.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, errors.New("document not found")
}

func (m *mockDocumentStore) Upsert(
	_ context.Context,
	_ []*models.Document,
	_ interfaces.UpsertPolicy,
) (*interfaces.UpsertResult, error) {
	return &interfaces.UpsertResult{}, nil
}

func (m *mockDocumentStore) Scan(_ context.Context, _ interfaces.DocumentFilter) ([]*models.Document, error) {
	return m.docs, nil
}

func (m *mockDocumentStore) ExistingHashes(_ context.Context) (map[string]bool, error) {
	hashes := make(map[string]bool)
	for _, doc := range m.docs {
		hashes[doc.ContentHash] = true
	}
	return hashes, nil
}

func (m *mockDocumentStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockDocumentStore) UpdateQuality(
	_ context.Context,
	id string,
	score float64,
	_ models.ContentType,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualityUpdates[id] = score
	return nil
}

// mockEmbeddingStore keeps embeddings in memory, keyed by content id.
type mockEmbeddingStore struct {
	mu         sync.Mutex
	embeddings map[string]*models.Embedding
	upserts    int
	orphans    []string
}

func newMockEmbeddingStore() *mockEmbeddingStore {
	return &mockEmbeddingStore{embeddings: make(map[string]*models.Embedding)}
}

func (m *mockEmbeddingStore) seed(id, model string, embeddedAt time.Time) {
	m.embeddings[id] = &models.Embedding{
		ContentID:    id,
		Vector:       []float32{1, 0, 0},
		ModelVersion: model,
		EmbeddedAt:   embeddedAt,
	}
}

func (m *mockEmbeddingStore) Get(_ context.Context, contentID string) (*models.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	embedding, ok := m.embeddings[contentID]
	if !ok {
		return nil, errors.New("embedding not found")
	}
	return embedding, nil
}

func (m *mockEmbeddingStore) Upsert(_ context.Context, embedding *models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[embedding.ContentID] = embedding
	m.upserts++
	return nil
}

func (m *mockEmbeddingStore) Delete(_ context.Context, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, contentID)
	return nil
}

func (m *mockEmbeddingStore) EmbeddedIDs(_ context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]time.Time, len(m.embeddings))
	for id, embedding := range m.embeddings {
		ids[id] = embedding.EmbeddedAt
	}
	return ids, nil
}

func (m *mockEmbeddingStore) StaleModelIDs(_ context.Context, currentModel string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, embedding := range m.embeddings {
		if embedding.ModelVersion != currentModel {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockEmbeddingStore) OrphanedIDs(_ context.Context) ([]string, error) {
	return m.orphans, nil
}

func makeTestDocs(count int, qualityScore float64) []*models.Document {
	docs := make([]*models.Document, count)
	for i := range docs {
		docs[i] = &models.Document{
			ID:           fmt.Sprintf("doc_%03d", i),
			Source:       models.SourceReddit,
			Title:        fmt.Sprintf("Training article %d", i),
			Content:      "A practical overview of progressive overload for strength training.",
			ContentHash:  fmt.Sprintf("hash_%03d", i),
			QualityScore: qualityScore,
			ContentType:  models.ContentTypeGuide,
			CreatedAt:    time.Now().UTC(),
		}
	}
	return docs
}

func newTestEngine(t *testing.T, docs *mockDocumentStore, embeddings *mockEmbeddingStore, embedder *mockEmbedder) *BatchEngine {
	t.Helper()
	engine, err := NewBatchEngine(docs, embeddings, embedder)
	if err != nil {
		t.Fatalf("Expected engine to be created, got error: %v", err)
	}
	engine.SetBatchDelay(0)
	return engine
}

func TestNewBatchEngine_NilEmbedder(t *testing.T) {
	_, err := NewBatchEngine(newMockDocumentStore(nil), newMockEmbeddingStore(), nil)
	if !errors.Is(err, ErrNoEmbedderConfigured) {
		t.Errorf("Expected ErrNoEmbedderConfigured, got %v", err)
	}
}

func TestBatchEngine_UnknownMode(t *testing.T) {
	engine := newTestEngine(t, newMockDocumentStore(nil), newMockEmbeddingStore(), &mockEmbedder{})

	_, err := engine.Run(context.Background(), BatchOptions{Mode: Mode("bogus")})
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestBatchEngine_MissingModeWithItemCap(t *testing.T) {
	docs := makeTestDocs(15, 0.7)
	embeddings := newMockEmbeddingStore()
	// Three documents already embedded with the current model.
	for _, id := range []string{"doc_001", "doc_005", "doc_009"} {
		embeddings.seed(id, "mock-model", time.Now().UTC())
	}

	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, &mockEmbedder{})

	result, err := engine.Run(context.Background(), BatchOptions{
		Mode:     ModeMissing,
		MaxItems: 10,
	})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Total != 10 {
		t.Errorf("Expected item cap to limit total to 10, got %d", result.Total)
	}
	if result.Successful != 10 {
		t.Errorf("Expected 10 successful items, got %d", result.Successful)
	}
	if result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("Expected no failures or skips, got failed=%d skipped=%d", result.Failed, result.Skipped)
	}

	// 3 pre-existing embeddings plus 10 new ones.
	if len(embeddings.embeddings) != 13 {
		t.Errorf("Expected 13 embeddings in store, got %d", len(embeddings.embeddings))
	}
	for _, embedding := range embeddings.embeddings {
		if embedding.ModelVersion != "mock-model" {
			t.Errorf("Expected model version mock-model, got %s", embedding.ModelVersion)
		}
	}
}

func TestBatchEngine_OneFailureDoesNotAbortRun(t *testing.T) {
	docs := makeTestDocs(25, 0.7)
	// Item 13 carries the failure marker in its title, which flows into the
	// embedding input text.
	docs[12].Title = "poisoned article"

	embeddings := newMockEmbeddingStore()
	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, &mockEmbedder{failOn: "poisoned"})

	result, err := engine.Run(context.Background(), BatchOptions{
		Mode:      ModeMissing,
		BatchSize: 25,
	})
	if err != nil {
		t.Fatalf("Expected run to complete despite item failure, got %v", err)
	}

	if result.Total != 25 {
		t.Errorf("Expected 25 total items, got %d", result.Total)
	}
	if result.Successful != 24 {
		t.Errorf("Expected 24 successful items, got %d", result.Successful)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failed item, got %d", result.Failed)
	}
	if len(result.ErrorList) != 1 {
		t.Fatalf("Expected 1 error detail, got %d", len(result.ErrorList))
	}
	if result.ErrorList[0].ItemID != "doc_012" {
		t.Errorf("Expected error detail for doc_012, got %s", result.ErrorList[0].ItemID)
	}
	if !strings.Contains(result.ErrorList[0].Message, "mock embedding failure") {
		t.Errorf("Expected error message to carry the cause, got %q", result.ErrorList[0].Message)
	}
	if len(embeddings.embeddings) != 24 {
		t.Errorf("Expected 24 stored embeddings, got %d", len(embeddings.embeddings))
	}
}

func TestBatchEngine_ErrorDetailsBounded(t *testing.T) {
	docs := makeTestDocs(15, 0.7)
	for _, doc := range docs {
		doc.Title = "poisoned article"
	}

	engine := newTestEngine(t, newMockDocumentStore(docs), newMockEmbeddingStore(), &mockEmbedder{failOn: "poisoned"})

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeMissing})
	if err != nil {
		t.Fatalf("Expected run to complete, got %v", err)
	}

	if result.Failed != 15 {
		t.Errorf("Expected 15 failed items, got %d", result.Failed)
	}
	if len(result.ErrorList) != maxErrorDetails {
		t.Errorf("Expected error details capped at %d, got %d", maxErrorDetails, len(result.ErrorList))
	}
}

func TestBatchEngine_QualityHistogram(t *testing.T) {
	docs := []*models.Document{}
	docs = append(docs, makeTestDocs(3, 0.9)...)
	for i, doc := range makeTestDocs(2, 0.7) {
		doc.ID = fmt.Sprintf("medium_%d", i)
		docs = append(docs, doc)
	}
	for i, doc := range makeTestDocs(4, 0.4) {
		doc.ID = fmt.Sprintf("low_%d", i)
		docs = append(docs, doc)
	}

	engine := newTestEngine(t, newMockDocumentStore(docs), newMockEmbeddingStore(), &mockEmbedder{})

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeMissing})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.HighQ != 3 {
		t.Errorf("Expected 3 high quality items, got %d", result.HighQ)
	}
	if result.MediumQ != 2 {
		t.Errorf("Expected 2 medium quality items, got %d", result.MediumQ)
	}
	if result.LowQ != 4 {
		t.Errorf("Expected 4 low quality items, got %d", result.LowQ)
	}
}

func TestBatchEngine_AllModeSkipsEmbeddedWithoutForce(t *testing.T) {
	docs := makeTestDocs(4, 0.7)
	embeddings := newMockEmbeddingStore()
	embeddings.seed("doc_000", "mock-model", time.Now().UTC())
	embeddings.seed("doc_002", "mock-model", time.Now().UTC())

	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, &mockEmbedder{})

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeAll})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Skipped != 2 {
		t.Errorf("Expected 2 skipped items, got %d", result.Skipped)
	}
	if result.Successful != 2 {
		t.Errorf("Expected 2 successful items, got %d", result.Successful)
	}
}

func TestBatchEngine_AllModeForceReembedsEverything(t *testing.T) {
	docs := makeTestDocs(4, 0.7)
	embeddings := newMockEmbeddingStore()
	embeddings.seed("doc_000", "old-model", time.Now().UTC())

	embedder := &mockEmbedder{}
	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, embedder)

	result, err := engine.Run(context.Background(), BatchOptions{
		Mode:           ModeAll,
		ForceOverwrite: true,
	})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Successful != 4 {
		t.Errorf("Expected 4 successful items, got %d", result.Successful)
	}
	if embeddings.embeddings["doc_000"].ModelVersion != "mock-model" {
		t.Errorf("Expected force overwrite to replace old model version, got %s",
			embeddings.embeddings["doc_000"].ModelVersion)
	}
}

func TestBatchEngine_OutdatedModeSelectsStaleOnly(t *testing.T) {
	docs := makeTestDocs(4, 0.7)
	embeddings := newMockEmbeddingStore()
	embeddings.seed("doc_000", "mock-model", time.Now().UTC())                       // fresh
	embeddings.seed("doc_001", "mock-model", time.Now().Add(-40*24*time.Hour).UTC()) // old
	embeddings.seed("doc_002", "old-model", time.Now().UTC())                        // stale model
	// doc_003 has no embedding and is out of scope for this mode.

	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, &mockEmbedder{})

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeOutdated})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Total != 2 {
		t.Errorf("Expected 2 outdated candidates, got %d", result.Total)
	}
	if result.Successful != 2 {
		t.Errorf("Expected 2 successful items, got %d", result.Successful)
	}
	if embeddings.embeddings["doc_002"].ModelVersion != "mock-model" {
		t.Errorf("Expected stale model embedding to be refreshed, got %s",
			embeddings.embeddings["doc_002"].ModelVersion)
	}
}

func TestBatchEngine_QualityCheckRescoresWithoutReembedding(t *testing.T) {
	docs := makeTestDocs(2, 0.99) // stored scores deliberately off
	embeddings := newMockEmbeddingStore()
	embeddings.seed("doc_000", "mock-model", time.Now().UTC())
	embeddings.seed("doc_001", "mock-model", time.Now().UTC())

	store := newMockDocumentStore(docs)
	engine := newTestEngine(t, store, embeddings, &mockEmbedder{})

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeQualityCheck})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Successful != 2 {
		t.Errorf("Expected 2 successful items, got %d", result.Successful)
	}
	if len(store.qualityUpdates) != 2 {
		t.Errorf("Expected both documents re-scored, got %d updates", len(store.qualityUpdates))
	}
	if embeddings.upserts != 0 {
		t.Errorf("Expected no re-embedding without force, got %d upserts", embeddings.upserts)
	}
}

func TestBatchEngine_EmptySelection(t *testing.T) {
	docs := makeTestDocs(3, 0.7)
	embeddings := newMockEmbeddingStore()
	for _, doc := range docs {
		embeddings.seed(doc.ID, "mock-model", time.Now().UTC())
	}

	embedder := &mockEmbedder{}
	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, embedder)

	result, err := engine.Run(context.Background(), BatchOptions{Mode: ModeMissing})
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if result.Total != 0 {
		t.Errorf("Expected empty selection, got total=%d", result.Total)
	}
	if embedder.calls != 0 {
		t.Errorf("Expected no embedder calls, got %d", embedder.calls)
	}
}

func TestBatchEngine_MissingCount(t *testing.T) {
	docs := makeTestDocs(5, 0.7)
	embeddings := newMockEmbeddingStore()
	embeddings.seed("doc_001", "mock-model", time.Now().UTC())
	embeddings.seed("doc_003", "mock-model", time.Now().UTC())

	engine := newTestEngine(t, newMockDocumentStore(docs), embeddings, &mockEmbedder{})

	missing, err := engine.MissingCount(context.Background())
	if err != nil {
		t.Fatalf("Expected count to succeed, got %v", err)
	}
	if missing != 3 {
		t.Errorf("Expected 3 missing embeddings, got %d", missing)
	}
}

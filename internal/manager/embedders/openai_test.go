package embedders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestNewOpenAIEmbedder(t *testing.T) {
	// Save original env var
	originalAPIKey := os.Getenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", originalAPIKey)

	tests := []struct {
		name        string
		model       string
		apiKey      string
		expectError bool
		expectedDim int
		expectedMax int
		description string
	}{
		{
			name:        "valid text-embedding-3-small",
			model:       "text-embedding-3-small",
			apiKey:      "test-api-key",
			expectError: false,
			expectedDim: 1536,
			expectedMax: 8191,
			description: "should create embedder for text-embedding-3-small",
		},
		{
			name:        "valid text-embedding-3-large",
			model:       "text-embedding-3-large",
			apiKey:      "test-api-key",
			expectError: false,
			expectedDim: 3072,
			expectedMax: 8191,
			description: "should create embedder for text-embedding-3-large",
		},
		{
			name:        "valid text-embedding-ada-002",
			model:       "text-embedding-ada-002",
			apiKey:      "test-api-key",
			expectError: false,
			expectedDim: 1536,
			expectedMax: 8191,
			description: "should create embedder for text-embedding-ada-002",
		},
		{
			name:        "unsupported model",
			model:       "unsupported-model",
			apiKey:      "test-api-key",
			expectError: true,
			description: "should return error for unsupported model",
		},
		{
			name:        "missing api key",
			model:       "text-embedding-3-small",
			apiKey:      "",
			expectError: true,
			description: "should return error when API key is missing",
		},
		{
			name:        "empty model",
			model:       "",
			apiKey:      "test-api-key",
			expectError: true,
			description: "should return error for empty model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("OPENAI_API_KEY", tt.apiKey)

			embedder, err := NewOpenAIEmbedder(tt.model)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none for test: %s", tt.description)
				return
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error for test %s: %v", tt.description, err)
				return
			}
			if tt.expectError {
				return
			}

			if embedder == nil {
				t.Errorf("Expected non-nil embedder for test: %s", tt.description)
				return
			}

			if embedder.GetModelName() != tt.model {
				t.Errorf("Expected model %s, got %s for test: %s", tt.model, embedder.GetModelName(), tt.description)
			}
			if embedder.GetDimension() != tt.expectedDim {
				t.Errorf(
					"Expected dimension %d, got %d for test: %s",
					tt.expectedDim,
					embedder.GetDimension(),
					tt.description,
				)
			}
			if embedder.GetMaxTokens() != tt.expectedMax {
				t.Errorf(
					"Expected max tokens %d, got %d for test: %s",
					tt.expectedMax,
					embedder.GetMaxTokens(),
					tt.description,
				)
			}
		})
	}
}

// newEmbeddingServer serves a canned embeddings response, recording the
// received request body.
func newEmbeddingServer(t *testing.T, vector []float32, status int, captured *OpenAIEmbeddingRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("Failed to decode request body: %v", err)
			}
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		response := OpenAIEmbeddingResponse{Model: "text-embedding-3-small"}
		if vector != nil {
			response.Data = append(response.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
				Object    string    `json:"object"`
			}{Embedding: vector, Object: "embedding"})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("Failed to encode response: %v", err)
		}
	}))
}

func TestOpenAIEmbedder_GenerateEmbedding(t *testing.T) {
	originalAPIKey := os.Getenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", originalAPIKey)
	os.Setenv("OPENAI_API_KEY", "test-api-key")

	var captured OpenAIEmbeddingRequest
	server := newEmbeddingServer(t, []float32{0.1, 0.2, 0.3}, http.StatusOK, &captured)
	defer server.Close()

	embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedding, err := embedder.GenerateEmbedding(ctx, "Line one\nline two")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(embedding) != 3 {
		t.Errorf("Expected 3-element embedding, got %d", len(embedding))
	}

	// Newlines are flattened before the request goes out.
	if captured.Input != "Line one line two" {
		t.Errorf("Expected cleaned input, got %q", captured.Input)
	}
	if captured.Model != "text-embedding-3-small" {
		t.Errorf("Expected model in request, got %q", captured.Model)
	}
	if captured.EncodingFormat != "float" {
		t.Errorf("Expected float encoding format, got %q", captured.EncodingFormat)
	}
}

func TestOpenAIEmbedder_GenerateEmbedding_ErrorHandling(t *testing.T) {
	originalAPIKey := os.Getenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", originalAPIKey)
	os.Setenv("OPENAI_API_KEY", "test-api-key")

	tests := []struct {
		name        string
		content     string
		vector      []float32
		status      int
		expectedErr error
		description string
	}{
		{
			name:        "empty content",
			content:     "",
			vector:      []float32{0.1},
			status:      http.StatusOK,
			expectedErr: ErrContentEmpty,
			description: "empty content is rejected before the request",
		},
		{
			name:        "api failure status",
			content:     "test content",
			status:      http.StatusUnauthorized,
			expectedErr: ErrAPIRequestFailed,
			description: "non-200 status surfaces as request failure",
		},
		{
			name:        "empty data array",
			content:     "test content",
			vector:      nil,
			status:      http.StatusOK,
			expectedErr: ErrNoEmbeddingData,
			description: "response without data carries no vector",
		},
		{
			name:        "empty embedding vector",
			content:     "test content",
			vector:      []float32{},
			status:      http.StatusOK,
			expectedErr: ErrNoEmbeddingData,
			description: "response with a zero-length vector is invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newEmbeddingServer(t, tt.vector, tt.status, nil)
			defer server.Close()

			embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
			if err != nil {
				t.Fatalf("Failed to create embedder: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err = embedder.GenerateEmbedding(ctx, tt.content)
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("Expected %v, got %v for test: %s", tt.expectedErr, err, tt.description)
			}
		})
	}
}

func TestOpenAIEmbedder_ContextCancellation(t *testing.T) {
	originalAPIKey := os.Getenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", originalAPIKey)
	os.Setenv("OPENAI_API_KEY", "test-api-key")

	server := newEmbeddingServer(t, []float32{0.1}, http.StatusOK, nil)
	defer server.Close()

	embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err = embedder.GenerateEmbedding(ctx, "test content")
	if err == nil {
		t.Error("Expected error due to cancelled context but got none")
	}
}

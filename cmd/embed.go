package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/embedders"
	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/internal/manager/services"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var ErrUnsupportedEmbeddingModel = errors.New("unsupported embedding model")

var (
	embedMode       string
	embedModel      string
	embedBatchSize  int
	embedMaxItems   int
	embedForce      bool
	embedType       string
	embedSource     string
	embedMinQuality float64
	embedTimeout    time.Duration
)

// embedCmd represents the embed command.
var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Generate embeddings for stored documents",
	Long: `Run a batch embedding pass over the document store.

Modes:
  missing        documents without an embedding
  outdated       embeddings older than 30 days or from a different model
  quality_check  re-score all embedded documents (re-embed with --force)
  all            every document, typically with --force

Examples:
  fitkb-go embed --mode missing
  fitkb-go embed --mode outdated --batch-size 10
  fitkb-go embed --mode all --force --max-items 500`,
	Run: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)

	embedCmd.Flags().StringVarP(&embedMode, "mode", "m", "missing",
		"Selection mode (missing, outdated, quality_check, all)")
	embedCmd.Flags().StringVar(&embedModel, "model", "text-embedding-3-small", "Embedding model to use")
	embedCmd.Flags().IntVarP(&embedBatchSize, "batch-size", "b", 25, "Items per batch")
	embedCmd.Flags().IntVar(&embedMaxItems, "max-items", 0, "Cap on items processed (0 = no cap)")
	embedCmd.Flags().BoolVarP(&embedForce, "force", "f", false, "Overwrite existing embeddings")
	embedCmd.Flags().StringVar(&embedType, "type", "", "Filter by content type")
	embedCmd.Flags().StringVar(&embedSource, "source", "", "Filter by source")
	embedCmd.Flags().Float64Var(&embedMinQuality, "min-quality", 0, "Filter by minimum quality score")
	embedCmd.Flags().DurationVar(&embedTimeout, "timeout", 30*time.Minute, "Timeout for the entire run")
}

func runEmbed(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
	defer cancel()

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	embedder, err := newEmbedder(embedModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create embedder")
	}

	engine, err := services.NewBatchEngine(
		repository.NewDocumentRepository(database),
		repository.NewEmbeddingRepository(database),
		embedder,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create batch engine")
	}

	result, err := engine.Run(ctx, services.BatchOptions{
		Mode: services.Mode(embedMode),
		Filter: interfaces.DocumentFilter{
			ContentType: models.ContentType(embedType),
			Source:      models.SourceType(embedSource),
			MinQuality:  embedMinQuality,
		},
		BatchSize:      embedBatchSize,
		MaxItems:       embedMaxItems,
		ForceOverwrite: embedForce,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Batch embedding failed")
	}

	jsonOutput, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to marshal JSON")
	}
	logger.Info().RawJSON("result", jsonOutput).Msg("Batch embedding completed")
}

// newEmbedder picks the embedder implementation from the model name.
func newEmbedder(model string) (interfaces.Embedder, error) {
	switch model {
	case "text-embedding-3-small", "text-embedding-3-large", "text-embedding-ada-002":
		return embedders.NewOpenAIEmbedder(model)
	case "togethercomputer/m2-bert-80M-8k-retrieval", "togethercomputer/m2-bert-80M-32k-retrieval":
		return embedders.NewTogetherAIEmbedder(model)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEmbeddingModel, model)
	}
}

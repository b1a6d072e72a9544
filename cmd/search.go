package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/internal/manager/search"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	searchLimit      int
	searchThreshold  float64
	searchHybrid     bool
	searchModel      string
	searchType       string
	searchSource     string
	searchMinQuality float64
)

// searchCmd represents the search command.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge base",
	Long: `Semantic search over the knowledge base, optionally blended with
keyword matching.

Examples:
  fitkb-go search "how to improve deadlift form"
  fitkb-go search "protein timing" --hybrid --limit 5
  fitkb-go search "beginner routine" --type routine --min-quality 0.7`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "Maximum results to return")
	searchCmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0.3, "Minimum similarity score")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", false, "Blend semantic and keyword scores")
	searchCmd.Flags().StringVar(&searchModel, "model", "text-embedding-3-small", "Embedding model to use")
	searchCmd.Flags().StringVar(&searchType, "type", "", "Filter by content type")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "Filter by source")
	searchCmd.Flags().Float64Var(&searchMinQuality, "min-quality", 0, "Filter by minimum quality score")
}

func runSearch(_ *cobra.Command, args []string) {
	logger := util.NewLogger(zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	embedder, err := newEmbedder(searchModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create embedder")
	}

	engine, err := search.NewEngine(
		repository.NewDocumentRepository(database),
		repository.NewEmbeddingRepository(database),
		embedder,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create search engine")
	}

	results, err := engine.Search(ctx, args[0], search.Options{
		Limit:       searchLimit,
		Threshold:   searchThreshold,
		Hybrid:      searchHybrid,
		ContentType: models.ContentType(searchType),
		Source:      models.SourceType(searchSource),
		MinQuality:  searchMinQuality,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Search failed")
	}

	if len(results) == 0 {
		logger.Info().Msg("No results found")
		return
	}

	jsonOutput, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to marshal JSON")
	}
	logger.Info().RawJSON("results", jsonOutput).Msg("Search completed")
}

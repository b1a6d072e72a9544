package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/internal/manager/services"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var optimizeTimeout time.Duration

// optimizeCmd represents the optimize command.
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run index maintenance",
	Long: `Recompute quality scores and content types over the stored corpus
and remove embeddings whose owning document no longer exists.`,
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.InfoLevel)

		ctx, cancel := context.WithTimeout(context.Background(), optimizeTimeout)
		defer cancel()

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		optimizer := services.NewOptimizer(
			repository.NewDocumentRepository(database),
			repository.NewEmbeddingRepository(database),
		)

		result, err := optimizer.Run(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Optimization failed")
		}

		jsonOutput, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().RawJSON("result", jsonOutput).Msg("Optimization completed")
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
	optimizeCmd.Flags().DurationVar(&optimizeTimeout, "timeout", 10*time.Minute, "Timeout for the entire run")
}

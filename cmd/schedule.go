package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/internal/manager/services"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var scheduleModel string

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the nightly embedding scheduler",
	Long: `Start a long-running process that embeds missing documents every
night at 03:00. Skips entirely when nothing is missing.`,
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.InfoLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		embedder, err := newEmbedder(scheduleModel)
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

		scheduler := services.NewScheduler(engine)
		if err := scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info().Msg("Shutting down scheduler")
		scheduler.Stop()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleModel, "model", "text-embedding-3-small", "Embedding model to use")
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	documentsType       string
	documentsSource     string
	documentsMinQuality float64
	documentsLimit      int
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage documents",
	Long:  `Manage documents in the knowledge base - list, get, and delete.`,
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		repo := repository.NewDocumentRepository(database)
		docs, err := repo.Scan(ctx, interfaces.DocumentFilter{
			ContentType: models.ContentType(documentsType),
			Source:      models.SourceType(documentsSource),
			MinQuality:  documentsMinQuality,
			Limit:       documentsLimit,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list documents")
		}

		if len(docs) == 0 {
			logger.Info().Msg("No documents found")
			return
		}

		jsonOutput, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().RawJSON("documents", jsonOutput).Msg("Documents retrieved successfully")
	},
}

var documentsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get a document by ID",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		logger := util.NewLogger(zerolog.InfoLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer func(database *db.DB) {
			if err := database.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			}
		}(database)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		repo := repository.NewDocumentRepository(database)
		doc, err := repo.GetByID(ctx, args[0])
		if errors.Is(err, repository.ErrDocumentNotFound) {
			logger.Error().Str("document_id", args[0]).Msg("Document not found")
			os.Exit(1)
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to get document")
		}

		jsonOutput, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().RawJSON("document", jsonOutput).Str("document_id", args[0]).Msg("Document retrieved successfully")
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a document and its embedding",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		logger := util.NewLogger(zerolog.InfoLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		// Embedding first so a failure never leaves an orphan pointing at
		// a deleted document.
		if err := repository.NewEmbeddingRepository(database).Delete(ctx, args[0]); err != nil {
			logger.Fatal().Err(err).Msg("Failed to delete embedding")
		}
		if err := repository.NewDocumentRepository(database).Delete(ctx, args[0]); err != nil {
			logger.Fatal().Err(err).Msg("Failed to delete document")
		}

		logger.Info().Str("document_id", args[0]).Msg("Document deleted")
	},
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsGetCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)

	documentsListCmd.Flags().StringVar(&documentsType, "type", "", "Filter by content type")
	documentsListCmd.Flags().StringVar(&documentsSource, "source", "", "Filter by source")
	documentsListCmd.Flags().Float64Var(&documentsMinQuality, "min-quality", 0, "Filter by minimum quality score")
	documentsListCmd.Flags().IntVar(&documentsLimit, "limit", 0, "Maximum documents to return (0 = all)")
}

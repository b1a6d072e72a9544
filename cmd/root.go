package cmd

import (
	"github.com/code-sleuth/fitkb-go/pkg/util"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fitkb-go",
	Short: "A CLI tool for managing a fitness knowledge base",
	Long: `fitkb-go ingests fitness content from Reddit and Wikipedia, scores it,
generates embeddings, and serves semantic search over the result.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(zerolog.ErrorLevel)
		logger.Fatal().Err(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	logger := util.NewLogger(zerolog.ErrorLevel)
	err := godotenv.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("No .env file found")
	}
}

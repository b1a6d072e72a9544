package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/ingest"
	"github.com/code-sleuth/fitkb-go/internal/manager/interfaces"
	"github.com/code-sleuth/fitkb-go/internal/manager/repository"
	"github.com/code-sleuth/fitkb-go/internal/manager/sources"
	"github.com/code-sleuth/fitkb-go/pkg/db"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var ErrUnknownSource = errors.New("unknown source")

var (
	ingestSources     []string
	ingestSubreddits  []string
	ingestSearchTerms []string
	ingestLimit       int
	ingestTimeWindow  string
	ingestDryRun      bool
	ingestUpdate      bool
	ingestTimeout     time.Duration
)

// ingestCmd represents the ingest command.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content from external sources",
	Long: `Ingest content from Reddit and Wikipedia: fetch, normalize, dedup,
score, classify, and store.

Examples:
  # Ingest the default subreddits and wikipedia topics
  fitkb-go ingest

  # Ingest specific subreddits only
  fitkb-go ingest --sources reddit --subreddits fitness,weightroom --limit 50

  # Preview an ingestion without writing anything
  fitkb-go ingest --dry-run`,
	Run: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringSliceVarP(&ingestSources, "sources", "s", []string{"reddit", "wikipedia"},
		"Sources to ingest from (reddit, wikipedia)")
	ingestCmd.Flags().StringSliceVar(&ingestSubreddits, "subreddits", nil,
		"Subreddits to fetch (defaults to the curated fitness set)")
	ingestCmd.Flags().StringSliceVar(&ingestSearchTerms, "terms", nil,
		"Wikipedia search terms (defaults to the fitness topic set)")
	ingestCmd.Flags().IntVarP(&ingestLimit, "limit", "l", 100, "Maximum items to fetch per source")
	ingestCmd.Flags().StringVar(&ingestTimeWindow, "window", "month",
		"Reddit listing time window (hour, day, week, month, year, all)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Report what would be written without writing")
	ingestCmd.Flags().BoolVar(&ingestUpdate, "update-existing", false, "Overwrite documents that already exist")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "Timeout for the entire run")
}

func runIngest(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	srcs, err := buildSources()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build sources")
	}

	run := ingest.NewRun(repository.NewDocumentRepository(database), srcs...)
	run.SetLimit(ingestLimit)
	run.SetPolicy(interfaces.UpsertPolicy{
		SkipDuplicates: true,
		UpdateExisting: ingestUpdate,
		DryRun:         ingestDryRun,
	})

	result, err := run.Execute(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ingestion failed")
	}

	jsonOutput, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to marshal JSON")
	}
	logger.Info().RawJSON("result", jsonOutput).Msg("Ingestion completed")
}

func buildSources() ([]interfaces.Source, error) {
	var srcs []interfaces.Source
	for _, name := range ingestSources {
		switch strings.ToLower(name) {
		case "reddit":
			reddit := sources.NewRedditSource(ingestSubreddits...)
			reddit.SetTimeWindow(ingestTimeWindow)
			srcs = append(srcs, reddit)
		case "wikipedia":
			srcs = append(srcs, sources.NewWikipediaSource(ingestSearchTerms...))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
	}
	return srcs, nil
}

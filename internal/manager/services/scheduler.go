package services

import (
	"context"

	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// Nightly at 03:00.
	nightlySchedule = "0 3 * * *"
	// The scheduled run uses a smaller batch and item cap than manual runs.
	nightlyBatchSize = 10
	nightlyMaxItems  = 100
)

// Scheduler runs the batch engine nightly in missing mode, skipping entirely
// when nothing is missing.
type Scheduler struct {
	engine *BatchEngine
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewScheduler(engine *BatchEngine) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
		logger: util.NewLogger(zerolog.InfoLevel),
	}
}

// Start registers the nightly job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(nightlySchedule, s.runNightly)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to schedule nightly embedding job")
		return err
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", nightlySchedule).Msg("nightly embedding job scheduled")
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runNightly() {
	ctx := context.Background()

	missing, err := s.engine.MissingCount(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("nightly run: missing count failed")
		return
	}
	if missing == 0 {
		s.logger.Info().Msg("nightly run: no missing embeddings, skipping")
		return
	}

	result, err := s.engine.Run(ctx, BatchOptions{
		Mode:      ModeMissing,
		BatchSize: nightlyBatchSize,
		MaxItems:  nightlyMaxItems,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("nightly run failed")
		return
	}

	s.logger.Info().
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("nightly embedding run complete")
}

package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/usecase"
)

// SweepWorker periodically runs the lifecycle sweep via the use case.
type SweepWorker struct {
	interval time.Duration
	sweeper  usecase.SweeperUseCase
	stats    usecase.StatsUseCase
	log      *zerolog.Logger
}

func NewSweepWorker(interval time.Duration, sweeper usecase.SweeperUseCase, stats usecase.StatsUseCase, logger *zerolog.Logger) *SweepWorker {
	sweepLog := logger.With().Str("component", "SweepWorker").Logger()
	return &SweepWorker{
		interval: interval,
		sweeper:  sweeper,
		stats:    stats,
		log:      &sweepLog,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting sweep worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			report := w.sweeper.Sweep(ctx)
			if n := report.Expired.Processed + report.TrialEnded.Processed + report.GraceLapsed.Processed; n > 0 {
				w.log.Info().Int("transitions", n).Msg("sweep applied transitions")
			}
			if err := w.stats.PublishGauges(ctx); err != nil {
				w.log.Error().Err(err).Msg("publish subscription gauges")
			}
		}
	}
}

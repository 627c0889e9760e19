package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// Refresher reloads the active place unless a load is in flight or the
// last one failed.
type Refresher interface {
	RefreshIfIdle(ctx context.Context) error
}

// Scheduler periodically refreshes the weather of the most recent place.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Refresher
	interval  time.Duration
	timeout   time.Duration
	log       zerolog.Logger
}

// New creates a new Scheduler. An interval of zero disables it.
func New(interval time.Duration, service Refresher, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A slow refresh must not pile up behind itself.
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		service:   service,
		interval:  interval,
		timeout:   30 * time.Second,
		log:       logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.log.Info().Msg("refresh interval is zero; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info().Dur("interval", s.interval).Msg("refresh scheduled")
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Debug().Msg("running weather refresh job")
	err := s.service.RefreshIfIdle(ctx)
	switch {
	case err == nil:
		s.log.Debug().Msg("completed weather refresh job")
	case errors.Is(err, weather.ErrRefreshSkipped):
		s.log.Debug().Msg("refresh skipped, service is busy or in error")
	case errors.Is(err, weather.ErrSuperseded):
		s.log.Debug().Msg("refresh overtaken by a newer request")
	default:
		s.log.Warn().Err(err).Msg("weather refresh failed")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

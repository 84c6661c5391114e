package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
)

// Sweeper drops stale cache entries. *cache.Manager implements it.
type Sweeper interface {
	Sweep() ([]string, error)
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create scheduler").Build()
	}
	return &Scheduler{scheduler: s, logger: logger.With(slog.String("component", "scheduler"))}, nil
}

// ScheduleSweep sweeps sw every interval and returns the job ID.
func (s *Scheduler) ScheduleSweep(interval time.Duration, sw Sweeper) (string, error) {
	if interval <= 0 {
		return "", ferrors.ValidationError("sweep interval must be positive").
			WithContext("interval", interval.String()).
			Build()
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep, sw),
		gocron.WithName("cache-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule cache sweep").Build()
	}
	return job.ID().String(), nil
}

func (s *Scheduler) sweep(sw Sweeper) {
	removed, err := sw.Sweep()
	if err != nil {
		s.logger.Error("Cache sweep failed", logfields.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("Cache swept", logfields.Count(len(removed)))
	}
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.logger.Debug("Starting scheduler")
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop(_ context.Context) error {
	s.logger.Debug("Stopping scheduler")
	return s.scheduler.Shutdown()
}

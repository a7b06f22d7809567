package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned by RunAll while another run is in progress
var ErrAlreadyRunning = errors.New("sync already running")

// Runner executes one named sync job
type Runner interface {
	RunJob(ctx context.Context, job string) error
}

// Scheduler runs the configured jobs on a cron schedule.
// A tick that fires while another run is in progress is skipped,
// whether that run came from cron or a direct RunAll call.
type Scheduler struct {
	runner  Runner
	spec    string
	jobs    []string
	cron    *cron.Cron
	running sync.Mutex
}

// NewScheduler creates a new scheduler instance
func NewScheduler(runner Runner, spec string, jobs []string) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		runner: runner,
		spec:   spec,
		jobs:   jobs,
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
	}
}

// Start registers the sync tick and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	if _, err := s.cron.AddFunc(s.spec, func() {
		err := s.RunAll(ctx)
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			log.Info().Msg("Previous sync still running, skipping tick")
		case err != nil:
			log.Error().Err(err).Msg("Scheduled sync finished with errors")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	s.cron.Start()
	log.Info().
		Str("schedule", s.spec).
		Strs("jobs", s.jobs).
		Msg("Sync scheduled")

	return nil
}

// Next returns the time of the next scheduled tick
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop stops the scheduler and waits for a running tick to finish
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")
	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
}

// RunAll runs every job once, in order. A failing job does not stop the others.
// It returns ErrAlreadyRunning without running anything if a run is in progress.
func (s *Scheduler) RunAll(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrAlreadyRunning
	}
	defer s.running.Unlock()

	start := time.Now()
	var errs []error

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if err := s.runner.RunJob(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job).Msg("Sync job failed")
			errs = append(errs, fmt.Errorf("%s: %w", job, err))
		}
	}

	log.Info().
		Int("jobs", len(s.jobs)).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Sync tick complete")

	return errors.Join(errs...)
}

// cronLogger routes cron's own messages to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

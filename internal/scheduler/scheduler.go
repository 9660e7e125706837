// Package scheduler runs periodic housekeeping jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Maintainer is the store housekeeping hook.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Scheduler wraps a gocron scheduler with the store maintenance job.
type Scheduler struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	logger    *slog.Logger
}

// New schedules store maintenance on the given cron expression. The job
// does not start running until Start is called.
func New(schedule string, store Maintainer, jobTimeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		return nil, errors.New("empty cron expression")
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := store.Maintain(ctx); err != nil {
			log.Error("store maintenance failed", "error", err)
			return
		}
		log.Info("store maintenance complete", "duration", time.Since(start))
	}

	job, err := s.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(task),
		gocron.WithName("store-maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}

	return &Scheduler{scheduler: s, job: job, logger: log}, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	if next, err := s.job.NextRun(); err == nil {
		s.logger.Info("scheduler started", "job", s.job.Name(), "next_run", next.Format(time.RFC3339))
	}
}

// RunNow triggers the maintenance job outside its schedule.
func (s *Scheduler) RunNow() error {
	return s.job.RunNow()
}

// Stop waits for running jobs to finish and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

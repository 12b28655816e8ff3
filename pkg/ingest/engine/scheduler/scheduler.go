// Package scheduler drives the engine's periodic work off cron expressions:
// the ingestion jobs themselves, the stall sweep, the dead letter retry sweep
// and the retention sweep.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	"github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	"github.com/pagecliff/ingest/pkg/ingest/engine/healer"
	"github.com/pagecliff/ingest/pkg/ingest/engine/job"
	"github.com/pagecliff/ingest/pkg/ingest/engine/retention"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Scheduler owns the cron runner and the background context handed to every
// scheduled invocation.
type Scheduler struct {
	cfg      *config.Config
	jobs     *job.Registry
	detector *healer.Detector
	queue    *dlq.Queue
	sweeper  *retention.Sweeper

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg *config.Config, jobs *job.Registry, detector *healer.Detector, queue *dlq.Queue, sweeper *retention.Sweeper) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		jobs:     jobs,
		detector: detector,
		queue:    queue,
		sweeper:  sweeper,
	}
}

// Start registers all schedules and starts the cron runner. Invalid cron
// expressions fail startup; a misconfigured schedule silently never firing is
// worse than a crash loop.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	for _, jc := range s.jobs.Jobs() {
		if jc.Schedule == "" {
			logger.Warnf("Job '%s' has no schedule; it only runs via the admin surface.", jc.Name)
			continue
		}
		if err := s.add(jc.Schedule, "job "+jc.Name, s.runJob(runCtx, jc.Name)); err != nil {
			return err
		}
	}

	if err := s.add(s.cfg.Ingest.Healer.SweepSchedule, "stall sweep", s.runSweep(runCtx, "stall sweep", s.detector.Sweep)); err != nil {
		return err
	}
	if err := s.add(s.cfg.Ingest.DLQ.SweepSchedule, "dead letter sweep", s.runSweep(runCtx, "dead letter sweep", s.queue.Sweep)); err != nil {
		return err
	}
	if err := s.add(s.cfg.Ingest.Retention.SweepSchedule, "retention sweep", s.runSweep(runCtx, "retention sweep", s.sweeper.Sweep)); err != nil {
		return err
	}

	s.cron.Start()
	logger.Infof("Scheduler started with %d entries.", len(s.cron.Entries()))
	return nil
}

// Stop halts the cron runner and waits for in-flight invocations to drain.
// The shutdown context bounds the wait; running jobs see their context
// cancelled and stop at the next page boundary, leaving a resumable cursor.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	logger.Infof("Scheduler stopping; waiting for in-flight work.")
	<-s.cron.Stop().Done()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Scheduler drained.")
		return nil
	case <-ctx.Done():
		logger.Warnf("Scheduler shutdown timed out with work still in flight.")
		return ctx.Err()
	}
}

// add registers one cron entry, skipping empty schedules.
func (s *Scheduler) add(schedule, name string, fn func()) error {
	if schedule == "" {
		logger.Warnf("No schedule configured for %s; it will not run.", name)
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		return err
	}
	logger.Debugf("Scheduled %s at '%s'.", name, schedule)
	return nil
}

// runJob wraps one job invocation. Overlap is prevented by the lease, not
// here: a second invocation while one runs simply fails to acquire and exits.
func (s *Scheduler) runJob(ctx context.Context, name string) func() {
	return func() {
		s.wg.Add(1)
		defer s.wg.Done()
		if err := s.jobs.Run(ctx, name); err != nil {
			logger.Errorf("Scheduled run of job '%s' failed: %v", name, err)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context, name string, sweep func(context.Context) error) func() {
	return func() {
		s.wg.Add(1)
		defer s.wg.Done()
		if err := sweep(ctx); err != nil {
			logger.Errorf("Scheduled %s failed: %v", name, err)
		}
	}
}

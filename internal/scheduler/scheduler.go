package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

const jobTimeout = 4 * time.Minute

type autoSettler interface {
	AutoSettle(ctx context.Context) (int, error)
}

type idempotencyCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// Scheduler runs periodic maintenance jobs. A job whose previous run is still
// in flight is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		logger: logger,
	}
}

// AddAutoSettle registers the auto-settlement job. An empty spec leaves it disabled.
func (s *Scheduler) AddAutoSettle(spec string, svc autoSettler) error {
	if spec == "" {
		s.logger.Info("auto-settlement disabled")
		return nil
	}
	return s.add("auto_settle", spec, func(ctx context.Context) error {
		n, err := svc.AutoSettle(ctx)
		if err != nil {
			return err
		}
		logging.FromContext(ctx).Info("auto-settlement run complete", "settlements_created", n)
		return nil
	})
}

func (s *Scheduler) AddIdempotencyCleanup(spec string, repo idempotencyCleaner) error {
	if spec == "" {
		return nil
	}
	return s.add("idempotency_cleanup", spec, func(ctx context.Context) error {
		n, err := repo.CleanExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logging.FromContext(ctx).Info("expired idempotency keys removed", "count", n)
		}
		return nil
	})
}

func (s *Scheduler) add(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler.add %s: invalid schedule %q: %w", name, spec, err)
	}
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log := s.logger.With("job", name)
	ctx = logging.WithLogger(ctx, log)

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Debug("job finished", "duration", time.Since(start))
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs or ctx, whichever is first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

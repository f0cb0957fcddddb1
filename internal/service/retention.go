package service

import (
	"context"
	"sync"
	"time"

	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/logger"
)

// RetentionJob prunes one store and returns the number of rows removed
type RetentionJob struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// RetentionService runs each prune job on its own ticker
type RetentionService struct {
	jobs         []RetentionJob
	interval     time.Duration
	initialDelay time.Duration
	log          *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionService wires the standard jobs: login attempts and security
// events by age, refresh tokens once expired or revoked, blacklist entries
// once expired.
func NewRetentionService(
	cfg config.RetentionConfig,
	attempts LoginAttemptStore,
	events SecurityEventReader,
	ledger *RefreshLedger,
	blacklist *Blacklist,
	log *logger.Logger,
) *RetentionService {
	now := time.Now
	jobs := []RetentionJob{
		{Name: "login_attempts", Run: func(ctx context.Context) (int64, error) {
			return attempts.DeleteOlderThan(ctx, now().Add(-cfg.LoginAttempts), cfg.BatchSize)
		}},
		{Name: "refresh_tokens", Run: ledger.Prune},
		{Name: "token_blacklist", Run: blacklist.Prune},
		{Name: "security_events", Run: func(ctx context.Context) (int64, error) {
			return events.DeleteOlderThan(ctx, now().Add(-cfg.SecurityEvents), cfg.BatchSize)
		}},
	}
	return NewRetentionServiceWithJobs(jobs, cfg.Interval, cfg.InitialDelay, log)
}

// NewRetentionServiceWithJobs creates a RetentionService for arbitrary jobs
func NewRetentionServiceWithJobs(jobs []RetentionJob, interval, initialDelay time.Duration, log *logger.Logger) *RetentionService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	return &RetentionService{
		jobs:         jobs,
		interval:     interval,
		initialDelay: initialDelay,
		log:          log.WithComponent("retention"),
	}
}

// Start launches one goroutine per job. Each job first runs after the
// initial delay and then once per interval.
func (s *RetentionService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.log.Info().Int("jobs", len(s.jobs)).Dur("interval", s.interval).Msg("Retention jobs started")
}

// Stop cancels the jobs and waits for any running prune to return
func (s *RetentionService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("Retention jobs stopped")
}

// RunOnce runs every job once, in order
func (s *RetentionService) RunOnce(ctx context.Context) {
	for _, job := range s.jobs {
		s.run(ctx, job)
	}
}

func (s *RetentionService) loop(ctx context.Context, job RetentionJob) {
	defer s.wg.Done()

	delay := time.NewTimer(s.initialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.run(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *RetentionService) run(ctx context.Context, job RetentionJob) {
	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Str("job", job.Name).Msg("Retention job failed")
		return
	}
	s.log.Info().
		Str("job", job.Name).
		Int64("deleted", n).
		Dur("duration", time.Since(start)).
		Msg("Retention job finished")
}

// Package scheduler runs the periodic message cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"epicstoria/internal/config"
	"epicstoria/internal/model"
)

// ErrCleanupRunning is returned by RunNow while another run is in progress.
var ErrCleanupRunning = errors.New("cleanup already running")

// Cleaner performs one retention pass.
type Cleaner interface {
	RunCleanup(ctx context.Context) (model.CleanupResult, error)
}

// CleanupScheduler triggers Cleaner on a cron schedule. Runs never overlap:
// a tick that fires while a run is active is skipped, and so is a manual
// run.
type CleanupScheduler struct {
	cron     *cron.Cron
	cleaner  Cleaner
	schedule string
	running  atomic.Bool

	// ctx is cancelled by Stop so an active scheduled run can wind down.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewCleanupScheduler validates the schedule and timezone in cfg.
func NewCleanupScheduler(cleaner Cleaner, cfg config.RetentionConfig) (*CleanupScheduler, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup timezone %q: %w", cfg.Timezone, err)
	}

	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())

	return &CleanupScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cleaner:  cleaner,
		schedule: cfg.Schedule,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start registers the cleanup job and starts the cron loop.
func (s *CleanupScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("Message cleanup scheduler started")
	return nil
}

// Stop halts the schedule and waits for an active run to finish or for ctx
// to expire, whichever comes first.
func (s *CleanupScheduler) Stop(ctx context.Context) error {
	var stopped context.Context
	s.once.Do(func() {
		stopped = s.cron.Stop()
		s.cancel()
	})
	if stopped == nil {
		return nil
	}

	select {
	case <-stopped.Done():
		log.Info().Msg("Message cleanup scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs one cleanup immediately. It returns ErrCleanupRunning without
// doing anything if a run is already in progress.
func (s *CleanupScheduler) RunNow(ctx context.Context) (model.CleanupResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return model.CleanupResult{}, ErrCleanupRunning
	}
	defer s.running.Store(false)

	return s.cleaner.RunCleanup(ctx)
}

func (s *CleanupScheduler) tick() {
	start := time.Now()
	log.Info().Msg("Starting scheduled message cleanup")

	result, err := s.RunNow(s.ctx)
	switch {
	case errors.Is(err, ErrCleanupRunning):
		log.Warn().Msg("Previous cleanup still running, skipping")
	case err != nil:
		log.Error().Err(err).
			Int64("old_deleted", result.OldDeleted).
			Int64("excess_deleted", result.ExcessDeleted).
			Msg("Scheduled message cleanup failed")
	default:
		log.Info().
			Int64("old_deleted", result.OldDeleted).
			Int64("excess_deleted", result.ExcessDeleted).
			Dur("took", time.Since(start)).
			Msg("Scheduled message cleanup completed")
	}
}

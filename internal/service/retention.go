package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"epicstoria/internal/config"
	"epicstoria/internal/metrics"
	"epicstoria/internal/model"
	"epicstoria/internal/repository"
)

// Retention defaults, used when the configured value is zero or negative.
const (
	DefaultMessageMaxAge              = 7 * 24 * time.Hour
	DefaultMaxMessagesPerConversation = 100
)

// RetentionService bounds chat storage by age and by conversation size.
// Every operation is idempotent.
type RetentionService struct {
	messageRepo        *repository.MessageRepository
	metrics            *metrics.Metrics
	maxAge             time.Duration
	maxPerConversation int
	now                func() time.Time
}

// NewRetentionService creates a new RetentionService instance.
func NewRetentionService(messageRepo *repository.MessageRepository, m *metrics.Metrics, cfg config.RetentionConfig) *RetentionService {
	s := &RetentionService{
		messageRepo:        messageRepo,
		metrics:            m,
		maxAge:             cfg.MaxAge,
		maxPerConversation: cfg.MaxPerConversation,
		now:                time.Now,
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMessageMaxAge
	}
	if s.maxPerConversation <= 0 {
		s.maxPerConversation = DefaultMaxMessagesPerConversation
	}
	return s
}

// DeleteOldMessages removes every message older than the retention age,
// read or unread.
func (s *RetentionService) DeleteOldMessages(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)

	deleted, err := s.messageRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.metrics.RecordDeleted(metrics.ReasonAge, deleted)
	log.Info().
		Time("cutoff", cutoff).
		Int64("deleted", deleted).
		Msg("Old messages deleted")

	return deleted, nil
}

// LimitMessagesPerConversation trims each conversation over the cap to its
// newest messages. A failing conversation is logged and skipped; the
// returned error joins every such failure and the count covers the rest.
func (s *RetentionService) LimitMessagesPerConversation(ctx context.Context) (int64, error) {
	convs, err := s.messageRepo.ConversationsOverLimit(ctx, s.maxPerConversation)
	if err != nil {
		return 0, err
	}

	var (
		total int64
		errs  []error
	)
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		deleted, err := s.messageRepo.TrimConversation(ctx, conv, s.maxPerConversation)
		if err != nil {
			log.Error().Err(err).
				Int64("user_a", conv.UserA).
				Int64("user_b", conv.UserB).
				Msg("Failed to trim conversation")
			errs = append(errs, err)
			continue
		}
		total += deleted
	}

	s.metrics.RecordDeleted(metrics.ReasonExcess, total)
	log.Info().
		Int("conversations", len(convs)).
		Int64("deleted", total).
		Int("failed", len(errs)).
		Msg("Conversations trimmed")

	return total, errors.Join(errs...)
}

// RunCleanup runs the age pass and then the size pass. Both run even if the
// first fails, and the result reports what each managed to delete.
func (s *RetentionService) RunCleanup(ctx context.Context) (model.CleanupResult, error) {
	start := time.Now()
	var result model.CleanupResult

	oldDeleted, oldErr := s.DeleteOldMessages(ctx)
	if oldErr != nil {
		oldErr = fmt.Errorf("failed to delete old messages: %w", oldErr)
		log.Error().Err(oldErr).Msg("Cleanup age pass failed")
	}
	result.OldDeleted = oldDeleted

	excessDeleted, excessErr := s.LimitMessagesPerConversation(ctx)
	if excessErr != nil {
		excessErr = fmt.Errorf("failed to limit conversations: %w", excessErr)
	}
	result.ExcessDeleted = excessDeleted

	err := errors.Join(oldErr, excessErr)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
		if result.OldDeleted+result.ExcessDeleted > 0 {
			status = metrics.StatusPartial
		}
	}
	s.metrics.RecordCleanup(status, time.Since(start).Seconds())

	log.Info().
		Int64("old_deleted", result.OldDeleted).
		Int64("excess_deleted", result.ExcessDeleted).
		Str("status", status).
		Dur("took", time.Since(start)).
		Msg("Message cleanup finished")

	return result, err
}

// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"epicstoria/internal/config"
	"epicstoria/internal/metrics"
	"epicstoria/internal/model"
	"epicstoria/internal/pkg/lock"
	"epicstoria/internal/repository"
)

// Ledger constants.
const (
	DefaultQuizCooldown = 7 * 24 * time.Hour
	PassingPercentage   = 50.0
	PointsPerStar       = 100

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Common errors for points operations.
var (
	ErrCooldownActive    = errors.New("quiz cooldown active")
	ErrInvalidQuizResult = errors.New("invalid quiz result")
	ErrInvalidPoints     = errors.New("invalid points amount")
	ErrUserNotFound      = errors.New("user not found")
)

// CooldownError rejects a quiz attempt made before the cooldown elapsed.
// It matches ErrCooldownActive with errors.Is.
type CooldownError struct {
	EventID string
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("you must wait until %s before retaking quiz %q",
		e.RetryAt.UTC().Format(time.RFC3339), e.EventID)
}

// Is reports whether target is ErrCooldownActive.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// Transactor runs a function inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// CalculatePoints maps a percentage of correct answers to points: nothing
// below 50%, then one point per full ten percent (50-59.99 -> 5, 100 -> 10).
func CalculatePoints(percentage float64) int {
	if percentage < PassingPercentage {
		return 0
	}
	return int(math.Floor(percentage / 10))
}

// CalculateStars returns floor(points/100). A negative balance gives
// negative stars.
func CalculateStars(points int64) int64 {
	stars := points / PointsPerStar
	if points%PointsPerStar != 0 && points < 0 {
		stars--
	}
	return stars
}

// Percentage returns correct/total as a percentage, unrounded.
func Percentage(correct, total int) float64 {
	return float64(correct) * 100 / float64(total)
}

// cooldownElapsed reports whether at least cooldown has passed since last.
// The boundary is inclusive: exactly one cooldown later is allowed.
func cooldownElapsed(last, now time.Time, cooldown time.Duration) bool {
	return !now.Before(last.Add(cooldown))
}

// ValidateQuizResult checks the caller-supplied numbers.
func ValidateQuizResult(r model.QuizResult) error {
	switch {
	case strings.TrimSpace(r.EventID) == "":
		return fmt.Errorf("%w: event id is required", ErrInvalidQuizResult)
	case r.TotalQuestions <= 0:
		return fmt.Errorf("%w: total questions must be positive", ErrInvalidQuizResult)
	case r.CorrectAnswers < 0 || r.CorrectAnswers > r.TotalQuestions:
		return fmt.Errorf("%w: correct answers must be between 0 and %d", ErrInvalidQuizResult, r.TotalQuestions)
	case r.Score < 0 || r.Score > 100:
		return fmt.Errorf("%w: score must be between 0 and 100", ErrInvalidQuizResult)
	}
	return nil
}

// isForeignKeyViolation reports a missing referenced user.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// PointsService records quiz completions and keeps users.points in step with
// points_history.
//
// The cooldown check and the write are not one serializable unit: two
// concurrent submissions for the same user and event can both pass the check.
// Setting points.serialize_submissions closes that window inside a single
// process only.
type PointsService struct {
	tx           Transactor
	userRepo     *repository.UserRepository
	quizRepo     *repository.QuizCompletionRepository
	historyRepo  *repository.PointsHistoryRepository
	metrics      *metrics.Metrics
	userLock     *lock.UserLock
	cooldown     time.Duration
	historyLimit int
	now          func() time.Time
}

// NewPointsService creates a new PointsService instance.
func NewPointsService(
	tx Transactor,
	userRepo *repository.UserRepository,
	quizRepo *repository.QuizCompletionRepository,
	historyRepo *repository.PointsHistoryRepository,
	m *metrics.Metrics,
	cfg config.PointsConfig,
) *PointsService {
	s := &PointsService{
		tx:           tx,
		userRepo:     userRepo,
		quizRepo:     quizRepo,
		historyRepo:  historyRepo,
		metrics:      m,
		cooldown:     cfg.QuizCooldown,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultQuizCooldown
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 50
	}
	if cfg.SerializeSubmissions {
		s.userLock = lock.NewUserLock()
	}
	return s
}

// Cooldown returns the minimum time between attempts of the same quiz.
func (s *PointsService) Cooldown() time.Duration {
	return s.cooldown
}

// CanTakeQuiz reports whether userID may attempt eventID now.
func (s *PointsService) CanTakeQuiz(ctx context.Context, userID int64, eventID string) (bool, error) {
	last, err := s.quizRepo.GetLast(ctx, userID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check quiz cooldown: %w", err)
	}
	if last == nil {
		return true, nil
	}
	return cooldownElapsed(last.CompletedAt, s.now(), s.cooldown), nil
}

// GetLastQuizCompletion returns the latest attempt of eventID, or nil.
func (s *PointsService) GetLastQuizCompletion(ctx context.Context, userID int64, eventID string) (*model.QuizCompletion, error) {
	return s.quizRepo.GetLast(ctx, userID, eventID)
}

// GetQuizStatus combines the cooldown check with the last attempt.
func (s *PointsService) GetQuizStatus(ctx context.Context, userID int64, eventID string) (*model.QuizStatus, error) {
	last, err := s.quizRepo.GetLast(ctx, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz status: %w", err)
	}
	if last == nil {
		return &model.QuizStatus{CanTake: true}, nil
	}

	retryAt := s.RetryAt(last)
	return &model.QuizStatus{
		CanTake:          cooldownElapsed(last.CompletedAt, s.now(), s.cooldown),
		LastCompletion:   last,
		RetryAvailableAt: &retryAt,
	}, nil
}

// RetryAt returns when the quiz behind c can be attempted again. Not stored.
func (s *PointsService) RetryAt(c *model.QuizCompletion) time.Time {
	return c.CompletedAt.Add(s.cooldown)
}

// CompleteQuiz records an attempt and awards points for it.
//
// A cooldown violation returns a *CooldownError and writes nothing. A score
// below 50% is not an error: the completion is stored with zero points so
// the cooldown still applies, and neither the balance nor the history change.
// The completion, balance update and history entry commit together or not at all.
func (s *PointsService) CompleteQuiz(ctx context.Context, userID int64, result model.QuizResult) (*model.QuizCompletion, error) {
	if err := ValidateQuizResult(result); err != nil {
		return nil, err
	}

	if s.userLock != nil {
		if err := s.userLock.Lock(ctx, userID); err != nil {
			return nil, err
		}
		defer s.userLock.Unlock(userID)
	}

	now := s.now()

	last, err := s.quizRepo.GetLast(ctx, userID, result.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check quiz cooldown: %w", err)
	}
	if last != nil && !cooldownElapsed(last.CompletedAt, now, s.cooldown) {
		s.metrics.RecordQuiz(metrics.OutcomeCooldown)
		return nil, &CooldownError{EventID: result.EventID, RetryAt: s.RetryAt(last)}
	}

	percentage := Percentage(result.CorrectAnswers, result.TotalQuestions)
	pointsEarned := CalculatePoints(percentage)

	var completion *model.QuizCompletion
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := s.quizRepo.WithTx(tx).Create(ctx, userID, result.EventID, percentage, pointsEarned, now)
		if err != nil {
			return err
		}
		completion = c

		if pointsEarned == 0 {
			return nil
		}
		return s.credit(ctx, tx, userID, pointsEarned, model.SourceQuiz, result.EventID, now)
	})
	if err != nil {
		if isForeignKeyViolation(err) || errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to complete quiz: %w", err)
	}

	if pointsEarned > 0 {
		s.metrics.RecordQuiz(metrics.OutcomeAwarded)
		s.metrics.RecordPoints(model.SourceQuiz.String(), pointsEarned)
	} else {
		s.metrics.RecordQuiz(metrics.OutcomeZeroPoints)
	}

	log.Info().
		Int64("user_id", userID).
		Str("event_id", result.EventID).
		Float64("percentage", percentage).
		Int("points", pointsEarned).
		Msg("Quiz completed")

	return completion, nil
}

// AddPoints credits points from a non-quiz source. The balance update and the
// history entry commit together or not at all.
func (s *PointsService) AddPoints(ctx context.Context, userID int64, points int, source model.PointsSource, sourceID string) error {
	if points == 0 {
		return ErrInvalidPoints
	}
	if !source.Valid() {
		return fmt.Errorf("failed to add points: %w", model.ErrUnknownPointsSource)
	}

	now := s.now()
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.credit(ctx, tx, userID, points, source, sourceID, now)
	})
	if err != nil {
		if isForeignKeyViolation(err) || errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to add points: %w", err)
	}

	s.metrics.RecordPoints(source.String(), points)

	log.Info().
		Int64("user_id", userID).
		Int("points", points).
		Stringer("source", source).
		Str("source_id", sourceID).
		Msg("Points added")

	return nil
}

// credit updates the cached balance and appends the matching history entry on tx.
func (s *PointsService) credit(ctx context.Context, tx pgx.Tx, userID int64, points int, source model.PointsSource, sourceID string, at time.Time) error {
	switch source {
	case model.SourceQuiz, model.SourceGame:
	default:
		return model.ErrUnknownPointsSource
	}

	if _, err := s.userRepo.WithTx(tx).AddPoints(ctx, userID, points); err != nil {
		return err
	}
	_, err := s.historyRepo.WithTx(tx).Create(ctx, userID, points, source, sourceID, at)
	return err
}

// GetPointsHistory returns the user's most recent ledger entries.
func (s *PointsService) GetPointsHistory(ctx context.Context, userID int64) ([]*model.PointsHistoryEntry, error) {
	return s.historyRepo.GetByUserID(ctx, userID, s.historyLimit)
}

// GetQuizCompletions returns the user's most recent quiz attempts.
func (s *PointsService) GetQuizCompletions(ctx context.Context, userID int64) ([]*model.QuizCompletion, error) {
	return s.quizRepo.GetByUserID(ctx, userID, s.historyLimit)
}

// GetLeaderboard returns a page of ranked users with their stars.
func (s *PointsService) GetLeaderboard(ctx context.Context, limit, offset int) (*model.Leaderboard, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.userRepo.GetLeaderboard(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.Stars = CalculateStars(e.Points)
	}

	total, err := s.userRepo.CountRanked(ctx)
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []*model.LeaderboardEntry{}
	}
	return &model.Leaderboard{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

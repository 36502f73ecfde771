package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"epicstoria/internal/model"
	"epicstoria/internal/pkg/db"
)

// QuizCompletionRepository handles quiz attempt persistence.
type QuizCompletionRepository struct {
	conn db.DBTX
}

// NewQuizCompletionRepository creates a new QuizCompletionRepository instance.
func NewQuizCompletionRepository(conn db.DBTX) *QuizCompletionRepository {
	return &QuizCompletionRepository{conn: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *QuizCompletionRepository) WithTx(tx pgx.Tx) *QuizCompletionRepository {
	return &QuizCompletionRepository{conn: tx}
}

func scanCompletion(row pgx.Row) (*model.QuizCompletion, error) {
	var c model.QuizCompletion
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.EventID,
		&c.Score,
		&c.PointsEarned,
		&c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create records a quiz attempt. completedAt is supplied by the caller so the
// cooldown is measured against the same clock that checked it.
func (r *QuizCompletionRepository) Create(ctx context.Context, userID int64, eventID string, score float64, pointsEarned int, completedAt time.Time) (*model.QuizCompletion, error) {
	const query = `
		INSERT INTO quiz_completions (user_id, event_id, score, points_earned, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, event_id, score, points_earned, completed_at
	`

	c, err := scanCompletion(r.conn.QueryRow(ctx, query, userID, eventID, score, pointsEarned, completedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create quiz completion: %w", err)
	}
	return c, nil
}

// GetLast returns the most recent completion of eventID by userID, or nil
// when the user never completed it.
func (r *QuizCompletionRepository) GetLast(ctx context.Context, userID int64, eventID string) (*model.QuizCompletion, error) {
	const query = `
		SELECT id, user_id, event_id, score, points_earned, completed_at
		FROM quiz_completions
		WHERE user_id = $1 AND event_id = $2
		ORDER BY completed_at DESC
		LIMIT 1
	`

	c, err := scanCompletion(r.conn.QueryRow(ctx, query, userID, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last quiz completion: %w", err)
	}
	return c, nil
}

// GetByUserID retrieves a user's completions, newest first.
func (r *QuizCompletionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.QuizCompletion, error) {
	const query = `
		SELECT id, user_id, event_id, score, points_earned, completed_at
		FROM quiz_completions
		WHERE user_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz completions: %w", err)
	}
	defer rows.Close()

	var completions []*model.QuizCompletion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz completion: %w", err)
		}
		completions = append(completions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quiz completions: %w", err)
	}

	return completions, nil
}

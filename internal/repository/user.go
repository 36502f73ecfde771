// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"epicstoria/internal/model"
	"epicstoria/internal/pkg/db"
)

// Common errors for repository operations.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
)

// UserRepository handles user data persistence.
type UserRepository struct {
	conn db.DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{conn: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{conn: tx}
}

const userColumns = `id, name, lastname, nickname, avatar_url, role, points, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Lastname,
		&user.Nickname,
		&user.AvatarURL,
		&user.Role,
		&user.Points,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user with zero points.
func (r *UserRepository) Create(ctx context.Context, name string, nickname *string, role string) (*model.User, error) {
	const query = `
		INSERT INTO users (name, nickname, role, points, created_at)
		VALUES ($1, $2, $3, 0, NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.conn.QueryRow(ctx, query, name, nickname, role))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// AddPoints increments the cached points balance and returns the new total.
// Callers keep it in step with points_history by running both in one transaction.
func (r *UserRepository) AddPoints(ctx context.Context, id int64, points int) (int64, error) {
	const query = `
		UPDATE users
		SET points = points + $2
		WHERE id = $1
		RETURNING points
	`

	var total int64
	err := r.conn.QueryRow(ctx, query, id, points).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to add points: %w", err)
	}
	return total, nil
}

// GetLeaderboard returns non-admin users with points, highest first. Ties go
// to the older account.
func (r *UserRepository) GetLeaderboard(ctx context.Context, limit, offset int) ([]*model.LeaderboardEntry, error) {
	const query = `
		SELECT u.id, u.name, u.lastname, u.nickname, u.avatar_url, u.points, u.created_at,
		       COUNT(qc.id) AS quizzes_completed
		FROM users u
		LEFT JOIN quiz_completions qc ON qc.user_id = u.id
		WHERE u.points > 0 AND u.role <> 'admin'
		GROUP BY u.id
		ORDER BY u.points DESC, u.created_at ASC, u.id ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.conn.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		err := rows.Scan(
			&e.UserID,
			&e.Name,
			&e.Lastname,
			&e.Nickname,
			&e.AvatarURL,
			&e.Points,
			&e.CreatedAt,
			&e.QuizzesCompleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}

	return entries, nil
}

// CountRanked returns how many users qualify for the leaderboard.
func (r *UserRepository) CountRanked(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM users WHERE points > 0 AND role <> 'admin'`

	var total int64
	if err := r.conn.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count ranked users: %w", err)
	}
	return total, nil
}

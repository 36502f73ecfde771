package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"epicstoria/internal/model"
	"epicstoria/internal/pkg/db"
)

// PointsHistoryRepository handles the append-only points ledger.
type PointsHistoryRepository struct {
	conn db.DBTX
}

// NewPointsHistoryRepository creates a new PointsHistoryRepository instance.
func NewPointsHistoryRepository(conn db.DBTX) *PointsHistoryRepository {
	return &PointsHistoryRepository{conn: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *PointsHistoryRepository) WithTx(tx pgx.Tx) *PointsHistoryRepository {
	return &PointsHistoryRepository{conn: tx}
}

// Create appends a ledger entry.
func (r *PointsHistoryRepository) Create(ctx context.Context, userID int64, points int, source model.PointsSource, sourceID string, createdAt time.Time) (*model.PointsHistoryEntry, error) {
	const query = `
		INSERT INTO points_history (user_id, points, source, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, points, source, source_id, created_at
	`

	if !source.Valid() {
		return nil, fmt.Errorf("failed to create points history entry: %w: %d", model.ErrUnknownPointsSource, source)
	}

	var (
		entry  model.PointsHistoryEntry
		stored string
	)
	err := r.conn.QueryRow(ctx, query, userID, points, source.String(), sourceID, createdAt).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Points,
		&stored,
		&entry.SourceID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create points history entry: %w", err)
	}

	entry.Source, err = model.ParsePointsSource(stored)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// GetByUserID retrieves a user's ledger entries, newest first.
func (r *PointsHistoryRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.PointsHistoryEntry, error) {
	const query = `
		SELECT id, user_id, points, source, source_id, created_at
		FROM points_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get points history: %w", err)
	}
	defer rows.Close()

	var entries []*model.PointsHistoryEntry
	for rows.Next() {
		var (
			entry  model.PointsHistoryEntry
			stored string
		)
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Points,
			&stored,
			&entry.SourceID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan points history entry: %w", err)
		}
		if entry.Source, err = model.ParsePointsSource(stored); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating points history: %w", err)
	}

	return entries, nil
}

// SumByUserID returns the total of a user's ledger, which must equal users.points.
func (r *PointsHistoryRepository) SumByUserID(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(points), 0) FROM points_history WHERE user_id = $1`

	var sum int64
	if err := r.conn.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum points history: %w", err)
	}
	return sum, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"epicstoria/internal/model"
	"epicstoria/internal/pkg/db"
)

// MessageRepository handles chat message persistence and retention deletes.
type MessageRepository struct {
	conn db.DBTX
}

// NewMessageRepository creates a new MessageRepository instance.
func NewMessageRepository(conn db.DBTX) *MessageRepository {
	return &MessageRepository{conn: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *MessageRepository) WithTx(tx pgx.Tx) *MessageRepository {
	return &MessageRepository{conn: tx}
}

const messageColumns = `id, sender_id, receiver_id, message, read, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Message,
		&m.Read,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create stores a new unread message.
func (r *MessageRepository) Create(ctx context.Context, senderID, receiverID int64, text string, createdAt time.Time) (*model.Message, error) {
	const query = `
		INSERT INTO messages (sender_id, receiver_id, message, read, created_at)
		VALUES ($1, $2, $3, false, $4)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.conn.QueryRow(ctx, query, senderID, receiverID, text, createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return m, nil
}

// GetConversation returns every message exchanged between two users, oldest first.
func (r *MessageRepository) GetConversation(ctx context.Context, conv model.Conversation) ([]*model.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query, conv.UserA, conv.UserB)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CountConversation returns how many messages a conversation holds.
func (r *MessageRepository) CountConversation(ctx context.Context, conv model.Conversation) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
	`

	var n int64
	if err := r.conn.QueryRow(ctx, query, conv.UserA, conv.UserB).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversation: %w", err)
	}
	return n, nil
}

// MarkAsRead flips every unread message from senderID to receiverID.
func (r *MessageRepository) MarkAsRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	const query = `
		UPDATE messages
		SET read = true
		WHERE sender_id = $1 AND receiver_id = $2 AND read = false
	`

	result, err := r.conn.Exec(ctx, query, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", err)
	}
	return result.RowsAffected(), nil
}

// UnreadCount returns the number of unread messages addressed to userID.
func (r *MessageRepository) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND read = false`

	var n int64
	if err := r.conn.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// UnreadCountBySender returns unread counts addressed to userID keyed by sender.
func (r *MessageRepository) UnreadCountBySender(ctx context.Context, userID int64) (map[int64]int64, error) {
	const query = `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND read = false
		GROUP BY sender_id
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages by sender: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var senderID, n int64
		if err := rows.Scan(&senderID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[senderID] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread counts: %w", err)
	}

	return counts, nil
}

// DeleteBySender removes a message only if senderID sent it.
// Returns ErrMessageNotFound otherwise.
func (r *MessageRepository) DeleteBySender(ctx context.Context, messageID, senderID int64) error {
	const query = `DELETE FROM messages WHERE id = $1 AND sender_id = $2`

	result, err := r.conn.Exec(ctx, query, messageID, senderID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteOlderThan removes every message created strictly before cutoff.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.conn.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// ConversationsOverLimit lists the canonical conversations holding more than
// limit messages. Conversations at or under the cap need no trim.
func (r *MessageRepository) ConversationsOverLimit(ctx context.Context, limit int) ([]model.Conversation, error) {
	const query = `
		SELECT LEAST(sender_id, receiver_id) AS user_a,
		       GREATEST(sender_id, receiver_id) AS user_b
		FROM messages
		GROUP BY 1, 2
		HAVING COUNT(*) > $1
		ORDER BY 1, 2
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.UserA, &c.UserB); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return convs, nil
}

// TrimConversation keeps the newest keep messages of a conversation and
// deletes the rest, read or not. Ties on created_at are broken by id so the
// same rows survive no matter which caller trims.
func (r *MessageRepository) TrimConversation(ctx context.Context, conv model.Conversation, keep int) (int64, error) {
	const query = `
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages
			WHERE (sender_id = $1 AND receiver_id = $2)
			   OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY created_at DESC, id DESC
			OFFSET $3
		)
	`

	result, err := r.conn.Exec(ctx, query, conv.UserA, conv.UserB, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim conversation %d-%d: %w", conv.UserA, conv.UserB, err)
	}
	return result.RowsAffected(), nil
}

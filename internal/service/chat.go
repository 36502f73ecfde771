package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"epicstoria/internal/metrics"
	"epicstoria/internal/model"
	"epicstoria/internal/repository"
)

// Common errors for chat operations.
var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSelfMessage     = errors.New("cannot send a message to yourself")
	ErrMessageNotFound = errors.New("message not found or not yours")
)

// ChatService handles direct messages between two users.
type ChatService struct {
	tx                 Transactor
	messageRepo        *repository.MessageRepository
	metrics            *metrics.Metrics
	maxPerConversation int
	now                func() time.Time
}

// NewChatService creates a new ChatService instance. A maxPerConversation of
// zero or less falls back to the retention default, so the inline trim and
// the scheduled trim always share one cap.
func NewChatService(tx Transactor, messageRepo *repository.MessageRepository, m *metrics.Metrics, maxPerConversation int) *ChatService {
	if maxPerConversation <= 0 {
		maxPerConversation = DefaultMaxMessagesPerConversation
	}
	return &ChatService{
		tx:                 tx,
		messageRepo:        messageRepo,
		metrics:            m,
		maxPerConversation: maxPerConversation,
		now:                time.Now,
	}
}

// SendMessage stores a message and trims the conversation back to the cap in
// the same transaction.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID int64, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}

	var (
		msg     *model.Message
		trimmed int64
	)
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		repo := s.messageRepo.WithTx(tx)

		m, err := repo.Create(ctx, senderID, receiverID, text, s.now())
		if err != nil {
			return err
		}
		msg = m

		trimmed, err = repo.TrimConversation(ctx, model.NewConversation(senderID, receiverID), s.maxPerConversation)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if trimmed > 0 {
		s.metrics.RecordDeleted(metrics.ReasonInline, trimmed)
		log.Debug().
			Int64("user_a", min(senderID, receiverID)).
			Int64("user_b", max(senderID, receiverID)).
			Int64("deleted", trimmed).
			Msg("Conversation trimmed")
	}

	return msg, nil
}

// GetMessages returns the conversation between userID and otherID, oldest first.
func (s *ChatService) GetMessages(ctx context.Context, userID, otherID int64) ([]*model.Message, error) {
	msgs, err := s.messageRepo.GetConversation(ctx, model.NewConversation(userID, otherID))
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return msgs, nil
}

// MarkAsRead marks every message from senderID to receiverID as read.
func (s *ChatService) MarkAsRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	return s.messageRepo.MarkAsRead(ctx, senderID, receiverID)
}

// GetUnreadCount returns how many messages userID has not read.
func (s *ChatService) GetUnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.messageRepo.UnreadCount(ctx, userID)
}

// GetUnreadCountByUser returns userID's unread counts keyed by sender.
func (s *ChatService) GetUnreadCountByUser(ctx context.Context, userID int64) (map[int64]int64, error) {
	return s.messageRepo.UnreadCountBySender(ctx, userID)
}

// DeleteMessage removes a message the user sent.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, userID int64) error {
	err := s.messageRepo.DeleteBySender(ctx, messageID, userID)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return ErrMessageNotFound
	}
	return err
}

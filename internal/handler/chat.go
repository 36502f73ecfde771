package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"epicstoria/internal/model"
	"epicstoria/internal/service"
)

// ChatService is the chat store as seen by the HTTP layer.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, receiverID int64, text string) (*model.Message, error)
	GetMessages(ctx context.Context, userID, otherID int64) ([]*model.Message, error)
	MarkAsRead(ctx context.Context, senderID, receiverID int64) (int64, error)
	GetUnreadCount(ctx context.Context, userID int64) (int64, error)
	GetUnreadCountByUser(ctx context.Context, userID int64) (map[int64]int64, error)
	DeleteMessage(ctx context.Context, messageID, userID int64) error
}

// ChatHandler serves /api/chat.
type ChatHandler struct {
	chat ChatService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type countResponse struct {
	Count int64 `json:"count"`
}

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Message    string `json:"message"`
}

// writeChatError maps chat errors to status codes.
func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrSelfMessage):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrMessageNotFound), errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeInternal(w, r, err)
	}
}

// HandleUnread handles GET /api/chat/unread.
func (h *ChatHandler) HandleUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	count, err := h.chat.GetUnreadCount(r.Context(), userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, countResponse{Count: count})
}

// HandleUnreadByUser handles GET /api/chat/unread-by-user.
func (h *ChatHandler) HandleUnreadByUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	counts, err := h.chat.GetUnreadCountByUser(r.Context(), userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	// JSON object keys are strings.
	data := make(map[string]int64, len(counts))
	for sender, n := range counts {
		data[strconv.FormatInt(sender, 10)] = n
	}
	writeData(w, data)
}

// HandleConversation handles GET /api/chat/{id}, where id is the other user.
// Reading a conversation marks the other user's messages as read.
func (h *ChatHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	otherID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msgs, err := h.chat.GetMessages(r.Context(), userID, otherID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if _, err := h.chat.MarkAsRead(r.Context(), otherID, userID); err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, msgs)
}

// HandleSend handles POST /api/chat/send.
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request body: %w", err))
		return
	}
	if req.ReceiverID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("receiver_id is required"))
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), userID, req.ReceiverID, req.Message)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeData(w, msg)
}

// HandleMarkRead handles PUT /api/chat/read/{userId}.
func (h *ChatHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	otherID, err := idParam(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	count, err := h.chat.MarkAsRead(r.Context(), otherID, userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, countResponse{Count: count})
}

// HandleDelete handles DELETE /api/chat/{id}, where id is the message.
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	messageID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.chat.DeleteMessage(r.Context(), messageID, userID); err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Message deleted successfully"})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"epicstoria/internal/model"
	"epicstoria/internal/service"
)

// PointsService is the quiz ledger as seen by the HTTP layer.
type PointsService interface {
	CompleteQuiz(ctx context.Context, userID int64, result model.QuizResult) (*model.QuizCompletion, error)
	GetQuizStatus(ctx context.Context, userID int64, eventID string) (*model.QuizStatus, error)
	GetPointsHistory(ctx context.Context, userID int64) ([]*model.PointsHistoryEntry, error)
	GetQuizCompletions(ctx context.Context, userID int64) ([]*model.QuizCompletion, error)
	GetLeaderboard(ctx context.Context, limit, offset int) (*model.Leaderboard, error)
	RetryAt(c *model.QuizCompletion) time.Time
}

// PointsHandler serves /api/points.
type PointsHandler struct {
	points PointsService
}

// NewPointsHandler creates a new PointsHandler.
func NewPointsHandler(points PointsService) *PointsHandler {
	return &PointsHandler{points: points}
}

type completeQuizResponse struct {
	Completion   *model.QuizCompletion `json:"completion"`
	PointsEarned int                   `json:"points_earned"`
	CanRetryAt   time.Time             `json:"can_retry_at"`
}

// HandleCompleteQuiz handles POST /api/points/quiz.
func (h *PointsHandler) HandleCompleteQuiz(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req model.QuizResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request body: %w", err))
		return
	}

	completion, err := h.points.CompleteQuiz(r.Context(), userID, req)
	if err != nil {
		var cooldownErr *service.CooldownError
		switch {
		case errors.As(err, &cooldownErr):
			writeJSON(w, http.StatusBadRequest, envelope{
				Success: false,
				Error:   err.Error(),
				Data:    map[string]time.Time{"retry_available_at": cooldownErr.RetryAt},
			})
		case errors.Is(err, service.ErrInvalidQuizResult):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			writeInternal(w, r, err)
		}
		return
	}

	writeData(w, completeQuizResponse{
		Completion:   completion,
		PointsEarned: completion.PointsEarned,
		CanRetryAt:   h.points.RetryAt(completion),
	})
}

// HandleQuizStatus handles GET /api/points/quiz/{eventId}/status.
func (h *PointsHandler) HandleQuizStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	status, err := h.points.GetQuizStatus(r.Context(), userID, chi.URLParam(r, "eventId"))
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, status)
}

// HandleHistory handles GET /api/points/history.
func (h *PointsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	history, err := h.points.GetPointsHistory(r.Context(), userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if history == nil {
		history = []*model.PointsHistoryEntry{}
	}
	writeData(w, history)
}

// HandleQuizCompletions handles GET /api/points/quiz-completions.
func (h *PointsHandler) HandleQuizCompletions(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	completions, err := h.points.GetQuizCompletions(r.Context(), userID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if completions == nil {
		completions = []*model.QuizCompletion{}
	}
	writeData(w, completions)
}

// HandleLeaderboard handles GET /api/points/leaderboard. No auth.
func (h *PointsHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.points.GetLeaderboard(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, board)
}

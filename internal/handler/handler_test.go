package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epicstoria/internal/model"
	"epicstoria/internal/service"
)

const testSecret = "test-secret"

type fakePoints struct {
	completeErr error
	gotUserID   int64
	gotResult   model.QuizResult
	gotLimit    int
	gotOffset   int
}

func (f *fakePoints) CompleteQuiz(_ context.Context, userID int64, result model.QuizResult) (*model.QuizCompletion, error) {
	f.gotUserID, f.gotResult = userID, result
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &model.QuizCompletion{
		ID: 1, UserID: userID, EventID: result.EventID, Score: 80, PointsEarned: 8,
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakePoints) GetQuizStatus(_ context.Context, userID int64, eventID string) (*model.QuizStatus, error) {
	f.gotUserID, f.gotResult.EventID = userID, eventID
	return &model.QuizStatus{CanTake: true}, nil
}

func (f *fakePoints) GetPointsHistory(context.Context, int64) ([]*model.PointsHistoryEntry, error) {
	return nil, nil
}

func (f *fakePoints) GetQuizCompletions(context.Context, int64) ([]*model.QuizCompletion, error) {
	return nil, errors.New("connection refused")
}

func (f *fakePoints) GetLeaderboard(_ context.Context, limit, offset int) (*model.Leaderboard, error) {
	f.gotLimit, f.gotOffset = limit, offset
	return &model.Leaderboard{Entries: []*model.LeaderboardEntry{}, Limit: 10}, nil
}

func (f *fakePoints) RetryAt(c *model.QuizCompletion) time.Time {
	return c.CompletedAt.Add(service.DefaultQuizCooldown)
}

type fakeChat struct {
	sendErr      error
	deleteErr    error
	markedSender int64
	markedRecv   int64
	deletedID    int64
	deletedBy    int64
}

func (f *fakeChat) SendMessage(_ context.Context, senderID, receiverID int64, text string) (*model.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &model.Message{ID: 9, SenderID: senderID, ReceiverID: receiverID, Message: text}, nil
}

func (f *fakeChat) GetMessages(context.Context, int64, int64) ([]*model.Message, error) {
	return []*model.Message{{ID: 1, Message: "hi"}}, nil
}

func (f *fakeChat) MarkAsRead(_ context.Context, senderID, receiverID int64) (int64, error) {
	f.markedSender, f.markedRecv = senderID, receiverID
	return 2, nil
}

func (f *fakeChat) GetUnreadCount(context.Context, int64) (int64, error) { return 3, nil }

func (f *fakeChat) GetUnreadCountByUser(context.Context, int64) (map[int64]int64, error) {
	return map[int64]int64{5: 2, 6: 1}, nil
}

func (f *fakeChat) DeleteMessage(_ context.Context, messageID, userID int64) error {
	f.deletedID, f.deletedBy = messageID, userID
	return f.deleteErr
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestRouter(points *fakePoints, chat *fakeChat) http.Handler {
	return NewRouter(RouterConfig{
		Points:   points,
		Chat:     chat,
		Verifier: NewTokenVerifier(testSecret),
		Health:   fakeHealth{},
	})
}

func signToken(t *testing.T, secret string, userID int64, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(&fakePoints{}, &fakeChat{})
	valid := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "other", 42, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, 42, time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"no user id", signToken(t, testSecret, 0, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, router, http.MethodGet, "/api/chat/unread", "", tt.token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusOK, body["success"])
		})
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{UserID: 42})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenVerifier(testSecret).Verify(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHandleCompleteQuiz(t *testing.T) {
	points := &fakePoints{}
	router := newTestRouter(points, &fakeChat{})
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	rec, body := do(t, router, http.MethodPost, "/api/points/quiz",
		`{"event_id":"E1","score":80,"total_questions":10,"correct_answers":8}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), points.gotUserID)
	assert.Equal(t, model.QuizResult{EventID: "E1", Score: 80, TotalQuestions: 10, CorrectAnswers: 8}, points.gotResult)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(8), data["points_earned"])
	assert.Equal(t, "2026-03-08T12:00:00Z", data["can_retry_at"])
}

func TestHandleCompleteQuiz_Errors(t *testing.T) {
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))
	retryAt := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"event_id":`, nil, http.StatusBadRequest},
		{"cooldown", `{"event_id":"E1"}`, &service.CooldownError{EventID: "E1", RetryAt: retryAt}, http.StatusBadRequest},
		{"invalid", `{"event_id":"E1"}`, service.ErrInvalidQuizResult, http.StatusBadRequest},
		{"unknown user", `{"event_id":"E1"}`, service.ErrUserNotFound, http.StatusNotFound},
		{"storage", `{"event_id":"E1"}`, errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakePoints{completeErr: tt.err}, &fakeChat{})
			rec, body := do(t, router, http.MethodPost, "/api/points/quiz", tt.body, token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, body["success"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["error"])
			}
		})
	}
}

func TestCooldownResponseCarriesRetryTime(t *testing.T) {
	retryAt := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	router := newTestRouter(&fakePoints{completeErr: &service.CooldownError{EventID: "E1", RetryAt: retryAt}}, &fakeChat{})
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	_, body := do(t, router, http.MethodPost, "/api/points/quiz", `{"event_id":"E1"}`, token)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "2026-03-08T12:00:00Z", data["retry_available_at"])
}

func TestPointsReadRoutes(t *testing.T) {
	points := &fakePoints{}
	router := newTestRouter(points, &fakeChat{})
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	rec, body := do(t, router, http.MethodGet, "/api/points/quiz/E7/status", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "E7", points.gotResult.EventID)
	assert.Equal(t, true, body["data"].(map[string]interface{})["can_take"])

	rec, body = do(t, router, http.MethodGet, "/api/points/history", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["data"])

	rec, _ = do(t, router, http.MethodGet, "/api/points/quiz-completions", "", token)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Leaderboard is public.
	rec, _ = do(t, router, http.MethodGet, "/api/points/leaderboard?limit=5&offset=abc", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, points.gotLimit)
	assert.Equal(t, 0, points.gotOffset)
}

func TestChatRoutes(t *testing.T) {
	chat := &fakeChat{}
	router := newTestRouter(&fakePoints{}, chat)
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	rec, body := do(t, router, http.MethodGet, "/api/chat/unread", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["data"].(map[string]interface{})["count"])

	rec, body = do(t, router, http.MethodGet, "/api/chat/unread-by-user", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"5": float64(2), "6": float64(1)}, body["data"])

	rec, _ = do(t, router, http.MethodGet, "/api/chat/7", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), chat.markedSender, "reading marks the other user's messages")
	assert.Equal(t, int64(42), chat.markedRecv)

	rec, _ = do(t, router, http.MethodGet, "/api/chat/abc", "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, router, http.MethodPut, "/api/chat/read/8", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(8), chat.markedSender)
	assert.Equal(t, float64(2), body["data"].(map[string]interface{})["count"])

	rec, body = do(t, router, http.MethodPost, "/api/chat/send", `{"receiver_id":7,"message":"hi"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), body["data"].(map[string]interface{})["sender_id"])

	rec, _ = do(t, router, http.MethodPost, "/api/chat/send", `{"message":"hi"}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, router, http.MethodDelete, "/api/chat/9", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message deleted successfully", body["message"])
	assert.Equal(t, int64(9), chat.deletedID)
	assert.Equal(t, int64(42), chat.deletedBy)

	rec, _ = do(t, router, http.MethodDelete, "/api/chat/abc", "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatErrorMapping(t *testing.T) {
	token := signToken(t, testSecret, 42, time.Now().Add(time.Hour))

	tests := []struct {
		err    error
		status int
	}{
		{service.ErrEmptyMessage, http.StatusBadRequest},
		{service.ErrSelfMessage, http.StatusBadRequest},
		{service.ErrUserNotFound, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		router := newTestRouter(&fakePoints{}, &fakeChat{sendErr: tt.err})
		rec, _ := do(t, router, http.MethodPost, "/api/chat/send", `{"receiver_id":7,"message":"x"}`, token)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}

	router := newTestRouter(&fakePoints{}, &fakeChat{deleteErr: service.ErrMessageNotFound})
	rec, _ := do(t, router, http.MethodDelete, "/api/chat/9", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakePoints{}, &fakeChat{})
	rec, _ := do(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(RouterConfig{
		Points:   &fakePoints{},
		Chat:     &fakeChat{},
		Verifier: NewTokenVerifier(testSecret),
		Health:   fakeHealth{err: errors.New("no route to host")},
	})
	rec, _ = do(t, down, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig collects the router's dependencies. Metrics may be nil.
type RouterConfig struct {
	Points   PointsService
	Chat     ChatService
	Verifier *TokenVerifier
	Health   HealthChecker
	Metrics  http.Handler
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	points := NewPointsHandler(cfg.Points)
	chat := NewChatHandler(cfg.Chat)
	auth := AuthMiddleware(cfg.Verifier)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/points", func(r chi.Router) {
		r.Get("/leaderboard", points.HandleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/quiz", points.HandleCompleteQuiz)
			r.Get("/quiz/{eventId}/status", points.HandleQuizStatus)
			r.Get("/history", points.HandleHistory)
			r.Get("/quiz-completions", points.HandleQuizCompletions)
		})
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(auth)
		r.Get("/unread", chat.HandleUnread)
		r.Get("/unread-by-user", chat.HandleUnreadByUser)
		r.Post("/send", chat.HandleSend)
		r.Put("/read/{userId}", chat.HandleMarkRead)
		// {id} is a user id for GET and a message id for DELETE.
		r.Get("/{id}", chat.HandleConversation)
		r.Delete("/{id}", chat.HandleDelete)
	})

	return r
}

func healthHandler(h HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Error: "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// requestLogger logs each request with zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}

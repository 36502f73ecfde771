// Package model defines the data models for the quiz ledger and chat retention.
package model

import (
	"errors"
	"fmt"
	"time"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account. Points is the denormalized sum of
// the user's points history.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Lastname  *string   `db:"lastname" json:"lastname,omitempty"`
	Nickname  *string   `db:"nickname" json:"nickname,omitempty"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Role      string    `db:"role" json:"role"`
	Points    int64     `db:"points" json:"points"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// QuizCompletion is one quiz attempt. Score is the percentage of correct
// answers with two-decimal precision.
type QuizCompletion struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	EventID      string    `db:"event_id" json:"event_id"`
	Score        float64   `db:"score" json:"score"`
	PointsEarned int       `db:"points_earned" json:"points_earned"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
}

// QuizResult is the caller-supplied outcome of a quiz attempt.
// Score is informational; points are derived from CorrectAnswers/TotalQuestions.
type QuizResult struct {
	EventID        string  `json:"event_id"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions"`
	CorrectAnswers int     `json:"correct_answers"`
}

// QuizStatus describes whether a quiz can be taken now.
type QuizStatus struct {
	CanTake          bool            `json:"can_take"`
	LastCompletion   *QuizCompletion `json:"last_completion"`
	RetryAvailableAt *time.Time      `json:"retry_available_at"`
}

// PointsHistoryEntry is an append-only ledger row justifying a balance change.
type PointsHistoryEntry struct {
	ID        int64        `db:"id" json:"id"`
	UserID    int64        `db:"user_id" json:"user_id"`
	Points    int          `db:"points" json:"points"`
	Source    PointsSource `db:"source" json:"source"`
	SourceID  string       `db:"source_id" json:"source_id"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	UserID           int64     `json:"id"`
	Name             string    `json:"name"`
	Lastname         *string   `json:"lastname,omitempty"`
	Nickname         *string   `json:"nickname,omitempty"`
	AvatarURL        *string   `json:"avatar_url,omitempty"`
	Points           int64     `json:"points"`
	Stars            int64     `json:"stars"`
	QuizzesCompleted int64     `json:"quizzes_completed"`
	CreatedAt        time.Time `json:"created_at"`
}

// Leaderboard is a page of ranked users.
type Leaderboard struct {
	Entries []*LeaderboardEntry `json:"leaderboard"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ErrUnknownPointsSource is returned when parsing an unsupported source.
var ErrUnknownPointsSource = errors.New("unknown points source")

// PointsSource identifies what produced a points history entry.
type PointsSource uint8

// Points sources. The zero value is invalid so an unset source never reaches storage.
const (
	SourceQuiz PointsSource = iota + 1
	SourceGame
)

// ParsePointsSource converts the stored representation back to a PointsSource.
func ParsePointsSource(s string) (PointsSource, error) {
	switch s {
	case "quiz":
		return SourceQuiz, nil
	case "game":
		return SourceGame, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPointsSource, s)
	}
}

// String returns the stored representation.
func (s PointsSource) String() string {
	switch s {
	case SourceQuiz:
		return "quiz"
	case SourceGame:
		return "game"
	default:
		return fmt.Sprintf("PointsSource(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the declared sources.
func (s PointsSource) Valid() bool {
	switch s {
	case SourceQuiz, SourceGame:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PointsSource) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPointsSource, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PointsSource) UnmarshalText(text []byte) error {
	parsed, err := ParsePointsSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Message is a chat message between two users.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	SenderID   int64     `db:"sender_id" json:"sender_id"`
	ReceiverID int64     `db:"receiver_id" json:"receiver_id"`
	Message    string    `db:"message" json:"message"`
	Read       bool      `db:"read" json:"read"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Conversation is the unordered pair of participants, stored canonically
// with UserA <= UserB so that A->B and B->A map to the same key.
type Conversation struct {
	UserA int64
	UserB int64
}

// NewConversation returns the canonical conversation key for two participants.
func NewConversation(x, y int64) Conversation {
	if x > y {
		x, y = y, x
	}
	return Conversation{UserA: x, UserB: y}
}

// CleanupResult reports what a retention run removed.
type CleanupResult struct {
	OldDeleted    int64 `json:"old_deleted"`
	ExcessDeleted int64 `json:"excess_deleted"`
}

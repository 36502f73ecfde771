package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epicstoria/internal/config"
	"epicstoria/internal/model"
	"epicstoria/internal/pkg/db"
	"epicstoria/internal/pkg/db/dbtest"
	"epicstoria/internal/repository"
)

// fakeClock is a settable time source shared by the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	pool      *db.Pool
	clock     *fakeClock
	users     *repository.UserRepository
	quizzes   *repository.QuizCompletionRepository
	history   *repository.PointsHistoryRepository
	messages  *repository.MessageRepository
	points    *PointsService
	chat      *ChatService
	retention *RetentionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pool := dbtest.Setup(t)
	env := &testEnv{
		pool:     pool,
		clock:    newFakeClock(),
		users:    repository.NewUserRepository(pool),
		quizzes:  repository.NewQuizCompletionRepository(pool),
		history:  repository.NewPointsHistoryRepository(pool),
		messages: repository.NewMessageRepository(pool),
	}

	env.points = NewPointsService(pool, env.users, env.quizzes, env.history, nil, config.PointsConfig{
		QuizCooldown: DefaultQuizCooldown,
		HistoryLimit: 50,
	})
	env.points.now = env.clock.Now

	env.chat = NewChatService(pool, env.messages, nil, 100)
	env.chat.now = env.clock.Now

	env.retention = NewRetentionService(env.messages, nil, config.RetentionConfig{
		MaxAge:             7 * 24 * time.Hour,
		MaxPerConversation: 100,
	})
	env.retention.now = env.clock.Now

	return env
}

func (e *testEnv) createUser(t *testing.T, name string) *model.User {
	t.Helper()
	user, err := e.users.Create(context.Background(), name, nil, model.RoleUser)
	require.NoError(t, err)
	return user
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	user, err := e.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return user.Points
}

// requireLedgerBalanced asserts users.points equals the sum of the user's
// history entries.
func (e *testEnv) requireLedgerBalanced(t *testing.T, userID int64) {
	t.Helper()
	sum, err := e.history.SumByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, sum, e.balance(t, userID), "cached balance drifted from history")
}

func (e *testEnv) exec(t *testing.T, sql string) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(), sql)
	require.NoError(t, err)
}

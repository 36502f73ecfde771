package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				lastname VARCHAR(255),
				nickname VARCHAR(255),
				avatar_url TEXT,
				role VARCHAR(20) NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
				points INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
		`,
	},
	{
		name: "quiz_completions table",
		sql: `
			CREATE TABLE IF NOT EXISTS quiz_completions (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				event_id VARCHAR(255) NOT NULL,
				score NUMERIC(5, 2) NOT NULL,
				points_earned INTEGER NOT NULL DEFAULT 0,
				completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT quiz_completions_user_event_completed UNIQUE (user_id, event_id, completed_at)
			);
			CREATE INDEX IF NOT EXISTS idx_quiz_completions_user_event
				ON quiz_completions(user_id, event_id, completed_at DESC);
			CREATE INDEX IF NOT EXISTS idx_quiz_completions_completed_at ON quiz_completions(completed_at);
		`,
	},
	{
		name: "points_history table",
		sql: `
			CREATE TABLE IF NOT EXISTS points_history (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				points INTEGER NOT NULL,
				source VARCHAR(50) NOT NULL CHECK (source IN ('quiz', 'game')),
				source_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_points_history_user_time ON points_history(user_id, created_at DESC);
		`,
	},
	{
		name: "messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				receiver_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				message TEXT NOT NULL,
				read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_messages_sender_receiver ON messages(sender_id, receiver_id);
			CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id) WHERE read = false;
			CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
		`,
	},
}

// Migrate applies the schema. Every statement is idempotent so it is safe
// to run on each start.
func Migrate(ctx context.Context, conn DBTX) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := conn.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}

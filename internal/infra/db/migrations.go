package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create servers table",
		sql: `
			CREATE TABLE IF NOT EXISTS servers (
				server_id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				plan TEXT NOT NULL DEFAULT 'FREE',
				summary_channel TEXT,
				summary_hour INT NOT NULL DEFAULT 0,
				summary_timezone TEXT NOT NULL DEFAULT 'UTC',
				last_summary_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`,
	},
	{
		name: "create messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				server_id TEXT NOT NULL REFERENCES servers(server_id) ON DELETE CASCADE,
				channel_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				is_toxic BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_messages_server_created ON messages(server_id, created_at)
		`,
	},
	{
		name: "create summary runs table",
		sql: `
			CREATE TABLE IF NOT EXISTS summary_runs (
				id BIGSERIAL PRIMARY KEY,
				server_id TEXT NOT NULL REFERENCES servers(server_id) ON DELETE CASCADE,
				run_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_summary_runs_server_run_at ON summary_runs(server_id, run_at)
		`,
	},
	{
		name: "create report job statuses table",
		sql: `
			CREATE TABLE IF NOT EXISTS report_job_statuses (
				job_id TEXT PRIMARY KEY,
				attempts INT NOT NULL DEFAULT 0,
				delivered_at TIMESTAMPTZ,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`,
	},
}

// Migrate применяет схему при старте. Все выражения идемпотентны, поэтому
// таблица версий не нужна.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("миграция %q: %w", m.name, err)
		}
	}
	return nil
}

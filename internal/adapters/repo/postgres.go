package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ServerRepo     = (*Postgres)(nil)
	_ domain.MessageRepo    = (*Postgres)(nil)
	_ domain.SummaryRunRepo = (*Postgres)(nil)
	_ domain.ReportJobRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertServer регистрирует сервер или обновляет его имя. Пустое имя не
// затирает сохранённое: события шлюза не всегда его несут.
func (p *Postgres) UpsertServer(ctx context.Context, serverID, name string) (domain.Server, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	name = strings.TrimSpace(name)

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO servers (server_id, name, plan, summary_hour, summary_timezone, created_at, updated_at)
VALUES ($1, $2, 'FREE', 0, 'UTC', now(), now())
ON CONFLICT (server_id) DO UPDATE
    SET name = COALESCE(NULLIF(EXCLUDED.name, ''), servers.name),
        updated_at = now()
RETURNING server_id, name, plan, COALESCE(summary_channel, ''), summary_hour, summary_timezone, last_summary_at, created_at, updated_at
`, serverID, name)
	server, err := scanServer(row)
	metrics.ObserveNetworkRequest("postgres", "servers_upsert", "servers", start, err)
	if err != nil {
		return domain.Server{}, fmt.Errorf("upsert сервера: %w", err)
	}
	return server, nil
}

// GetServer возвращает сервер по идентификатору гильдии.
func (p *Postgres) GetServer(ctx context.Context, serverID string) (domain.Server, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT server_id, name, plan, COALESCE(summary_channel, ''), summary_hour, summary_timezone, last_summary_at, created_at, updated_at
FROM servers
WHERE server_id = $1
`, serverID)
	server, err := scanServer(row)
	metrics.ObserveNetworkRequest("postgres", "servers_get", "servers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Server{}, domain.ErrServerNotFound
	}
	if err != nil {
		return domain.Server{}, fmt.Errorf("получение сервера: %w", err)
	}
	return server, nil
}

// SetSummaryChannel сохраняет канал доставки отчётов.
func (p *Postgres) SetSummaryChannel(ctx context.Context, serverID, channelID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE servers SET summary_channel = $2, updated_at = now() WHERE server_id = $1
`, serverID, channelID)
	metrics.ObserveNetworkRequest("postgres", "servers_set_summary_channel", "servers", start, err)
	if err != nil {
		return fmt.Errorf("сохранение канала отчётов: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// SetSummarySchedule сохраняет час и часовой пояс доставки.
func (p *Postgres) SetSummarySchedule(ctx context.Context, serverID string, hour int, timezone string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE servers SET summary_hour = $2, summary_timezone = $3, updated_at = now() WHERE server_id = $1
`, serverID, hour, timezone)
	metrics.ObserveNetworkRequest("postgres", "servers_set_summary_schedule", "servers", start, err)
	if err != nil {
		return fmt.Errorf("сохранение расписания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// SetLastSummaryAt отмечает время последнего успешного отчёта.
func (p *Postgres) SetLastSummaryAt(ctx context.Context, serverID string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE servers SET last_summary_at = $2, updated_at = now() WHERE server_id = $1
`, serverID, at.UTC())
	metrics.ObserveNetworkRequest("postgres", "servers_set_last_summary_at", "servers", start, err)
	if err != nil {
		return fmt.Errorf("обновление last_summary_at: %w", err)
	}
	return nil
}

// SetPlan меняет тариф сервера.
func (p *Postgres) SetPlan(ctx context.Context, serverID string, plan domain.Plan) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE servers SET plan = $2, updated_at = now() WHERE server_id = $1
`, serverID, string(plan))
	metrics.ObserveNetworkRequest("postgres", "servers_set_plan", "servers", start, err)
	if err != nil {
		return fmt.Errorf("смена тарифа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// SaveMessage сохраняет входящее сообщение.
func (p *Postgres) SaveMessage(ctx context.Context, msg domain.Message) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO messages (server_id, channel_id, user_id, username, content, is_toxic, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, msg.ServerID, msg.ChannelID, msg.UserID, msg.Username, msg.Content, msg.IsToxic, createdAt)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if err != nil {
		return fmt.Errorf("сохранение сообщения: %w", err)
	}
	return nil
}

// ListMessagesSince возвращает сообщения сервера с указанного момента в
// порядке поступления.
func (p *Postgres) ListMessagesSince(ctx context.Context, serverID string, since time.Time) ([]domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, server_id, channel_id, user_id, username, content, is_toxic, created_at
FROM messages
WHERE server_id = $1 AND created_at >= $2
ORDER BY created_at
`, serverID, since)
	metrics.ObserveNetworkRequest("postgres", "messages_list_since", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ServerID, &msg.ChannelID, &msg.UserID, &msg.Username, &msg.Content, &msg.IsToxic, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение сообщения: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("обход сообщений: %w", err)
	}
	return result, nil
}

// CountMessagesSince считает сообщения сервера с указанного момента.
func (p *Postgres) CountMessagesSince(ctx context.Context, serverID string, since time.Time) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM messages WHERE server_id = $1 AND created_at >= $2
`, serverID, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "messages_count_since", "messages", start, err)
	if err != nil {
		return 0, fmt.Errorf("подсчёт сообщений: %w", err)
	}
	return count, nil
}

// RecordSummaryRun фиксирует успешную отправку отчёта.
func (p *Postgres) RecordSummaryRun(ctx context.Context, serverID string, runAt time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO summary_runs (server_id, run_at) VALUES ($1, $2)
`, serverID, runAt.UTC())
	metrics.ObserveNetworkRequest("postgres", "summary_runs_insert", "summary_runs", start, err)
	if err != nil {
		return fmt.Errorf("запись отчёта: %w", err)
	}
	return nil
}

// CountSummaryRunsSince считает отчёты сервера с указанного момента.
func (p *Postgres) CountSummaryRunsSince(ctx context.Context, serverID string, since time.Time) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM summary_runs WHERE server_id = $1 AND run_at >= $2
`, serverID, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "summary_runs_count_since", "summary_runs", start, err)
	if err != nil {
		return 0, fmt.Errorf("подсчёт отчётов: %w", err)
	}
	return count, nil
}

// EnsureReportJob регистрирует попытку обработки задачи отчёта.
func (p *Postgres) EnsureReportJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		delivered sql.NullTime
		attempts  int
	)

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO report_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = report_job_statuses.attempts + 1,
        updated_at = now()
RETURNING delivered_at, attempts
`, jobID).Scan(&delivered, &attempts)
	metrics.ObserveNetworkRequest("postgres", "report_job_statuses_upsert", "report_job_statuses", start, err)
	if err != nil {
		return false, 0, fmt.Errorf("регистрация задачи отчёта: %w", err)
	}
	return delivered.Valid, attempts, nil
}

// MarkReportJobDelivered отмечает задачу отчёта доставленной.
func (p *Postgres) MarkReportJobDelivered(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE report_job_statuses
SET delivered_at = now(), updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "report_job_statuses_mark_delivered", "report_job_statuses", start, err)
	if err != nil {
		return fmt.Errorf("отметка доставки задачи: %w", err)
	}
	return nil
}

func scanServer(row pgx.Row) (domain.Server, error) {
	var (
		server        domain.Server
		plan          string
		lastSummaryAt sql.NullTime
	)
	err := row.Scan(&server.ServerID, &server.Name, &plan, &server.SummaryChannel, &server.SummaryHour, &server.SummaryTimezone, &lastSummaryAt, &server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		return domain.Server{}, err
	}
	server.Plan = domain.Plan(plan)
	if lastSummaryAt.Valid {
		at := lastSummaryAt.Time
		server.LastSummaryAt = &at
	}
	return server, nil
}

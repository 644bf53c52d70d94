package report

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/domain"
)

const maxJobAttempts = 3

// Worker вычитывает задачи внеплановых отчётов из очереди и исполняет их.
// Идемпотентность обеспечивает реестр задач в Postgres: повторная доставка
// одного job_id не приводит к повторной отправке отчёта.
type Worker struct {
	queue   domain.ReportQueue
	jobs    domain.ReportJobRepo
	servers domain.ServerRepo
	runner  domain.ReportRunner
	logger  zerolog.Logger
}

// NewWorker создаёт воркер очереди отчётов.
func NewWorker(queue domain.ReportQueue, jobs domain.ReportJobRepo, servers domain.ServerRepo, runner domain.ReportRunner, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, jobs: jobs, servers: servers, runner: runner, logger: logger}
}

// Run блокируется до отмены контекста, обрабатывая задачи по одной.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("report worker: чтение очереди")
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job domain.ReportJob) {
	logger := w.logger.With().Str("job_id", job.JobID).Str("server_id", job.ServerID).Logger()

	delivered, attempts, err := w.jobs.EnsureReportJob(ctx, job.JobID)
	if err != nil {
		logger.Error().Err(err).Msg("report worker: регистрация задачи")
		return
	}
	if delivered {
		logger.Info().Msg("report worker: задача уже доставлена, пропуск")
		return
	}
	if attempts > maxJobAttempts {
		logger.Warn().Int("attempts", attempts).Msg("report worker: лимит попыток исчерпан")
		return
	}

	guild := domain.GuildMeta{ID: job.ServerID}
	if server, err := w.servers.GetServer(ctx, job.ServerID); err == nil {
		guild.Name = server.Name
	}

	if err := w.runner.RunDailyReport(ctx, guild); err != nil {
		var quotaErr *QuotaError
		switch {
		case errors.As(err, &quotaErr):
			logger.Info().Str("reason", quotaErr.Reason).Msg("report worker: квота отчётов исчерпана")
		case errors.Is(err, ErrNoDeliveryTarget):
			logger.Warn().Msg("report worker: нет канала для доставки")
		default:
			logger.Error().Err(err).Msg("report worker: отчёт не построен")
			return
		}
		// Квота и отсутствие канала — терминальные исходы, задача закрывается.
	}

	if err := w.jobs.MarkReportJobDelivered(ctx, job.JobID); err != nil {
		logger.Error().Err(err).Msg("report worker: отметка доставки")
	}
}

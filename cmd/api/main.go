package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"discord-sentry-bot/internal/adapters/repo"
	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/config"
	"discord-sentry-bot/internal/infra/db"
	"discord-sentry-bot/internal/infra/metrics"
	"discord-sentry-bot/internal/infra/queue"
	"discord-sentry-bot/internal/usecase/quota"
	"discord-sentry-bot/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("api: не удалось применить миграции")
	}

	repoAdapter := repo.NewPostgres(pool)
	quotaGate := quota.NewService(repoAdapter, repoAdapter, repoAdapter, nil)
	reportQueue := buildReportQueue(cfg)

	r := chi.NewRouter()

	r.Get("/api/v1/servers/{serverID}", func(w http.ResponseWriter, r *http.Request) {
		server, err := repoAdapter.GetServer(r.Context(), chi.URLParam(r, "serverID"))
		if err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: получение сервера")
			writeError(w, http.StatusInternalServerError, "failed to load server")
			return
		}
		writeJSON(w, serverResponse(server))
	})

	r.Put("/api/v1/servers/{serverID}/summary-channel", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ChannelID == "" {
			writeError(w, http.StatusBadRequest, "channel_id is required")
			return
		}
		if err := repoAdapter.SetSummaryChannel(r.Context(), chi.URLParam(r, "serverID"), req.ChannelID); err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: сохранение канала отчётов")
			writeError(w, http.StatusInternalServerError, "failed to save setting")
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Put("/api/v1/servers/{serverID}/summary-time", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Hour     int    `json:"hour"`
			Timezone string `json:"timezone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := schedule.ValidateHour(req.Hour); err != nil {
			writeError(w, http.StatusBadRequest, "hour must be between 0 and 23")
			return
		}
		timezone := req.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		normalized, err := schedule.NormalizeTimezone(timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", req.Timezone))
			return
		}
		if err := repoAdapter.SetSummarySchedule(r.Context(), chi.URLParam(r, "serverID"), req.Hour, normalized); err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: сохранение расписания")
			writeError(w, http.StatusInternalServerError, "failed to save setting")
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Put("/api/v1/servers/{serverID}/plan", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Plan string `json:"plan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		plan := domain.Plan(strings.ToUpper(strings.TrimSpace(req.Plan)))
		if domain.LimitsForPlan(plan).Plan != plan {
			writeError(w, http.StatusBadRequest, "unknown plan")
			return
		}
		if err := repoAdapter.SetPlan(r.Context(), chi.URLParam(r, "serverID"), plan); err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: смена тарифа")
			writeError(w, http.StatusInternalServerError, "failed to change plan")
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/api/v1/servers/{serverID}/usage", func(w http.ResponseWriter, r *http.Request) {
		serverID := chi.URLParam(r, "serverID")
		server, err := repoAdapter.GetServer(r.Context(), serverID)
		if err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: получение сервера")
			writeError(w, http.StatusInternalServerError, "failed to load server")
			return
		}

		messages, err := quotaGate.CheckQuota(r.Context(), serverID, domain.ResourceMessageWrite)
		if err != nil {
			log.Error().Err(err).Msg("api: квота сообщений")
			writeError(w, http.StatusInternalServerError, "failed to compute usage")
			return
		}
		summaries, err := quotaGate.CheckQuota(r.Context(), serverID, domain.ResourceSummaryRun)
		if err != nil {
			log.Error().Err(err).Msg("api: квота отчётов")
			writeError(w, http.StatusInternalServerError, "failed to compute usage")
			return
		}

		limits := server.Limits()
		writeJSON(w, map[string]any{
			"plan":  limits.Name,
			"price": limits.Price,
			"messages": map[string]any{
				"used":  messages.Current,
				"limit": limits.MaxMessagesPerDay,
			},
			"summaries": map[string]any{
				"used":  summaries.Current,
				"limit": limits.SummariesPerDay,
			},
		})
	})

	r.Get("/api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		plans := []domain.PlanLimits{
			domain.LimitsForPlan(domain.PlanFree),
			domain.LimitsForPlan(domain.PlanStarter),
			domain.LimitsForPlan(domain.PlanPro),
		}
		out := make([]map[string]any, 0, len(plans))
		for _, p := range plans {
			out = append(out, map[string]any{
				"plan":                 p.Plan,
				"price":                p.Price,
				"max_messages_per_day": p.MaxMessagesPerDay,
				"summaries_per_day":    p.SummariesPerDay,
			})
		}
		writeJSON(w, out)
	})

	r.Post("/api/v1/servers/{serverID}/reports", func(w http.ResponseWriter, r *http.Request) {
		if reportQueue == nil {
			writeError(w, http.StatusServiceUnavailable, "report queue is not configured")
			return
		}
		serverID := chi.URLParam(r, "serverID")
		if _, err := repoAdapter.GetServer(r.Context(), serverID); err != nil {
			if errors.Is(err, domain.ErrServerNotFound) {
				writeError(w, http.StatusNotFound, "server not found")
				return
			}
			log.Error().Err(err).Msg("api: получение сервера")
			writeError(w, http.StatusInternalServerError, "failed to load server")
			return
		}

		job := domain.ReportJob{JobID: uuid.NewString(), ServerID: serverID}
		if err := reportQueue.Enqueue(r.Context(), job); err != nil {
			log.Error().Err(err).Str("server_id", serverID).Msg("api: постановка задачи отчёта")
			writeError(w, http.StatusInternalServerError, "failed to enqueue report")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.JobID, "status": "queued"})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildReportQueue(cfg config.AppConfig) domain.ReportQueue {
	switch cfg.Queues.Driver {
	case "rabbitmq":
		rq, err := queue.NewRabbitReportQueue(cfg.Queues.AMQPURL, cfg.Queues.Reports)
		if err != nil {
			log.Error().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
			return nil
		}
		return rq
	case "redis":
		if cfg.RedisAddr == "" {
			return nil
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisReportQueue(client, cfg.Queues.Reports)
	default:
		log.Error().Str("driver", cfg.Queues.Driver).Msg("api: неизвестный драйвер очереди")
		return nil
	}
}

func serverResponse(server domain.Server) map[string]any {
	limits := server.Limits()
	resp := map[string]any{
		"server_id":        server.ServerID,
		"name":             server.Name,
		"plan":             server.Plan,
		"limits": map[string]any{
			"max_messages_per_day": limits.MaxMessagesPerDay,
			"summaries_per_day":    limits.SummariesPerDay,
		},
		"summary_channel":  server.SummaryChannel,
		"summary_hour":     server.SummaryHour,
		"summary_timezone": server.SummaryTimezone,
		"created_at":       server.CreatedAt,
		"updated_at":       server.UpdatedAt,
	}
	if server.LastSummaryAt != nil {
		resp["last_summary_at"] = server.LastSummaryAt
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

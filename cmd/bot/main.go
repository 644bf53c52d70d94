package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/adapters/bot"
	"discord-sentry-bot/internal/adapters/discord"
	"discord-sentry-bot/internal/adapters/repo"
	"discord-sentry-bot/internal/adapters/summarizer"
	"discord-sentry-bot/internal/adapters/toxicity"
	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/cache"
	"discord-sentry-bot/internal/infra/config"
	"discord-sentry-bot/internal/infra/db"
	"discord-sentry-bot/internal/infra/log"
	"discord-sentry-bot/internal/infra/metrics"
	"discord-sentry-bot/internal/infra/openai"
	"discord-sentry-bot/internal/infra/queue"
	"discord-sentry-bot/internal/usecase/quota"
	"discord-sentry-bot/internal/usecase/report"
	"discord-sentry-bot/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	metrics.StartServer(rootCtx, logger, cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()
	if err := db.Migrate(rootCtx, pool); err != nil {
		logger.Fatal().Err(err).Msg("не удалось применить миграции")
	}

	var appCache domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		appCache = cache.NewRedis(redisClient)
	} else {
		logger.Warn().Msg("REDIS_ADDR не задан, кэш работает в памяти процесса")
		appCache = cache.NewMemory()
	}

	repoAdapter := repo.NewPostgres(pool)
	detector := toxicity.NewWordList()
	quotaGate := quota.NewService(repoAdapter, repoAdapter, repoAdapter, appCache)

	var openaiClient *openai.Client
	if cfg.OpenAI.APIKey != "" {
		openaiClient = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, time.Duration(cfg.OpenAI.Timeout)*time.Second)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY не задан, отчёты будут без AI-резюме")
	}
	generator := summarizer.NewOpenAI(openaiClient, cfg.OpenAI.Model, time.Duration(cfg.OpenAI.Timeout)*time.Second)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать Discord-сессию")
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	platform := discord.NewClient(session)
	reportService := report.NewService(repoAdapter, repoAdapter, repoAdapter, quotaGate, generator, platform, logger)
	scheduler := schedule.NewScheduler(repoAdapter, platform, reportService, logger)

	reportQueue := buildReportQueue(cfg, redisClient, logger)
	if reportQueue != nil {
		worker := report.NewWorker(reportQueue, repoAdapter, repoAdapter, reportService, logger)
		go func() {
			if err := worker.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Error().Err(err).Msg("воркер очереди отчётов остановлен")
			}
		}()
	} else {
		logger.Warn().Msg("очередь отчётов не настроена, задачи из API обрабатываться не будут")
	}

	handler := bot.NewHandler(logger, repoAdapter, repoAdapter, detector, quotaGate, reportService, scheduler, appCache)
	handler.Register(session)

	if err := session.Open(); err != nil {
		logger.Fatal().Err(err).Msg("не удалось открыть соединение со шлюзом")
	}
	logger.Info().Msg("бот запущен")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("остановка бота")

	scheduler.Stop()
	rootCancel()
	if err := session.Close(); err != nil {
		logger.Error().Err(err).Msg("закрытие сессии")
	}
}

// buildReportQueue выбирает драйвер очереди по конфигу. Отсутствие очереди не
// фатально: плановые и ручные отчёты через слэш-команды продолжают работать.
func buildReportQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.ReportQueue {
	switch cfg.Queues.Driver {
	case "rabbitmq":
		rq, err := queue.NewRabbitReportQueue(cfg.Queues.AMQPURL, cfg.Queues.Reports)
		if err != nil {
			logger.Error().Err(err).Msg("не удалось подключиться к RabbitMQ")
			return nil
		}
		return rq
	case "redis":
		if redisClient == nil {
			return nil
		}
		return queue.NewRedisReportQueue(redisClient, cfg.Queues.Reports)
	default:
		logger.Error().Str("driver", cfg.Queues.Driver).Msg("неизвестный драйвер очереди")
		return nil
	}
}

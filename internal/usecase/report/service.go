package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/metrics"
)

// ErrNoDeliveryTarget возвращается, если у сервера нет канала для отчёта.
var ErrNoDeliveryTarget = errors.New("нет канала для доставки отчёта")

// QuotaError сигнализирует об исчерпанной дневной квоте отчётов. На
// плановом пути гасится молча, на ручном — причина показывается пользователю.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	if e.Reason == "" {
		return "summary quota exhausted"
	}
	return e.Reason
}

// Каналы, куда бот складывает отчёт, если явный канал не настроен.
var preferredChannelNames = []string{"mod-log", "admin", "reports", "bot", "moderation"}

const (
	maxFallbackTargets = 3
	lookbackWindow     = 24 * time.Hour
	fallbackSummary    = "No AI summary available."
)

// Service реализует оркестрацию дневного отчёта: квота, выборка, агрегация,
// генерация, форматирование и доставка.
type Service struct {
	servers   domain.ServerRepo
	messages  domain.MessageRepo
	runs      domain.SummaryRunRepo
	quota     domain.QuotaGate
	generator domain.SummaryGenerator
	platform  domain.ChatPlatform
	logger    zerolog.Logger
	now       func() time.Time
}

var _ domain.ReportRunner = (*Service)(nil)

// NewService создаёт сервис отчётов.
func NewService(servers domain.ServerRepo, messages domain.MessageRepo, runs domain.SummaryRunRepo, quota domain.QuotaGate, generator domain.SummaryGenerator, platform domain.ChatPlatform, logger zerolog.Logger) *Service {
	return &Service{
		servers:   servers,
		messages:  messages,
		runs:      runs,
		quota:     quota,
		generator: generator,
		platform:  platform,
		logger:    logger,
		now:       time.Now,
	}
}

// RunDailyReport строит и доставляет отчёт одного сервера. Запись SummaryRun
// появляется тогда и только тогда, когда хотя бы одна доставка удалась.
func (s *Service) RunDailyReport(ctx context.Context, guild domain.GuildMeta) error {
	start := time.Now()
	defer func() { metrics.ReportBuildSeconds.Observe(time.Since(start).Seconds()) }()

	server, err := s.servers.UpsertServer(ctx, guild.ID, guild.Name)
	if err != nil {
		return fmt.Errorf("регистрация сервера: %w", err)
	}

	check, err := s.quota.CheckQuota(ctx, guild.ID, domain.ResourceSummaryRun)
	if err != nil {
		return fmt.Errorf("проверка квоты: %w", err)
	}
	if !check.Allowed {
		return &QuotaError{Reason: check.Reason}
	}

	targets, err := s.resolveTargets(guild.ID, server.SummaryChannel)
	if err != nil {
		return err
	}

	since := s.now().Add(-lookbackWindow)
	batch, err := s.messages.ListMessagesSince(ctx, guild.ID, since)
	if err != nil {
		return fmt.Errorf("получение сообщений: %w", err)
	}

	if len(batch) == 0 {
		// Без активности отчёт уходит только в первичный канал.
		if err := s.sendBlocks(targets[:1], []string{NoActivityBlock}); err != nil {
			return err
		}
		return s.recordRun(ctx, guild.ID)
	}

	agg := Aggregate(batch)
	data := Data{
		ShortSummary:  fallbackSummary,
		TopChannels:   s.resolveChannelNames(guild.ID, agg.TopChannels),
		TotalMessages: agg.TotalMessages,
		ToxicUsers:    agg.ToxicUsers,
		ToxicMessages: agg.ToxicMessages,
	}

	generated, err := s.generator.Generate(ctx, batch)
	if err != nil {
		// Мягкая зависимость: отчёт продолжается без AI-резюме.
		s.logger.Warn().Err(err).Str("server_id", guild.ID).Msg("report: генерация резюме не удалась")
	}
	if generated != nil {
		data.ShortSummary = generated.ShortSummary
		data.Topics = generated.DiscussionTopics
		// MostActiveChannels и TotalMessageCount бэкенда игнорируются:
		// статистика в отчёте всегда локально проверяемая.
	}

	if err := s.sendBlocks(targets, FormatReport(data)); err != nil {
		return err
	}
	return s.recordRun(ctx, guild.ID)
}

// resolveTargets выбирает каналы доставки: настроенный канал, иначе до трёх
// каналов по предпочтительным именам и праву отправки.
func (s *Service) resolveTargets(guildID, configured string) ([]domain.ChannelMeta, error) {
	channels, err := s.platform.ListTextChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("каналы гильдии: %w", err)
	}

	if configured != "" {
		for _, ch := range channels {
			if ch.ID == configured && ch.CanSend {
				return []domain.ChannelMeta{ch}, nil
			}
		}
		s.logger.Warn().Str("server_id", guildID).Str("channel_id", configured).Msg("report: настроенный канал недоступен")
		return nil, ErrNoDeliveryTarget
	}

	var preferred, others []domain.ChannelMeta
	for _, ch := range channels {
		if !ch.CanSend {
			continue
		}
		if isPreferredName(ch.Name) {
			preferred = append(preferred, ch)
		} else {
			others = append(others, ch)
		}
	}
	targets := append(preferred, others...)
	if len(targets) == 0 {
		s.logger.Warn().Str("server_id", guildID).Msg("report: нет доступного канала, настройте /set-summary-channel")
		return nil, ErrNoDeliveryTarget
	}
	if len(targets) > maxFallbackTargets {
		targets = targets[:maxFallbackTargets]
	}
	return targets, nil
}

// sendBlocks отправляет блоки по очереди в каждый канал. Ошибка одного канала
// не мешает остальным; провал всех каналов — ошибка доставки.
func (s *Service) sendBlocks(targets []domain.ChannelMeta, blocks []string) error {
	delivered := false
	for _, target := range targets {
		failed := false
		for _, block := range blocks {
			if err := s.platform.SendBlock(target.ID, block); err != nil {
				metrics.ReportSendErrors.Inc()
				s.logger.Error().Err(err).Str("channel_id", target.ID).Msg("report: блок не отправлен")
				failed = true
				break
			}
		}
		if !failed {
			delivered = true
		}
	}
	if !delivered {
		return fmt.Errorf("отчёт не доставлен ни в один канал")
	}
	return nil
}

// recordRun фиксирует успешную отправку ровно один раз за оркестрацию.
func (s *Service) recordRun(ctx context.Context, serverID string) error {
	runAt := s.now().UTC()
	if err := s.runs.RecordSummaryRun(ctx, serverID, runAt); err != nil {
		return fmt.Errorf("запись отчёта: %w", err)
	}
	if err := s.servers.SetLastSummaryAt(ctx, serverID, runAt); err != nil {
		return fmt.Errorf("обновление last_summary_at: %w", err)
	}
	metrics.ReportsSent.WithLabelValues(serverID).Inc()
	return nil
}

func (s *Service) resolveChannelNames(guildID string, channels []domain.ChannelActivity) []domain.ChannelActivity {
	resolved := make([]domain.ChannelActivity, len(channels))
	for i, ch := range channels {
		ch.ChannelName = s.platform.ChannelName(guildID, ch.ChannelID)
		resolved[i] = ch
	}
	return resolved
}

func isPreferredName(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range preferredChannelNames {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

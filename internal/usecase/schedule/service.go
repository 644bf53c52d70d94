package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/usecase/report"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// ErrInvalidHour возвращается, если час доставки вне диапазона 0..23.
var ErrInvalidHour = errors.New("invalid hour")

// tickInterval — шаг проверки расписаний. Условие срабатывания допускает
// минуты 0..14, поэтому каждый настроенный час ловится ровно одним тиком.
const tickInterval = 15 * time.Minute

// Scheduler раз в tickInterval обходит известные гильдии и запускает отчёт
// для тех, у кого локальный час совпал с настроенным.
type Scheduler struct {
	servers  domain.ServerRepo
	guilds   domain.GuildEnumerator
	runner   domain.ReportRunner
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScheduler создаёт планировщик дневных отчётов.
func NewScheduler(servers domain.ServerRepo, guilds domain.GuildEnumerator, runner domain.ReportRunner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		servers:  servers,
		guilds:   guilds,
		runner:   runner,
		logger:   logger,
		interval: tickInterval,
		now:      time.Now,
	}
}

// Start запускает цикл тиков. Повторный вызов перезапускает цикл вместо
// наслоения двух: шлюз может прислать событие готовности несколько раз.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop останавливает цикл. Повторный вызов безопасен.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runTick(ctx, s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

// runTick обходит гильдии одного тика. Ошибка одного сервера не прерывает
// обход остальных.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	for _, guild := range s.guilds.Guilds() {
		due, err := s.shouldRunNow(ctx, guild.ID, now)
		if err != nil {
			s.logger.Error().Err(err).Str("server_id", guild.ID).Msg("scheduler: проверка расписания")
			continue
		}
		if !due {
			continue
		}
		if err := s.runner.RunDailyReport(ctx, guild); err != nil {
			logDeliveryOutcome(s.logger, guild.ID, err)
		}
	}
}

func (s *Scheduler) shouldRunNow(ctx context.Context, serverID string, now time.Time) (bool, error) {
	server, err := s.servers.GetServer(ctx, serverID)
	if errors.Is(err, domain.ErrServerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("получение сервера: %w", err)
	}

	loc, err := time.LoadLocation(server.SummaryTimezone)
	if err != nil {
		return false, fmt.Errorf("часовой пояс %q: %w", server.SummaryTimezone, err)
	}
	local := now.In(loc)
	return local.Hour() == server.SummaryHour && local.Minute() < 15, nil
}

// logDeliveryOutcome отделяет штатные исходы (квота, нет канала) от настоящих
// ошибок: у планового пути нет пользователя, которому можно пожаловаться.
func logDeliveryOutcome(logger zerolog.Logger, serverID string, err error) {
	event := logger.Error()
	var quotaErr *report.QuotaError
	if errors.As(err, &quotaErr) || errors.Is(err, report.ErrNoDeliveryTarget) {
		event = logger.Info()
	}
	event.Err(err).Str("server_id", serverID).Msg("scheduler: отчёт не отправлен")
}

// ValidateHour проверяет час доставки.
func ValidateHour(hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	return nil
}

// NormalizeTimezone приводит пользовательский ввод к каноническому имени IANA:
// пробелы заменяются подчёркиваниями, регистр сегментов выправляется.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}

package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/metrics"
)

const planCacheTTL = time.Minute

// Service реализует проверку дневных квот по тарифу сервера.
// Сам ничего не записывает: вызывающий код выполняет действие, и счётчик
// естественно отражает накопленное состояние при следующей проверке.
type Service struct {
	servers  domain.ServerRepo
	messages domain.MessageRepo
	runs     domain.SummaryRunRepo
	cache    domain.Cache
}

var _ domain.QuotaGate = (*Service)(nil)

// NewService создаёт гейт квот. cache может быть nil.
func NewService(servers domain.ServerRepo, messages domain.MessageRepo, runs domain.SummaryRunRepo, cache domain.Cache) *Service {
	return &Service{servers: servers, messages: messages, runs: runs, cache: cache}
}

// CheckQuota проверяет, может ли сервер выполнить ещё одно действие класса class
// сегодня. Окно счёта — календарный день UTC. Неизвестный сервер пропускается
// (fail-open): запись о нём появится при первом контакте.
func (s *Service) CheckQuota(ctx context.Context, serverID string, class domain.ResourceClass) (domain.LimitCheck, error) {
	plan, err := s.resolvePlan(ctx, serverID)
	if err != nil {
		if errors.Is(err, domain.ErrServerNotFound) {
			return domain.LimitCheck{Allowed: true}, nil
		}
		return domain.LimitCheck{}, fmt.Errorf("получение сервера: %w", err)
	}

	ceiling := domain.LimitsForPlan(plan).Ceiling(class)
	if ceiling == domain.Unlimited {
		return domain.LimitCheck{Allowed: true}, nil
	}

	since := startOfUTCDay(time.Now())
	count, err := s.countSince(ctx, serverID, class, since)
	if err != nil {
		return domain.LimitCheck{}, fmt.Errorf("подсчёт квоты: %w", err)
	}

	check := domain.LimitCheck{
		Allowed: count < ceiling,
		Current: count,
		Limit:   ceiling,
	}
	if !check.Allowed {
		check.Reason = denialReason(class, ceiling)
		metrics.QuotaDenials.WithLabelValues(string(class)).Inc()
	}
	return check, nil
}

func (s *Service) countSince(ctx context.Context, serverID string, class domain.ResourceClass, since time.Time) (int, error) {
	switch class {
	case domain.ResourceMessageWrite:
		return s.messages.CountMessagesSince(ctx, serverID, since)
	case domain.ResourceSummaryRun:
		return s.runs.CountSummaryRunsSince(ctx, serverID, since)
	}
	return 0, fmt.Errorf("неизвестный класс ресурса %q", class)
}

// resolvePlan возвращает тариф сервера, подглядывая в кэш: квота проверяется
// перед каждым сообщением, и поход в БД за тарифом на каждое из них избыточен.
func (s *Service) resolvePlan(ctx context.Context, serverID string) (domain.Plan, error) {
	key := "plan:" + serverID
	if s.cache != nil {
		if raw, err := s.cache.Get(key); err == nil {
			var plan domain.Plan
			if err := json.Unmarshal(raw, &plan); err == nil {
				return plan, nil
			}
		}
	}
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(server.Plan); err == nil {
			_ = s.cache.Set(key, raw, planCacheTTL)
		}
	}
	return server.Plan, nil
}

func denialReason(class domain.ResourceClass, ceiling int) string {
	switch class {
	case domain.ResourceMessageWrite:
		return fmt.Sprintf("Plan limit: %d messages/day reached. Upgrade for more.", ceiling)
	case domain.ResourceSummaryRun:
		return fmt.Sprintf("Plan limit: %d summary(ies) per day. Upgrade for more.", ceiling)
	}
	return "Plan limit reached."
}

func startOfUTCDay(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

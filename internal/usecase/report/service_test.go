package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/domain"
)

type stubServers struct {
	server         domain.Server
	upsertErr      error
	lastSummarySet int
}

func (s *stubServers) UpsertServer(context.Context, string, string) (domain.Server, error) {
	return s.server, s.upsertErr
}
func (s *stubServers) GetServer(context.Context, string) (domain.Server, error) {
	return s.server, nil
}
func (s *stubServers) SetSummaryChannel(context.Context, string, string) error { return nil }
func (s *stubServers) SetSummarySchedule(context.Context, string, int, string) error {
	return nil
}
func (s *stubServers) SetLastSummaryAt(context.Context, string, time.Time) error {
	s.lastSummarySet++
	return nil
}
func (s *stubServers) SetPlan(context.Context, string, domain.Plan) error { return nil }

type stubMessages struct {
	batch []domain.Message
}

func (s *stubMessages) SaveMessage(context.Context, domain.Message) error { return nil }
func (s *stubMessages) ListMessagesSince(context.Context, string, time.Time) ([]domain.Message, error) {
	return s.batch, nil
}
func (s *stubMessages) CountMessagesSince(context.Context, string, time.Time) (int, error) {
	return len(s.batch), nil
}

type stubRuns struct {
	recorded int
}

func (s *stubRuns) RecordSummaryRun(context.Context, string, time.Time) error {
	s.recorded++
	return nil
}
func (s *stubRuns) CountSummaryRunsSince(context.Context, string, time.Time) (int, error) {
	return s.recorded, nil
}

type stubQuota struct {
	check domain.LimitCheck
	err   error
}

func (s *stubQuota) CheckQuota(context.Context, string, domain.ResourceClass) (domain.LimitCheck, error) {
	return s.check, s.err
}

type stubGenerator struct {
	summary *domain.GeneratedSummary
	err     error
	called  int
}

func (s *stubGenerator) Generate(context.Context, []domain.Message) (*domain.GeneratedSummary, error) {
	s.called++
	return s.summary, s.err
}

type stubPlatform struct {
	channels []domain.ChannelMeta
	listErr  error
	sent     map[string][]string
	sendErr  map[string]error
}

func newStubPlatform(channels ...domain.ChannelMeta) *stubPlatform {
	return &stubPlatform{channels: channels, sent: make(map[string][]string), sendErr: make(map[string]error)}
}

func (s *stubPlatform) ListTextChannels(string) ([]domain.ChannelMeta, error) {
	return s.channels, s.listErr
}
func (s *stubPlatform) ChannelName(_, channelID string) string {
	for _, ch := range s.channels {
		if ch.ID == channelID {
			return ch.Name
		}
	}
	return channelID
}
func (s *stubPlatform) SendBlock(channelID, content string) error {
	if err := s.sendErr[channelID]; err != nil {
		return err
	}
	s.sent[channelID] = append(s.sent[channelID], content)
	return nil
}

func newReportService(servers *stubServers, messages *stubMessages, runs *stubRuns, quotaGate *stubQuota, gen *stubGenerator, platform *stubPlatform) *Service {
	return NewService(servers, messages, runs, quotaGate, gen, platform, zerolog.Nop())
}

func TestRunDailyReportQuotaDenied(t *testing.T) {
	platform := newStubPlatform(domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true})
	runs := &stubRuns{}
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}},
		&stubMessages{},
		runs,
		&stubQuota{check: domain.LimitCheck{Allowed: false, Reason: "Plan limit: 1 summary(ies) per day. Upgrade for more."}},
		&stubGenerator{},
		platform,
	)

	err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"})
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("ожидали QuotaError, получили %v", err)
	}
	if !strings.Contains(quotaErr.Reason, "Plan limit") {
		t.Fatalf("причина должна попадать в ошибку: %q", quotaErr.Reason)
	}
	if len(platform.sent) != 0 {
		t.Fatalf("при отказе квоты ничего не отправляется")
	}
	if runs.recorded != 0 {
		t.Fatalf("при отказе квоты отчёт не фиксируется")
	}
}

func TestRunDailyReportNoActivity(t *testing.T) {
	platform := newStubPlatform(
		domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true},
		domain.ChannelMeta{ID: "c2", Name: "general", CanSend: true},
	)
	servers := &stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}}
	runs := &stubRuns{}
	svc := newReportService(servers, &stubMessages{}, runs,
		&stubQuota{check: domain.LimitCheck{Allowed: true}}, &stubGenerator{}, platform)

	if err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if got := platform.sent["c1"]; len(got) != 1 || got[0] != NoActivityBlock {
		t.Fatalf("первичный канал должен получить фиксированный блок: %v", got)
	}
	if len(platform.sent["c2"]) != 0 {
		t.Fatalf("пустой отчёт уходит только в первичный канал")
	}
	if runs.recorded != 1 || servers.lastSummarySet != 1 {
		t.Fatalf("пустой отчёт тоже фиксируется: runs=%d last=%d", runs.recorded, servers.lastSummarySet)
	}
}

func TestRunDailyReportConfiguredChannelInvalid(t *testing.T) {
	platform := newStubPlatform(domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true})
	runs := &stubRuns{}
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", SummaryChannel: "deleted", Plan: domain.PlanFree}},
		&stubMessages{batch: []domain.Message{{ChannelID: "c1", Username: "u"}}},
		runs,
		&stubQuota{check: domain.LimitCheck{Allowed: true}},
		&stubGenerator{},
		platform,
	)

	err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"})
	if !errors.Is(err, ErrNoDeliveryTarget) {
		t.Fatalf("недоступный настроенный канал не подменяется фолбэком: %v", err)
	}
	if len(platform.sent) != 0 || runs.recorded != 0 {
		t.Fatalf("без канала ничего не отправляется и не фиксируется")
	}
}

func TestRunDailyReportFallbackTargets(t *testing.T) {
	platform := newStubPlatform(
		domain.ChannelMeta{ID: "c1", Name: "general", CanSend: true},
		domain.ChannelMeta{ID: "c2", Name: "mod-log", CanSend: true},
		domain.ChannelMeta{ID: "c3", Name: "random", CanSend: true},
		domain.ChannelMeta{ID: "c4", Name: "offtopic", CanSend: true},
		domain.ChannelMeta{ID: "c5", Name: "admin", CanSend: false},
	)
	runs := &stubRuns{}
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}},
		&stubMessages{batch: []domain.Message{{ChannelID: "c1", Username: "u", Content: "hi"}}},
		runs,
		&stubQuota{check: domain.LimitCheck{Allowed: true}},
		&stubGenerator{summary: &domain.GeneratedSummary{ShortSummary: "Busy day."}},
		platform,
	)

	if err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	// mod-log предпочтителен и идёт первым, затем прочие, всего не больше трёх.
	if len(platform.sent["c2"]) == 0 {
		t.Fatalf("предпочтительный канал должен получить отчёт")
	}
	if len(platform.sent["c5"]) != 0 {
		t.Fatalf("канал без права отправки не используется")
	}
	delivered := 0
	for _, blocks := range platform.sent {
		if len(blocks) > 0 {
			delivered++
		}
	}
	if delivered != 3 {
		t.Fatalf("фолбэк ограничен тремя каналами, получили %d", delivered)
	}
	if runs.recorded != 1 {
		t.Fatalf("отчёт фиксируется ровно один раз, получили %d", runs.recorded)
	}
}

func TestRunDailyReportGeneratorFailureFallsBack(t *testing.T) {
	platform := newStubPlatform(domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true})
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}},
		&stubMessages{batch: []domain.Message{{ChannelID: "c1", Username: "u", Content: "hi"}}},
		&stubRuns{},
		&stubQuota{check: domain.LimitCheck{Allowed: true}},
		&stubGenerator{err: errors.New("backend down")},
		platform,
	)

	if err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"}); err != nil {
		t.Fatalf("отказ генератора не валит отчёт: %v", err)
	}
	blocks := platform.sent["c1"]
	if len(blocks) == 0 || !strings.Contains(blocks[0], "No AI summary available.") {
		t.Fatalf("без генератора используется заглушка резюме: %v", blocks)
	}
	if !strings.Contains(blocks[len(blocks)-1], "**Messages today:** 1") {
		t.Fatalf("статистика считается локально: %v", blocks)
	}
}

func TestRunDailyReportLocalCountsOverrideGenerator(t *testing.T) {
	platform := newStubPlatform(domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true})
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}},
		&stubMessages{batch: []domain.Message{
			{ChannelID: "c1", Username: "u", Content: "hi"},
			{ChannelID: "c1", Username: "v", Content: "hey"},
		}},
		&stubRuns{},
		&stubQuota{check: domain.LimitCheck{Allowed: true}},
		&stubGenerator{summary: &domain.GeneratedSummary{
			ShortSummary:      "Busy day.",
			TotalMessageCount: 9999,
			MostActiveChannels: []domain.ChannelActivity{
				{ChannelID: "made-up", MessageCount: 9999},
			},
		}},
		platform,
	)

	if err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	blocks := platform.sent["c1"]
	joined := strings.Join(blocks, "\n")
	if !strings.Contains(joined, "**Messages today:** 2") {
		t.Fatalf("счётчик сообщений должен быть локальным:\n%s", joined)
	}
	if strings.Contains(joined, "made-up") || strings.Contains(joined, "9999") {
		t.Fatalf("каналы бэкенда не должны попадать в отчёт:\n%s", joined)
	}
}

func TestRunDailyReportAllSendsFail(t *testing.T) {
	platform := newStubPlatform(domain.ChannelMeta{ID: "c1", Name: "mod-log", CanSend: true})
	platform.sendErr["c1"] = errors.New("missing access")
	runs := &stubRuns{}
	svc := newReportService(
		&stubServers{server: domain.Server{ServerID: "g1", Plan: domain.PlanFree}},
		&stubMessages{batch: []domain.Message{{ChannelID: "c1", Username: "u", Content: "hi"}}},
		runs,
		&stubQuota{check: domain.LimitCheck{Allowed: true}},
		&stubGenerator{},
		platform,
	)

	if err := svc.RunDailyReport(context.Background(), domain.GuildMeta{ID: "g1"}); err == nil {
		t.Fatalf("провал всех каналов — ошибка доставки")
	}
	if runs.recorded != 0 {
		t.Fatalf("недоставленный отчёт не фиксируется")
	}
}

package quota

import (
	"context"
	"strings"
	"testing"
	"time"

	"discord-sentry-bot/internal/domain"
)

type stubServers struct {
	server domain.Server
	err    error
}

func (s *stubServers) UpsertServer(context.Context, string, string) (domain.Server, error) {
	return s.server, nil
}
func (s *stubServers) GetServer(context.Context, string) (domain.Server, error) {
	return s.server, s.err
}
func (s *stubServers) SetSummaryChannel(context.Context, string, string) error { return nil }
func (s *stubServers) SetSummarySchedule(context.Context, string, int, string) error {
	return nil
}
func (s *stubServers) SetLastSummaryAt(context.Context, string, time.Time) error { return nil }
func (s *stubServers) SetPlan(context.Context, string, domain.Plan) error        { return nil }

type stubCounters struct {
	messages      int
	runs          int
	messageCalls  int
	summaryCalls  int
	capturedSince time.Time
}

func (s *stubCounters) SaveMessage(context.Context, domain.Message) error { return nil }
func (s *stubCounters) ListMessagesSince(context.Context, string, time.Time) ([]domain.Message, error) {
	return nil, nil
}
func (s *stubCounters) CountMessagesSince(_ context.Context, _ string, since time.Time) (int, error) {
	s.messageCalls++
	s.capturedSince = since
	return s.messages, nil
}
func (s *stubCounters) RecordSummaryRun(context.Context, string, time.Time) error { return nil }
func (s *stubCounters) CountSummaryRunsSince(context.Context, string, time.Time) (int, error) {
	s.summaryCalls++
	return s.runs, nil
}

func newGate(server domain.Server, counters *stubCounters) *Service {
	return NewService(&stubServers{server: server}, counters, counters, nil)
}

func TestPlanCeilingsOrdered(t *testing.T) {
	free := domain.LimitsForPlan(domain.PlanFree)
	starter := domain.LimitsForPlan(domain.PlanStarter)
	pro := domain.LimitsForPlan(domain.PlanPro)

	if starter.MaxMessagesPerDay < free.MaxMessagesPerDay || pro.MaxMessagesPerDay < starter.MaxMessagesPerDay {
		t.Fatalf("потолки сообщений должны расти с тарифом")
	}
	if starter.SummariesPerDay < free.SummariesPerDay || pro.SummariesPerDay < starter.SummariesPerDay {
		t.Fatalf("потолки отчётов должны расти с тарифом")
	}
}

func TestCheckQuotaBelowCeiling(t *testing.T) {
	counters := &stubCounters{messages: 999}
	gate := newGate(domain.Server{ServerID: "g1", Plan: domain.PlanFree}, counters)

	check, err := gate.CheckQuota(context.Background(), "g1", domain.ResourceMessageWrite)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("count == ceiling-1 должен проходить: %+v", check)
	}
	if check.Current != 999 || check.Limit != 1000 {
		t.Fatalf("неожиданные счётчики: %+v", check)
	}
}

func TestCheckQuotaAtCeiling(t *testing.T) {
	counters := &stubCounters{messages: 1000}
	gate := newGate(domain.Server{ServerID: "g1", Plan: domain.PlanFree}, counters)

	check, err := gate.CheckQuota(context.Background(), "g1", domain.ResourceMessageWrite)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if check.Allowed {
		t.Fatalf("count == ceiling должен отклоняться")
	}
	if !strings.Contains(check.Reason, "1000") {
		t.Fatalf("причина должна называть потолок: %q", check.Reason)
	}
}

func TestCheckQuotaSummaryRuns(t *testing.T) {
	counters := &stubCounters{runs: 2}
	gate := newGate(domain.Server{ServerID: "g1", Plan: domain.PlanStarter}, counters)

	check, err := gate.CheckQuota(context.Background(), "g1", domain.ResourceSummaryRun)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if check.Allowed {
		t.Fatalf("STARTER даёт 2 отчёта в день, третий должен отклоняться")
	}
	if counters.summaryCalls != 1 || counters.messageCalls != 0 {
		t.Fatalf("должен считаться только класс summary_run")
	}
}

func TestCheckQuotaUnknownServerFailOpen(t *testing.T) {
	counters := &stubCounters{}
	gate := NewService(&stubServers{err: domain.ErrServerNotFound}, counters, counters, nil)

	check, err := gate.CheckQuota(context.Background(), "ghost", domain.ResourceMessageWrite)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("незнакомый сервер должен проходить")
	}
	if counters.messageCalls != 0 {
		t.Fatalf("для незнакомого сервера счётный запрос не нужен")
	}
}

func TestCheckQuotaCountsFromUTCMidnight(t *testing.T) {
	counters := &stubCounters{}
	gate := newGate(domain.Server{ServerID: "g1", Plan: domain.PlanFree}, counters)

	if _, err := gate.CheckQuota(context.Background(), "g1", domain.ResourceMessageWrite); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	since := counters.capturedSince
	if since.Location() != time.UTC {
		t.Fatalf("граница дня должна быть в UTC")
	}
	if since.Hour() != 0 || since.Minute() != 0 || since.Second() != 0 {
		t.Fatalf("ожидали полночь UTC, получили %v", since)
	}
}

func TestCheckQuotaUnboundedCeiling(t *testing.T) {
	counters := &stubCounters{runs: 1_000_000, messages: 1_000_000}
	gate := newGate(domain.Server{ServerID: "g1", Plan: domain.PlanInternal}, counters)

	for _, class := range []domain.ResourceClass{domain.ResourceMessageWrite, domain.ResourceSummaryRun} {
		check, err := gate.CheckQuota(context.Background(), "g1", class)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if !check.Allowed {
			t.Fatalf("безлимитный потолок должен пропускать всегда: %+v", check)
		}
	}
	if counters.messageCalls != 0 || counters.summaryCalls != 0 {
		t.Fatalf("безлимит не должен ходить в хранилище за счётом")
	}
}

func TestCheckQuotaUnknownPlanFallsBackToFree(t *testing.T) {
	limits := domain.LimitsForPlan("ENTERPRISE")
	if limits.Plan != domain.PlanFree {
		t.Fatalf("неизвестный тариф должен трактоваться как FREE, получили %v", limits.Plan)
	}
}

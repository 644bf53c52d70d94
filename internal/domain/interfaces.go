package domain

import (
	"context"
	"errors"
	"time"
)

// ErrServerNotFound возвращается, если сервер ещё не зарегистрирован.
var ErrServerNotFound = errors.New("server not found")

// ToxicityDetector проверяет текст сообщения. Реализация по словарю может быть
// заменена на ML-бэкенд без изменения вызывающего кода.
type ToxicityDetector interface {
	Check(content string) ToxicityResult
}

// SummaryGenerator строит структурированное резюме по пачке сообщений.
// Возвращает (nil, nil), если генеративный бэкенд не сконфигурирован, и
// (nil, err) при отказе: это мягкая зависимость, вызывающий код логирует
// ошибку и продолжает строить отчёт без резюме.
type SummaryGenerator interface {
	Generate(ctx context.Context, messages []Message) (*GeneratedSummary, error)
}

// ChatPlatform — контракт чат-платформы, который потребляет ядро отчётов.
type ChatPlatform interface {
	ListTextChannels(guildID string) ([]ChannelMeta, error)
	ChannelName(guildID, channelID string) string
	SendBlock(channelID, content string) error
}

// GuildEnumerator отдаёт текущий набор гильдий на момент тика планировщика.
type GuildEnumerator interface {
	Guilds() []GuildMeta
}

// ServerRepo управляет конфигурацией серверов.
type ServerRepo interface {
	UpsertServer(ctx context.Context, serverID, name string) (Server, error)
	GetServer(ctx context.Context, serverID string) (Server, error)
	SetSummaryChannel(ctx context.Context, serverID, channelID string) error
	SetSummarySchedule(ctx context.Context, serverID string, hour int, timezone string) error
	SetLastSummaryAt(ctx context.Context, serverID string, at time.Time) error
	SetPlan(ctx context.Context, serverID string, plan Plan) error
}

// MessageRepo управляет сообщениями.
type MessageRepo interface {
	SaveMessage(ctx context.Context, msg Message) error
	ListMessagesSince(ctx context.Context, serverID string, since time.Time) ([]Message, error)
	CountMessagesSince(ctx context.Context, serverID string, since time.Time) (int, error)
}

// SummaryRunRepo управляет записями об отправленных отчётах.
type SummaryRunRepo interface {
	RecordSummaryRun(ctx context.Context, serverID string, runAt time.Time) error
	CountSummaryRunsSince(ctx context.Context, serverID string, since time.Time) (int, error)
}

// ReportJobRepo фиксирует попытки обработки задач отчётов.
type ReportJobRepo interface {
	EnsureReportJob(ctx context.Context, jobID string) (delivered bool, attempts int, err error)
	MarkReportJobDelivered(ctx context.Context, jobID string) error
}

// QuotaGate проверяет дневную квоту перед действием. Побочных эффектов не имеет.
type QuotaGate interface {
	CheckQuota(ctx context.Context, serverID string, class ResourceClass) (LimitCheck, error)
}

// ReportRunner запускает построение и доставку отчёта для одного сервера.
type ReportRunner interface {
	RunDailyReport(ctx context.Context, guild GuildMeta) error
}

// ReportQueue — очередь задач на внеплановые отчёты.
type ReportQueue interface {
	Enqueue(ctx context.Context, job ReportJob) error
	Pop(ctx context.Context) (ReportJob, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

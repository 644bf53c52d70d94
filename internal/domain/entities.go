package domain

import "time"

// Server описывает Discord-сервер (гильдию), в котором работает бот.
type Server struct {
	ServerID        string
	Name            string
	Plan            Plan
	SummaryChannel  string
	SummaryHour     int
	SummaryTimezone string
	LastSummaryAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message представляет сохранённое сообщение канала. После записи не меняется.
type Message struct {
	ID        int64
	ServerID  string
	ChannelID string
	UserID    string
	Username  string
	Content   string
	IsToxic   bool
	CreatedAt time.Time
}

// SummaryRun фиксирует одну успешную отправку отчёта. Содержимого не хранит,
// служит только счётчиком дневной квоты.
type SummaryRun struct {
	ID       int64
	ServerID string
	RunAt    time.Time
}

// ChannelActivity хранит количество сообщений одного канала.
type ChannelActivity struct {
	ChannelID    string
	ChannelName  string
	MessageCount int
}

// Aggregation содержит локально посчитанную статистику по пачке сообщений.
// Пересчитывается на каждый отчёт, никогда не сохраняется.
type Aggregation struct {
	PerChannelCounts map[string]int
	TopChannels      []ChannelActivity
	TotalMessages    int
	ToxicMessages    int
	ToxicUsers       int
}

// GeneratedSummary — структурированный результат генеративного бэкенда.
// Поля MostActiveChannels и TotalMessageCount перезаписываются локальными
// агрегатами перед форматированием.
type GeneratedSummary struct {
	ShortSummary       string
	DiscussionTopics   []string
	MostActiveChannels []ChannelActivity
	TotalMessageCount  int
}

// ToxicityResult описывает результат проверки текста на токсичность.
type ToxicityResult struct {
	IsToxic        bool
	Confidence     float64
	MatchedPattern string
}

// GuildMeta — метаданные гильдии, известные шлюзу на момент тика.
type GuildMeta struct {
	ID   string
	Name string
}

// ChannelMeta — текстовый канал гильдии глазами платформы.
type ChannelMeta struct {
	ID      string
	Name    string
	CanSend bool
}

// ReportJob — задача на внеплановую отправку отчёта, поставленная через API.
type ReportJob struct {
	JobID    string `json:"job_id"`
	ServerID string `json:"server_id"`
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/metrics"
	"discord-sentry-bot/internal/usecase/report"
	"discord-sentry-bot/internal/usecase/schedule"
)

const guildGreetingTTL = time.Hour

// Handler обслуживает события шлюза Discord: приём сообщений, регистрацию
// гильдий и слэш-команды настройки.
type Handler struct {
	log       zerolog.Logger
	servers   domain.ServerRepo
	messages  domain.MessageRepo
	detector  domain.ToxicityDetector
	quota     domain.QuotaGate
	runner    domain.ReportRunner
	scheduler *schedule.Scheduler
	cache     domain.Cache
}

// NewHandler создаёт обработчик шлюза.
func NewHandler(log zerolog.Logger, servers domain.ServerRepo, messages domain.MessageRepo, detector domain.ToxicityDetector, quota domain.QuotaGate, runner domain.ReportRunner, scheduler *schedule.Scheduler, cache domain.Cache) *Handler {
	return &Handler{
		log:       log,
		servers:   servers,
		messages:  messages,
		detector:  detector,
		quota:     quota,
		runner:    runner,
		scheduler: scheduler,
		cache:     cache,
	}
}

// Register подписывает обработчик на события сессии.
func (h *Handler) Register(session *discordgo.Session) {
	session.AddHandler(h.onReady)
	session.AddHandler(h.onGuildCreate)
	session.AddHandler(h.onMessageCreate)
	session.AddHandler(h.onInteraction)
}

func slashCommands() []*discordgo.ApplicationCommand {
	sendPermission := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "send-summary-now",
			Description:              "Build and deliver the daily summary immediately",
			DefaultMemberPermissions: &sendPermission,
		},
		{
			Name:                     "set-summary-channel",
			Description:              "Choose the channel for daily summaries",
			DefaultMemberPermissions: &sendPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Target text channel",
					Required:    true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name:                     "set-summary-time",
			Description:              "Set the local hour for daily summaries",
			DefaultMemberPermissions: &sendPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "hour",
					Description: "Hour of day, 0-23",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "timezone",
					Description: "IANA timezone, e.g. Europe/Berlin",
					Required:    false,
				},
			},
		},
	}
}

func (h *Handler) onReady(s *discordgo.Session, r *discordgo.Ready) {
	h.log.Info().Str("bot", r.User.Username).Int("guilds", len(r.Guilds)).Msg("gateway: сессия готова")

	start := time.Now()
	_, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", slashCommands())
	metrics.ObserveNetworkRequest("discord", "bulk_overwrite_commands", r.User.ID, start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: регистрация слэш-команд")
	}

	// Ready может прийти повторно после реконнекта, Start это переживает.
	h.scheduler.Start(context.Background())
}

func (h *Handler) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx := context.Background()
	if _, err := h.servers.UpsertServer(ctx, g.ID, g.Name); err != nil {
		h.log.Error().Err(err).Str("server_id", g.ID).Msg("gateway: регистрация гильдии")
		return
	}

	// GuildCreate приходит и при каждом реконнекте: приветствие дедуплицируется.
	greetKey := "guild_greeting:" + g.ID
	err := h.cache.Once(greetKey, guildGreetingTTL, func() error {
		h.log.Info().Str("server_id", g.ID).Str("name", g.Name).Msg("gateway: новая гильдия")
		return nil
	})
	if err != nil {
		h.log.Debug().Err(err).Str("server_id", g.ID).Msg("gateway: дедупликация приветствия")
	}
}

func (h *Handler) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" || strings.TrimSpace(m.Content) == "" {
		return
	}
	ctx := context.Background()

	if _, err := h.servers.UpsertServer(ctx, m.GuildID, ""); err != nil {
		h.log.Error().Err(err).Str("server_id", m.GuildID).Msg("gateway: регистрация сервера")
		return
	}

	check, err := h.quota.CheckQuota(ctx, m.GuildID, domain.ResourceMessageWrite)
	if err != nil {
		h.log.Error().Err(err).Str("server_id", m.GuildID).Msg("gateway: проверка квоты сообщений")
		return
	}
	if !check.Allowed {
		// Сообщение сверх квоты пропадает молча, тикет на очередь доставки
		// сверхлимитных сообщений пока не заведён.
		return
	}

	result := h.detector.Check(m.Content)
	msg := domain.Message{
		ServerID:  m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Content:   m.Content,
		IsToxic:   result.IsToxic,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.messages.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("server_id", m.GuildID).Msg("gateway: сохранение сообщения")
		return
	}

	metrics.MessagesIngested.Inc()
	if result.IsToxic {
		metrics.ToxicMessagesFlagged.Inc()
		h.log.Info().
			Str("server_id", m.GuildID).
			Str("user_id", m.Author.ID).
			Str("pattern", result.MatchedPattern).
			Float64("confidence", result.Confidence).
			Msg("gateway: токсичное сообщение")
	}
}

func (h *Handler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	switch data.Name {
	case "send-summary-now":
		h.handleSendSummaryNow(s, i)
	case "set-summary-channel":
		h.handleSetSummaryChannel(s, i, data)
	case "set-summary-time":
		h.handleSetSummaryTime(s, i, data)
	}
}

func (h *Handler) handleSendSummaryNow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Построение отчёта занимает до минуты, ответ откладывается.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: отложенный ответ")
		return
	}

	ctx := context.Background()
	guild := domain.GuildMeta{ID: i.GuildID}
	if g, err := s.State.Guild(i.GuildID); err == nil {
		guild.Name = g.Name
	}

	runErr := h.runner.RunDailyReport(ctx, guild)
	content := "✅ Summary sent. Check the summary channel."
	if runErr != nil {
		var quotaErr *report.QuotaError
		switch {
		case errors.As(runErr, &quotaErr):
			content = "❌ " + quotaErr.Reason
		case errors.Is(runErr, report.ErrNoDeliveryTarget):
			content = "❌ No channel available for delivery. Set one with /set-summary-channel."
		default:
			h.log.Error().Err(runErr).Str("server_id", i.GuildID).Msg("gateway: ручной отчёт")
			content = "❌ Failed to build the summary. Try again later."
		}
	}
	h.followUp(s, i, content)
}

func (h *Handler) handleSetSummaryChannel(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		h.respond(s, i, "❌ Channel option is required.")
		return
	}
	channel := data.Options[0].ChannelValue(s)
	if channel == nil || channel.Type != discordgo.ChannelTypeGuildText {
		h.respond(s, i, "❌ Pick a text channel.")
		return
	}

	ctx := context.Background()
	if _, err := h.servers.UpsertServer(ctx, i.GuildID, ""); err != nil {
		h.log.Error().Err(err).Str("server_id", i.GuildID).Msg("gateway: регистрация сервера")
		h.respond(s, i, "❌ Failed to save the setting. Try again later.")
		return
	}
	if err := h.servers.SetSummaryChannel(ctx, i.GuildID, channel.ID); err != nil {
		h.log.Error().Err(err).Str("server_id", i.GuildID).Msg("gateway: сохранение канала отчётов")
		h.respond(s, i, "❌ Failed to save the setting. Try again later.")
		return
	}
	h.respond(s, i, fmt.Sprintf("✅ Daily summaries will now be posted to <#%s>.", channel.ID))
}

func (h *Handler) handleSetSummaryTime(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	hour := -1
	timezone := ""
	for _, opt := range data.Options {
		switch opt.Name {
		case "hour":
			hour = int(opt.IntValue())
		case "timezone":
			timezone = opt.StringValue()
		}
	}

	if err := schedule.ValidateHour(hour); err != nil {
		h.respond(s, i, "❌ Hour must be between 0 and 23.")
		return
	}

	ctx := context.Background()
	server, err := h.servers.UpsertServer(ctx, i.GuildID, "")
	if err != nil {
		h.log.Error().Err(err).Str("server_id", i.GuildID).Msg("gateway: регистрация сервера")
		h.respond(s, i, "❌ Failed to save the setting. Try again later.")
		return
	}

	if timezone == "" {
		timezone = server.SummaryTimezone
	}
	normalized, err := schedule.NormalizeTimezone(timezone)
	if err != nil {
		h.respond(s, i, fmt.Sprintf("❌ Unknown timezone %q. Use an IANA name like Europe/Berlin.", timezone))
		return
	}

	if err := h.servers.SetSummarySchedule(ctx, i.GuildID, hour, normalized); err != nil {
		h.log.Error().Err(err).Str("server_id", i.GuildID).Msg("gateway: сохранение расписания")
		h.respond(s, i, "❌ Failed to save the setting. Try again later.")
		return
	}
	h.respond(s, i, fmt.Sprintf("✅ Daily summaries scheduled for %s (%s).", hourLabel(hour), normalized))
}

func (h *Handler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: ответ на взаимодействие")
	}
}

func (h *Handler) followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: продолжение ответа")
	}
}

// hourLabel форматирует час в 12-часовую метку для ответа пользователю.
func hourLabel(hour int) string {
	suffix := "AM"
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour == 12:
		suffix = "PM"
	case hour > 12:
		display = hour - 12
		suffix = "PM"
	}
	return fmt.Sprintf("%d:00 %s", display, suffix)
}

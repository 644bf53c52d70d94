package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/metrics"
)

// Client адаптирует discordgo-сессию под контракты ядра. Списки гильдий и
// каналов берутся из state-кэша сессии, отправка идёт через REST.
type Client struct {
	session *discordgo.Session
}

var (
	_ domain.ChatPlatform    = (*Client)(nil)
	_ domain.GuildEnumerator = (*Client)(nil)
)

// NewClient оборачивает открытую discordgo-сессию.
func NewClient(session *discordgo.Session) *Client {
	return &Client{session: session}
}

// Guilds возвращает гильдии, известные шлюзу на данный момент.
func (c *Client) Guilds() []domain.GuildMeta {
	c.session.State.RLock()
	defer c.session.State.RUnlock()

	guilds := make([]domain.GuildMeta, 0, len(c.session.State.Guilds))
	for _, guild := range c.session.State.Guilds {
		guilds = append(guilds, domain.GuildMeta{ID: guild.ID, Name: guild.Name})
	}
	return guilds
}

// ListTextChannels возвращает текстовые каналы гильдии с признаком права
// отправки от имени бота.
func (c *Client) ListTextChannels(guildID string) ([]domain.ChannelMeta, error) {
	start := time.Now()
	channels, err := c.session.GuildChannels(guildID)
	metrics.ObserveNetworkRequest("discord", "guild_channels", guildID, start, err)
	if err != nil {
		return nil, fmt.Errorf("каналы гильдии %s: %w", guildID, err)
	}

	botID := ""
	if c.session.State.User != nil {
		botID = c.session.State.User.ID
	}

	metas := make([]domain.ChannelMeta, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		canSend := false
		if botID != "" {
			perms, err := c.session.UserChannelPermissions(botID, ch.ID)
			canSend = err == nil && perms&discordgo.PermissionSendMessages != 0
		}
		metas = append(metas, domain.ChannelMeta{ID: ch.ID, Name: ch.Name, CanSend: canSend})
	}
	return metas, nil
}

// ChannelName возвращает имя канала из state-кэша, либо сам ID, если канал
// кэшу не известен.
func (c *Client) ChannelName(guildID, channelID string) string {
	if ch, err := c.session.State.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}

// SendBlock отправляет один блок отчёта. Упоминания подавляются: отчёт цитирует
// пользовательский контент и не должен никого пинговать.
func (c *Client) SendBlock(channelID, content string) error {
	start := time.Now()
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	metrics.ObserveNetworkRequest("discord", "send_message", channelID, start, err)
	if err != nil {
		return fmt.Errorf("отправка в канал %s: %w", channelID, err)
	}
	return nil
}

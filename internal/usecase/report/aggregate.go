package report

import (
	"sort"

	"discord-sentry-bot/internal/domain"
)

const topChannelsLimit = 10

// Aggregate считает статистику по пачке сообщений: количество по каналам,
// топ активных каналов и токсичность. Чистая функция, без обращений к
// хранилищу или бэкендам.
func Aggregate(messages []domain.Message) domain.Aggregation {
	counts := make(map[string]int, 16)
	order := make([]string, 0, 16)
	toxicMessages := 0
	toxicUsers := make(map[string]struct{})

	for _, msg := range messages {
		if _, seen := counts[msg.ChannelID]; !seen {
			order = append(order, msg.ChannelID)
		}
		counts[msg.ChannelID]++
		if msg.IsToxic {
			toxicMessages++
			toxicUsers[msg.Username] = struct{}{}
		}
	}

	// Стабильная сортировка по убыванию: при равных счётчиках первым идёт
	// канал, встреченный раньше.
	top := make([]domain.ChannelActivity, 0, len(order))
	for _, channelID := range order {
		top = append(top, domain.ChannelActivity{ChannelID: channelID, MessageCount: counts[channelID]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].MessageCount > top[j].MessageCount })
	if len(top) > topChannelsLimit {
		top = top[:topChannelsLimit]
	}

	return domain.Aggregation{
		PerChannelCounts: counts,
		TopChannels:      top,
		TotalMessages:    len(messages),
		ToxicMessages:    toxicMessages,
		ToxicUsers:       len(toxicUsers),
	}
}

package report

import (
	"fmt"
	"strings"

	"discord-sentry-bot/internal/domain"
)

// maxBlockLength оставляет запас под лимит сообщения Discord (2000 символов).
const maxBlockLength = 1900

const channelsShown = 5

// NoActivityBlock — фиксированный отчёт за день без сообщений.
const NoActivityBlock = "**📊 Daily Summary** — No activity in the last 24 hours."

const noneLine = "  _(none)_"

// Data — входные данные форматирования отчёта.
type Data struct {
	ShortSummary  string
	Topics        []string
	TopChannels   []domain.ChannelActivity
	TotalMessages int
	ToxicUsers    int
	ToxicMessages int
}

// FormatReport собирает отчёт в один или два блока, каждый не длиннее
// maxBlockLength. Сначала пробует уложить всё в один блок, затем умно
// обрезает текстовое резюме, и только потом делит на блок резюме и блок
// статистики.
func FormatReport(data Data) []string {
	if data.TotalMessages == 0 {
		return []string{NoActivityBlock}
	}

	summaryPart, statsPart, full := buildReportParts(data)
	if runeLen(full) <= maxBlockLength {
		return []string{full}
	}

	// Обрезаем только резюме чата, чтобы остальной отчёт остался целым.
	overhead := runeLen(summaryPart) - runeLen(data.ShortSummary)
	maxSummaryLen := maxBlockLength - overhead - runeLen(statsPart) - 10
	if maxSummaryLen > 50 {
		rebuilt := data
		rebuilt.ShortSummary = smartTruncate(data.ShortSummary, maxSummaryLen)
		if _, _, fullRebuilt := buildReportParts(rebuilt); runeLen(fullRebuilt) <= maxBlockLength {
			return []string{fullRebuilt}
		}
	}

	// Резюме не влезает даже одно: два блока, ширина обрезки пересчитывается
	// с учётом фиксированной обвязки.
	part1 := summaryPart
	if runeLen(summaryPart) > maxBlockLength {
		header := "**📊 Daily Summary**\n\n**Chat summary**\n"
		tail := "\n\n**Topics**\n" + topicLines(data.Topics) +
			"\n\n**Most active channels**\n" + channelLines(data.TopChannels)
		maxLen := maxBlockLength - runeLen(header) - runeLen(tail) - 5
		part1 = header + smartTruncate(data.ShortSummary, maxLen) + tail
	}
	return []string{part1, statsPart}
}

func buildReportParts(data Data) (summaryPart, statsPart, full string) {
	summaryPart = strings.Join([]string{
		"**📊 Daily Summary**",
		"",
		"**Chat summary**",
		data.ShortSummary,
		"",
		"**Topics**",
		topicLines(data.Topics),
		"",
		"**Most active channels**",
		channelLines(data.TopChannels),
	}, "\n")

	statsPart = strings.Join([]string{
		fmt.Sprintf("**Messages today:** %d", data.TotalMessages),
		fmt.Sprintf("**Toxic users flagged:** %d", data.ToxicUsers),
		fmt.Sprintf("**Toxic messages:** %d", data.ToxicMessages),
	}, "\n")

	full = summaryPart + "\n\n" + statsPart
	return summaryPart, statsPart, full
}

func topicLines(topics []string) string {
	if len(topics) == 0 {
		return noneLine
	}
	lines := make([]string, 0, len(topics))
	for _, topic := range topics {
		lines = append(lines, "  • "+topic)
	}
	return strings.Join(lines, "\n")
}

func channelLines(channels []domain.ChannelActivity) string {
	if len(channels) == 0 {
		return noneLine
	}
	if len(channels) > channelsShown {
		channels = channels[:channelsShown]
	}
	lines := make([]string, 0, len(channels))
	for _, ch := range channels {
		name := ch.ChannelName
		if name == "" {
			name = ch.ChannelID
		}
		lines = append(lines, fmt.Sprintf("  • %s: %d", name, ch.MessageCount))
	}
	return strings.Join(lines, "\n")
}

// smartTruncate обрезает текст до maxLen символов: по возможности на границе
// предложения (". ", "! ", "? ") за серединой окна, иначе по границе слова,
// в крайнем случае жёстко. Всегда добавляет многоточие.
func smartTruncate(text string, maxLen int) string {
	const ellipsis = '…'
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 1 {
		return string(ellipsis)
	}
	window := runes[:maxLen-1]

	sentenceEnd := -1
	for i := len(window) - 2; i >= 0; i-- {
		if isSentencePunct(window[i]) && window[i+1] == ' ' {
			sentenceEnd = i
			break
		}
	}
	if sentenceEnd > maxLen/2 {
		return trimmedWithEllipsis(window[:sentenceEnd+1])
	}

	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return trimmedWithEllipsis(window[:i])
		}
	}
	return trimmedWithEllipsis(window)
}

func isSentencePunct(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func trimmedWithEllipsis(window []rune) string {
	return strings.TrimRight(string(window), " ") + "…"
}

func runeLen(s string) int {
	return len([]rune(s))
}

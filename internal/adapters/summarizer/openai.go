package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/openai"
)

const (
	promptSampleSize    = 100
	promptClipLength    = 200
	defaultModel        = "gpt-4o-mini"
	defaultTemperature  = 0.3
	generateTimeout     = 60 * time.Second
	emptyPeriodSummary  = "No messages in the last 24 hours."
	missingTextFallback = "No summary generated."
)

const systemPrompt = `You are a Discord server analyst. Given a list of chat messages from the last 24 hours, produce a JSON object with this exact structure:
{
  "shortSummary": "A 2-3 sentence overview of the server activity and mood.",
  "discussionTopics": ["Topic 1", "Topic 2", ...],
  "mostActiveChannels": [{"channelId": "id", "messageCount": number}, ...],
  "totalMessageCount": number
}

Rules:
- shortSummary: Concise, neutral tone. Summarize main themes and activity level.
- discussionTopics: 3-7 bullet-point topics. Be specific based on message content.
- mostActiveChannels: List channels sorted by message count descending. Include channelId and messageCount.
- totalMessageCount: Sum of all messages.
- Output ONLY valid JSON, no markdown.`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI строит резюме через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.SummaryGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор резюме. client == nil означает, что ключ не
// задан: генератор превращается в no-op и Generate возвращает (nil, nil).
func NewOpenAI(client *openai.Client, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = generateTimeout
	}
	gen := &OpenAI{model: model, timeout: timeout}
	if client != nil {
		gen.client = client
	}
	return gen
}

type summaryPayload struct {
	ShortSummary       string   `json:"shortSummary"`
	DiscussionTopics   []string `json:"discussionTopics"`
	MostActiveChannels []struct {
		ChannelID    string `json:"channelId"`
		MessageCount int    `json:"messageCount"`
	} `json:"mostActiveChannels"`
	TotalMessageCount int `json:"totalMessageCount"`
}

// Generate строит структурированное резюме пачки сообщений.
func (g *OpenAI) Generate(ctx context.Context, messages []domain.Message) (*domain.GeneratedSummary, error) {
	if len(messages) == 0 {
		return &domain.GeneratedSummary{ShortSummary: emptyPeriodSummary}, nil
	}
	if g.client == nil {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: buildUserPrompt(messages)},
		},
		Temperature:    defaultTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("запрос резюме: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("пустой ответ модели")
	}

	var payload summaryPayload
	raw := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("разбор ответа модели: %w", err)
	}

	summary := &domain.GeneratedSummary{
		ShortSummary:      payload.ShortSummary,
		DiscussionTopics:  payload.DiscussionTopics,
		TotalMessageCount: len(messages),
	}
	if summary.ShortSummary == "" {
		summary.ShortSummary = missingTextFallback
	}
	// Активность каналов считается локально: модели это поле не доверяется.
	summary.MostActiveChannels = countByChannel(messages)
	return summary, nil
}

// buildUserPrompt собирает запрос: таблица счётчиков по каналам и выборка
// первых сообщений, каждое обрезано до promptClipLength символов.
func buildUserPrompt(messages []domain.Message) string {
	counts := make(map[string]int, 16)
	order := make([]string, 0, 16)
	for _, msg := range messages {
		if _, seen := counts[msg.ChannelID]; !seen {
			order = append(order, msg.ChannelID)
		}
		counts[msg.ChannelID]++
	}

	var table strings.Builder
	for _, channelID := range order {
		fmt.Fprintf(&table, "- %s: %d\n", channelID, counts[channelID])
	}

	sampleSize := len(messages)
	if sampleSize > promptSampleSize {
		sampleSize = promptSampleSize
	}
	lines := make([]string, 0, sampleSize)
	for _, msg := range messages[:sampleSize] {
		lines = append(lines, fmt.Sprintf("[#%s] @%s: %s", msg.ChannelID, msg.Username, clipContent(msg.Content)))
	}

	return fmt.Sprintf(`Here are the last %d messages from a Discord server (last 24h).

Message count by channel:
%s
Sample of messages (first %d):
%s

Produce the JSON summary.`, len(messages), strings.TrimRight(table.String(), "\n"), sampleSize, strings.Join(lines, "\n"))
}

func clipContent(content string) string {
	runes := []rune(content)
	if len(runes) <= promptClipLength {
		return content
	}
	return string(runes[:promptClipLength]) + "..."
}

// stripCodeFence снимает markdown-обрамление, если модель его всё же добавила.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func countByChannel(messages []domain.Message) []domain.ChannelActivity {
	counts := make(map[string]int, 16)
	order := make([]string, 0, 16)
	for _, msg := range messages {
		if _, seen := counts[msg.ChannelID]; !seen {
			order = append(order, msg.ChannelID)
		}
		counts[msg.ChannelID]++
	}
	channels := make([]domain.ChannelActivity, 0, len(order))
	for _, channelID := range order {
		channels = append(channels, domain.ChannelActivity{ChannelID: channelID, MessageCount: counts[channelID]})
	}
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].MessageCount > channels[j].MessageCount })
	if len(channels) > 10 {
		channels = channels[:10]
	}
	return channels
}

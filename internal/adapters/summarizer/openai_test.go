package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"discord-sentry-bot/internal/domain"
	"discord-sentry-bot/internal/infra/openai"
)

type stubChat struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: openai.RoleSystem, Content: s.content}}},
	}, nil
}

func newGenerator(chat *stubChat) *OpenAI {
	return &OpenAI{client: chat, model: defaultModel, timeout: time.Second}
}

func TestGenerateEmptyBatch(t *testing.T) {
	gen := NewOpenAI(nil, "", 0)
	summary, err := gen.Generate(context.Background(), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary == nil || summary.ShortSummary != emptyPeriodSummary {
		t.Fatalf("пустая пачка даёт фиксированное резюме: %+v", summary)
	}
}

func TestGenerateWithoutClient(t *testing.T) {
	gen := NewOpenAI(nil, "", 0)
	summary, err := gen.Generate(context.Background(), []domain.Message{{Content: "hi"}})
	if err != nil || summary != nil {
		t.Fatalf("без клиента ожидали (nil, nil), получили (%+v, %v)", summary, err)
	}
}

func TestGenerateParsesFencedJSON(t *testing.T) {
	chat := &stubChat{content: "```json\n{\"shortSummary\": \"Lively day.\", \"discussionTopics\": [\"Release\"], \"mostActiveChannels\": [{\"channelId\": \"bogus\", \"messageCount\": 777}], \"totalMessageCount\": 777}\n```"}
	gen := newGenerator(chat)

	batch := []domain.Message{
		{ChannelID: "ch1", Username: "u1", Content: "hello"},
		{ChannelID: "ch1", Username: "u2", Content: "world"},
		{ChannelID: "ch2", Username: "u3", Content: "!"},
	}
	summary, err := gen.Generate(context.Background(), batch)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.ShortSummary != "Lively day." {
		t.Fatalf("резюме не распарсилось: %+v", summary)
	}
	if len(summary.DiscussionTopics) != 1 || summary.DiscussionTopics[0] != "Release" {
		t.Fatalf("темы не распарсились: %+v", summary.DiscussionTopics)
	}
	if summary.TotalMessageCount != 3 {
		t.Fatalf("счётчик сообщений локальный, получили %d", summary.TotalMessageCount)
	}
	if len(summary.MostActiveChannels) != 2 || summary.MostActiveChannels[0].ChannelID != "ch1" {
		t.Fatalf("активность каналов считается локально: %+v", summary.MostActiveChannels)
	}
}

func TestGenerateRequestShape(t *testing.T) {
	chat := &stubChat{content: `{"shortSummary": "x"}`}
	gen := newGenerator(chat)

	if _, err := gen.Generate(context.Background(), []domain.Message{{ChannelID: "ch1", Username: "u", Content: "hi"}}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	req := chat.lastReq
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Fatalf("ответ запрашивается как json_object: %+v", req.ResponseFormat)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.RoleSystem {
		t.Fatalf("запрос состоит из системной инструкции и промпта: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "- ch1: 1") {
		t.Fatalf("промпт содержит таблицу каналов:\n%s", req.Messages[1].Content)
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	chat := &stubChat{err: errors.New("rate limited")}
	gen := newGenerator(chat)

	summary, err := gen.Generate(context.Background(), []domain.Message{{Content: "hi"}})
	if err == nil || summary != nil {
		t.Fatalf("отказ бэкенда возвращается ошибкой: (%+v, %v)", summary, err)
	}
}

func TestBuildUserPromptClipsLongContent(t *testing.T) {
	long := strings.Repeat("я", 300)
	prompt := buildUserPrompt([]domain.Message{{ChannelID: "ch1", Username: "u", Content: long}})
	if !strings.Contains(prompt, strings.Repeat("я", promptClipLength)+"...") {
		t.Fatalf("длинный текст обрезается до %d символов с маркером", promptClipLength)
	}
	if strings.Contains(prompt, strings.Repeat("я", promptClipLength+1)) {
		t.Fatalf("текст длиннее лимита не должен попадать в промпт")
	}
}

func TestBuildUserPromptSampleLimit(t *testing.T) {
	batch := make([]domain.Message, 150)
	for i := range batch {
		batch[i] = domain.Message{ChannelID: "ch1", Username: "u", Content: "msg"}
	}
	prompt := buildUserPrompt(batch)
	if !strings.Contains(prompt, "Here are the last 150 messages") {
		t.Fatalf("в промпте указывается полное число сообщений:\n%s", prompt[:120])
	}
	if !strings.Contains(prompt, "Sample of messages (first 100):") {
		t.Fatalf("выборка ограничена сотней сообщений")
	}
	if got := strings.Count(prompt, "[#ch1] @u: msg"); got != 100 {
		t.Fatalf("ожидали 100 строк выборки, получили %d", got)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, ожидали %q", tc.in, got, tc.want)
		}
	}
}

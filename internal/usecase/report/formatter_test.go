package report

import (
	"fmt"
	"strings"
	"testing"

	"discord-sentry-bot/internal/domain"
)

func baseData() Data {
	return Data{
		ShortSummary:  "Quiet day overall.",
		Topics:        []string{"Release planning", "Support backlog"},
		TopChannels:   []domain.ChannelActivity{{ChannelID: "1", ChannelName: "general", MessageCount: 42}},
		TotalMessages: 50,
		ToxicUsers:    1,
		ToxicMessages: 2,
	}
}

func TestFormatReportNoActivity(t *testing.T) {
	blocks := FormatReport(Data{})
	if len(blocks) != 1 || blocks[0] != NoActivityBlock {
		t.Fatalf("день без сообщений даёт фиксированный блок: %q", blocks)
	}
}

func TestFormatReportSingleBlock(t *testing.T) {
	blocks := FormatReport(baseData())
	if len(blocks) != 1 {
		t.Fatalf("короткий отчёт должен влезать в один блок, получили %d", len(blocks))
	}
	block := blocks[0]
	for _, want := range []string{
		"**📊 Daily Summary**",
		"Quiet day overall.",
		"• Release planning",
		"• general: 42",
		"**Messages today:** 50",
		"**Toxic users flagged:** 1",
		"**Toxic messages:** 2",
	} {
		if !strings.Contains(block, want) {
			t.Fatalf("в блоке нет %q:\n%s", want, block)
		}
	}
}

func TestFormatReportExactLimitFits(t *testing.T) {
	data := baseData()
	data.ShortSummary = ""
	_, _, empty := buildReportParts(data)
	data.ShortSummary = strings.Repeat("a", maxBlockLength-runeLen(empty))

	blocks := FormatReport(data)
	if len(blocks) != 1 {
		t.Fatalf("блок ровно в лимит не должен резаться: %d блоков", len(blocks))
	}
	if runeLen(blocks[0]) != maxBlockLength {
		t.Fatalf("ожидали длину %d, получили %d", maxBlockLength, runeLen(blocks[0]))
	}
}

func TestFormatReportTruncatesLongSummary(t *testing.T) {
	data := baseData()
	data.ShortSummary = strings.Repeat("word ", 800)

	blocks := FormatReport(data)
	if len(blocks) != 1 {
		t.Fatalf("обрезанное резюме должно влезать в один блок: %d блоков", len(blocks))
	}
	if runeLen(blocks[0]) > maxBlockLength {
		t.Fatalf("блок длиннее лимита: %d", runeLen(blocks[0]))
	}
	if !strings.Contains(blocks[0], "…") {
		t.Fatalf("обрезка должна оставить многоточие")
	}
	if !strings.Contains(blocks[0], "**Messages today:** 50") {
		t.Fatalf("статистика не должна страдать от обрезки")
	}
}

func TestFormatReportSplitsWhenTailHuge(t *testing.T) {
	data := baseData()
	topics := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		topics = append(topics, fmt.Sprintf("Topic number %02d with a fairly long descriptive label", i))
	}
	data.Topics = topics

	blocks := FormatReport(data)
	if len(blocks) != 2 {
		t.Fatalf("огромный хвост должен давать два блока, получили %d", len(blocks))
	}
	if !strings.Contains(blocks[0], "**Topics**") {
		t.Fatalf("первый блок должен содержать темы")
	}
	if !strings.Contains(blocks[1], "**Messages today:** 50") {
		t.Fatalf("второй блок должен быть статистикой: %q", blocks[1])
	}
}

func TestFormatReportEmptySections(t *testing.T) {
	data := baseData()
	data.Topics = nil
	data.TopChannels = nil

	blocks := FormatReport(data)
	if strings.Count(blocks[0], "_(none)_") != 2 {
		t.Fatalf("пустые секции заполняются заглушкой:\n%s", blocks[0])
	}
}

func TestSmartTruncateSentenceBoundary(t *testing.T) {
	got := smartTruncate("Sentence one. Sentence two. Sentence three.", 20)
	if got != "Sentence one.…" {
		t.Fatalf("ожидали обрезку по границе предложения, получили %q", got)
	}
}

func TestSmartTruncateWordBoundary(t *testing.T) {
	got := smartTruncate("alpha beta gamma delta", 12)
	if got != "alpha beta…" {
		t.Fatalf("ожидали обрезку по границе слова, получили %q", got)
	}
}

func TestSmartTruncateHardCut(t *testing.T) {
	got := smartTruncate("abcdefghij", 5)
	if got != "abcd…" {
		t.Fatalf("ожидали жёсткую обрезку, получили %q", got)
	}
}

func TestSmartTruncateShortTextUntouched(t *testing.T) {
	if got := smartTruncate("short", 10); got != "short" {
		t.Fatalf("короткий текст не трогается: %q", got)
	}
}

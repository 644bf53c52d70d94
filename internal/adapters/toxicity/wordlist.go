package toxicity

import (
	"strings"
	"unicode"

	"discord-sentry-bot/internal/domain"
)

const (
	phraseConfidence = 0.9
	tokenConfidence  = 0.85
)

// Словарь оскорблений и агрессии. Многословные фразы матчатся по нормализованному
// тексту, одиночные токены — по словам после чистки пунктуации и leetspeak.
var badWords = []string{
	"kys", "kms", "retard", "retarded", "r3tard", "r3tarded",
	"nigger", "nigga", "faggot", "fag", "f4ggot", "f4g",
	"kill yourself", "kill urself", "go die", "drop dead",
	"fuck you", "fuck off", "screw you", "piece of shit",
	"worthless", "stupid idiot", "dumbass", "shithead",
	"idiot", "moron", "stupid", "dumb", "trash", "pathetic",
	"loser", "sucker", "shut up", "stfu",
}

var leetReplacer = strings.NewReplacer("1", "i", "3", "e", "4", "a", "0", "o")

// WordListDetector реализует domain.ToxicityDetector по словарю.
type WordListDetector struct {
	phrases  []string
	tokens   map[string]struct{}
	partials map[string]struct{}
}

var _ domain.ToxicityDetector = (*WordListDetector)(nil)

// NewWordList создаёт детектор с встроенным словарём.
func NewWordList() *WordListDetector {
	d := &WordListDetector{
		tokens:   make(map[string]struct{}),
		partials: make(map[string]struct{}),
	}
	for _, w := range badWords {
		lower := strings.ToLower(w)
		if strings.Contains(lower, " ") {
			d.phrases = append(d.phrases, lower)
			for _, part := range strings.Fields(lower) {
				if len(part) >= 3 {
					d.partials[part] = struct{}{}
				}
			}
			continue
		}
		d.tokens[lower] = struct{}{}
		if len(lower) >= 3 {
			d.partials[lower] = struct{}{}
		}
	}
	return d
}

// Check проверяет текст. Детерминированно, без I/O.
func (d *WordListDetector) Check(content string) domain.ToxicityResult {
	normalized := normalizeForMatch(content)
	if normalized == "" {
		return domain.ToxicityResult{}
	}

	for _, phrase := range d.phrases {
		if strings.Contains(normalized, phrase) {
			return domain.ToxicityResult{IsToxic: true, Confidence: phraseConfidence, MatchedPattern: phrase}
		}
	}

	for _, word := range strings.Fields(normalized) {
		clean := leetReplacer.Replace(word)
		if d.hasToken(word) || d.hasToken(clean) {
			return domain.ToxicityResult{IsToxic: true, Confidence: tokenConfidence, MatchedPattern: word}
		}
	}

	return domain.ToxicityResult{}
}

func (d *WordListDetector) hasToken(word string) bool {
	if _, ok := d.tokens[word]; ok {
		return true
	}
	_, ok := d.partials[word]
	return ok
}

// normalizeForMatch приводит текст к нижнему регистру, убирает пунктуацию и
// схлопывает пробелы.
func normalizeForMatch(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

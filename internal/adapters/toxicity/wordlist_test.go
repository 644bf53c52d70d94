package toxicity

import "testing"

func TestCheckTokenMatch(t *testing.T) {
	d := NewWordList()
	res := d.Check("kys")
	if !res.IsToxic {
		t.Fatalf("ожидали токсичный вердикт для kys")
	}
	if res.Confidence != tokenConfidence {
		t.Fatalf("ожидали уверенность %v, получили %v", tokenConfidence, res.Confidence)
	}
	if res.MatchedPattern != "kys" {
		t.Fatalf("ожидали паттерн kys, получили %q", res.MatchedPattern)
	}
}

func TestCheckCleanText(t *testing.T) {
	d := NewWordList()
	if res := d.Check("have a nice day"); res.IsToxic {
		t.Fatalf("не ожидали токсичный вердикт: %+v", res)
	}
}

func TestCheckPhraseMatch(t *testing.T) {
	d := NewWordList()
	res := d.Check("please just KILL yourself already")
	if !res.IsToxic {
		t.Fatalf("ожидали срабатывание фразы")
	}
	if res.Confidence != phraseConfidence {
		t.Fatalf("ожидали уверенность %v, получили %v", phraseConfidence, res.Confidence)
	}
}

func TestCheckLeetspeak(t *testing.T) {
	d := NewWordList()
	plain := d.Check("retard")
	leet := d.Check("r3tard")
	if !plain.IsToxic || !leet.IsToxic {
		t.Fatalf("ожидали одинаковый вердикт для обоих написаний")
	}
	if plain.Confidence != leet.Confidence {
		t.Fatalf("уверенность должна совпадать: %v и %v", plain.Confidence, leet.Confidence)
	}
}

func TestCheckPunctuationStripped(t *testing.T) {
	d := NewWordList()
	if res := d.Check("you... idiot!!!"); !res.IsToxic {
		t.Fatalf("ожидали срабатывание после чистки пунктуации")
	}
}

func TestCheckEmptyInput(t *testing.T) {
	d := NewWordList()
	res := d.Check("   \n  ")
	if res.IsToxic || res.Confidence != 0 {
		t.Fatalf("пустой ввод должен давать нулевой результат: %+v", res)
	}
}

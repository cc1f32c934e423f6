package nlrule

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestParsePromptMultiplier(t *testing.T) {
	parsed := ParsePrompt("yatırımın 5 katı çekilebilir")

	if parsed.CalculationType != domain.CalcMultiplier {
		t.Errorf("expected multiplier type, got %s", parsed.CalculationType)
	}
	if parsed.Multiplier != 5 {
		t.Errorf("expected multiplier 5, got %v", parsed.Multiplier)
	}
	if parsed.Formula != "deposit * 5" {
		t.Errorf("expected formula 'deposit * 5', got %q", parsed.Formula)
	}
	if parsed.Confidence < 0.8 {
		t.Errorf("expected confidence >= 0.8, got %v", parsed.Confidence)
	}
}

func TestParsePromptUnlimited(t *testing.T) {
	for _, text := range []string{
		"sınırsız çekim",
		"unlimited withdrawal",
		"freespin bonusu",
		"limit yok",
		"kayıp bonusu %25",
	} {
		parsed := ParsePrompt(text)
		if parsed.CalculationType != domain.CalcUnlimited {
			t.Errorf("ParsePrompt(%q): expected unlimited, got %s", text, parsed.CalculationType)
		}
		if parsed.Confidence < 0.9 {
			t.Errorf("ParsePrompt(%q): expected confidence >= 0.9, got %v", text, parsed.Confidence)
		}
		if parsed.Formula != "Infinity" {
			t.Errorf("ParsePrompt(%q): expected Infinity formula, got %q", text, parsed.Formula)
		}
	}
}

func TestParsePromptAmbiguousDefault(t *testing.T) {
	parsed := ParsePrompt("hello world")

	if parsed.CalculationType != domain.CalcUnlimited {
		t.Errorf("expected unlimited default, got %s", parsed.CalculationType)
	}
	if parsed.Confidence != 0.6 {
		t.Errorf("expected low confidence 0.6, got %v", parsed.Confidence)
	}
}

func TestParsePromptBonusBase(t *testing.T) {
	parsed := ParsePrompt("bonusun 10 katı kadar çekim")

	if parsed.CalculationType != domain.CalcMultiplier {
		t.Fatalf("expected multiplier type, got %s", parsed.CalculationType)
	}
	if parsed.Formula != "bonus * 10" {
		t.Errorf("expected 'bonus * 10', got %q", parsed.Formula)
	}
}

func TestParsePromptTotalBase(t *testing.T) {
	parsed := ParsePrompt("yatırım ve bonus toplamının 3 katı")

	if parsed.Formula != "(deposit + bonus) * 3" {
		t.Errorf("expected combined base formula, got %q", parsed.Formula)
	}
}

func TestParsePromptPlusFixed(t *testing.T) {
	parsed := ParsePrompt("yatırım + 500 çekilebilir")

	if parsed.CalculationType != domain.CalcFixed {
		t.Fatalf("expected fixed type, got %s", parsed.CalculationType)
	}
	if parsed.FixedAmount != 500 {
		t.Errorf("expected fixed amount 500, got %v", parsed.FixedAmount)
	}
	if parsed.Formula != "deposit + 500" {
		t.Errorf("expected 'deposit + 500', got %q", parsed.Formula)
	}
	if parsed.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", parsed.Confidence)
	}
}

func TestParsePromptLossPercentage(t *testing.T) {
	parsed := ParsePrompt("kayıp %20 iade edilir")

	if parsed.CalculationType != domain.CalcUnlimited {
		t.Errorf("expected unlimited for percentage loss bonus, got %s", parsed.CalculationType)
	}
	if parsed.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", parsed.Confidence)
	}
}

func TestParsePromptMultiplicationSign(t *testing.T) {
	parsed := ParsePrompt("yatırımın 5× çekilebilir")

	if parsed.CalculationType != domain.CalcMultiplier {
		t.Fatalf("expected multiplier type for × sign, got %s", parsed.CalculationType)
	}
	if parsed.Multiplier != 5 {
		t.Errorf("expected multiplier 5, got %v", parsed.Multiplier)
	}
	if parsed.Formula != "deposit * 5" {
		t.Errorf("expected 'deposit * 5', got %q", parsed.Formula)
	}
}

func TestParsePromptDecimalMultiplier(t *testing.T) {
	parsed := ParsePrompt("yatırımın 2,5 katı")

	if parsed.Multiplier != 2.5 {
		t.Fatalf("expected multiplier 2.5, got %v", parsed.Multiplier)
	}
	if parsed.Formula != "deposit * 2.5" {
		t.Errorf("expected 'deposit * 2.5', got %q", parsed.Formula)
	}
}

func TestParseFormulaTextMaximumCap(t *testing.T) {
	parsed := ParseFormulaText("maksimum 1500 TL")

	if parsed == nil {
		t.Fatal("expected a parse, got nil")
	}
	if parsed.CalculationType != domain.CalcFixed {
		t.Errorf("expected fixed type, got %s", parsed.CalculationType)
	}
	if parsed.FixedAmount != 1500 {
		t.Errorf("expected 1500, got %v", parsed.FixedAmount)
	}
	if parsed.Formula != "1500" {
		t.Errorf("expected formula '1500', got %q", parsed.Formula)
	}
}

func TestParseFormulaTextDepositThreshold(t *testing.T) {
	parsed := ParseFormulaText("yatırım miktarı 1000 TL, 5 katı çekilebilir")

	if parsed == nil {
		t.Fatal("expected a parse, got nil")
	}
	if parsed.Formula != "deposit >= 1000 ? deposit * 5 : deposit" {
		t.Errorf("unexpected formula %q", parsed.Formula)
	}
	if parsed.Multiplier != 5 {
		t.Errorf("expected multiplier 5, got %v", parsed.Multiplier)
	}
}

func TestParseFormulaTextInlineArithmetic(t *testing.T) {
	parsed := ParseFormulaText("yatırım * 5 + 100")

	if parsed == nil {
		t.Fatal("expected a parse, got nil")
	}
	if parsed.Formula != "deposit * 5 + 100" {
		t.Errorf("unexpected formula %q", parsed.Formula)
	}
	if parsed.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", parsed.Confidence)
	}
}

func TestParseFormulaTextNoMatch(t *testing.T) {
	if parsed := ParseFormulaText("herhangi bir kural metni"); parsed != nil {
		t.Errorf("expected nil for non-numeric text, got %+v", parsed)
	}
}

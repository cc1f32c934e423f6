// Package nlrule provides heuristic parsing of natural-language bonus-rule
// descriptions into structured withdrawal-limit formulas.
//
// The parsers are best-effort classifiers, not grammars: an ordered cascade
// of patterns is tried and the first match wins, each match carrying a
// confidence score. Callers gate on confidence (0.5 for manual-assist
// previews, 0.7 for automatic rule substitution) before trusting a parse
// over a configured or default value.
package nlrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ParsedRule is the structured result of a natural-language parse.
type ParsedRule struct {
	CalculationType string  `json:"calculationType"`
	Formula         string  `json:"formula"`
	Multiplier      float64 `json:"multiplier,omitempty"`
	FixedAmount     float64 `json:"fixedAmount,omitempty"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// patternRule is one step of the cascade: a named matcher that either
// produces a ParsedRule or passes to the next step.
type patternRule struct {
	name  string
	match func(text string) *ParsedRule
}

// promptCascade is evaluated in priority order; first match wins.
var promptCascade = []patternRule{
	{"unlimited-keywords", matchUnlimitedKeywords},
	{"multiplier", matchMultiplier},
	{"plus-fixed", matchPlusFixed},
	{"loss-percentage", matchLossPercentage},
}

// unlimitedKeywords indicate withdrawal without a rule-derived cap.
// Both Turkish spellings are listed because ASCII case-folding of dotted
// and dotless i produces either form.
var unlimitedKeywords = []string{
	"sınırsız", "sinirsiz", "unlimited",
	"freespin", "free spin",
	"limit yok",
	"kayıp bonusu", "kayip bonusu", "loss bonus",
}

var (
	multiplierRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:x\b|×|kat)`)
	xPrefixRe    = regexp.MustCompile(`\bx\s*(\d+(?:[.,]\d+)?)`)
	plusFixedRe  = regexp.MustCompile(`(?:\+|artı|arti)\s*(\d+(?:[.,]\d+)?)`)
	percentRe    = regexp.MustCompile(`%\s*\d+|\d+\s*%`)
)

// ParsePrompt converts a free-text rule description into a structured
// formula. It never returns nil: text matching no pattern defaults to
// unlimited at low confidence, which callers are expected to reject.
func ParsePrompt(text string) *ParsedRule {
	lower := strings.ToLower(text)

	for _, rule := range promptCascade {
		if parsed := rule.match(lower); parsed != nil {
			return parsed
		}
	}

	return &ParsedRule{
		CalculationType: domain.CalcUnlimited,
		Formula:         "Infinity",
		Confidence:      0.6,
		Reasoning:       "ambiguous prompt: no known pattern matched, defaulting to unlimited",
	}
}

func matchUnlimitedKeywords(text string) *ParsedRule {
	for _, kw := range unlimitedKeywords {
		if strings.Contains(text, kw) {
			return &ParsedRule{
				CalculationType: domain.CalcUnlimited,
				Formula:         "Infinity",
				Confidence:      0.95,
				Reasoning:       fmt.Sprintf("keyword %q indicates unlimited withdrawal", kw),
			}
		}
	}
	return nil
}

func matchMultiplier(text string) *ParsedRule {
	m := multiplierRe.FindStringSubmatch(text)
	if m == nil {
		m = xPrefixRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}

	mult := parseNumber(m[1])
	if mult <= 0 {
		return nil
	}

	base, confidence, why := classifyBase(text)

	return &ParsedRule{
		CalculationType: domain.CalcMultiplier,
		Formula:         fmt.Sprintf("%s * %s", base, formatNumber(mult)),
		Multiplier:      mult,
		Confidence:      confidence,
		Reasoning:       fmt.Sprintf("multiplier %v over %s", mult, why),
	}
}

// classifyBase decides which quantity the multiplier applies to.
func classifyBase(text string) (base string, confidence float64, why string) {
	hasDeposit := strings.Contains(text, "yatırım") || strings.Contains(text, "yatirim") ||
		strings.Contains(text, "deposit") || strings.Contains(text, "anapara")
	hasBonus := strings.Contains(text, "bonus")

	switch {
	case strings.Contains(text, "toplam"):
		return "(deposit + bonus)", 0.85, "deposit+bonus total"
	case hasBonus && !hasDeposit:
		return "bonus", 0.9, "bonus amount"
	case hasDeposit:
		return "deposit", 0.9, "deposit amount"
	default:
		return "deposit", 0.8, "deposit amount (no explicit base, deposit assumed)"
	}
}

func matchPlusFixed(text string) *ParsedRule {
	m := plusFixedRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	amount := parseNumber(m[1])
	if amount <= 0 {
		return nil
	}

	return &ParsedRule{
		CalculationType: domain.CalcFixed,
		Formula:         fmt.Sprintf("deposit + %s", formatNumber(amount)),
		FixedAmount:     amount,
		Confidence:      0.85,
		Reasoning:       fmt.Sprintf("fixed amount %v on top of deposit", amount),
	}
}

// matchLossPercentage treats percentage-based loss bonuses as unlimited
// regardless of the percentage value.
func matchLossPercentage(text string) *ParsedRule {
	if !percentRe.MatchString(text) {
		return nil
	}
	if !strings.Contains(text, "kayıp") && !strings.Contains(text, "kayip") &&
		!strings.Contains(text, "loss") {
		return nil
	}

	return &ParsedRule{
		CalculationType: domain.CalcUnlimited,
		Formula:         "Infinity",
		Confidence:      0.9,
		Reasoning:       "percentage loss bonus: treated as unlimited",
	}
}

// parseNumber reads a number accepting both decimal separators.
func parseNumber(s string) float64 {
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatNumber renders a number the way the formula engine expects it.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package nlrule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ParseFormulaText is the second parser variant, aimed at rule text that is
// already mostly numeric ("maksimum 1500 TL", "yatırım miktarı 1000 TL 5
// katı"). It produces capped or conditional formulas. Returns nil when the
// text carries no usable numeric structure; callers then fall through to
// ParsePrompt.
func ParseFormulaText(text string) *ParsedRule {
	lower := strings.ToLower(text)

	for _, rule := range formulaTextCascade {
		if parsed := rule.match(lower); parsed != nil {
			return parsed
		}
	}
	return nil
}

var formulaTextCascade = []patternRule{
	{"deposit-threshold-multiplier", matchDepositThreshold},
	{"maximum-cap", matchMaximumCap},
	{"inline-arithmetic", matchInlineArithmetic},
}

var (
	maximumRe       = regexp.MustCompile(`(?:maksimum|maks\.?|max)\s*(\d+(?:[.,]\d+)?)`)
	depositAmountRe = regexp.MustCompile(`(?:yatırım|yatirim|deposit)\s*(?:miktarı|miktari|tutarı|tutari)?\s*(\d+(?:[.,]\d+)?)`)
	arithmeticRe    = regexp.MustCompile(`^[\d\s+\-*/().,a-z]+$`)
	letterRe        = regexp.MustCompile(`[a-z]`)
)

// matchMaximumCap handles a flat cap: "maksimum 1500 TL".
func matchMaximumCap(text string) *ParsedRule {
	m := maximumRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	limit := parseNumber(m[1])
	if limit <= 0 {
		return nil
	}

	return &ParsedRule{
		CalculationType: domain.CalcFixed,
		Formula:         formatNumber(limit),
		FixedAmount:     limit,
		Confidence:      0.85,
		Reasoning:       fmt.Sprintf("flat cap of %v", limit),
	}
}

// matchDepositThreshold handles text naming a deposit amount together with
// a multiplier ("yatırım miktarı 1000 TL, 5 katı çekilebilir"): the
// multiplier applies once the deposit reaches the named threshold.
func matchDepositThreshold(text string) *ParsedRule {
	dm := depositAmountRe.FindStringSubmatch(text)
	if dm == nil {
		return nil
	}
	mm := multiplierRe.FindStringSubmatch(text)
	if mm == nil {
		return nil
	}

	threshold := parseNumber(dm[1])
	mult := parseNumber(mm[1])
	if threshold <= 0 || mult <= 0 {
		return nil
	}

	return &ParsedRule{
		CalculationType: domain.CalcMultiplier,
		Formula: fmt.Sprintf("deposit >= %s ? deposit * %s : deposit",
			formatNumber(threshold), formatNumber(mult)),
		Multiplier: mult,
		Confidence: 0.75,
		Reasoning:  fmt.Sprintf("deposit threshold %v with multiplier %v", threshold, mult),
	}
}

// translations maps Turkish quantity words onto formula variables.
var translations = []struct{ from, to string }{
	{"yatırım", "deposit"},
	{"yatirim", "deposit"},
	{"anapara", "deposit"},
	{"çekim", "withdrawal"},
	{"cekim", "withdrawal"},
	{"bonus", "bonus"},
}

// matchInlineArithmetic accepts text that is already an arithmetic formula
// over quantity words ("yatırım * 5 + 100").
func matchInlineArithmetic(text string) *ParsedRule {
	candidate := strings.TrimSpace(text)
	for _, tr := range translations {
		candidate = strings.ReplaceAll(candidate, tr.from, tr.to)
	}
	candidate = strings.TrimSuffix(candidate, " tl")

	if candidate == "" || !arithmeticRe.MatchString(candidate) {
		return nil
	}
	// Must reference at least one variable or contain an operator to be a
	// formula rather than a stray token.
	hasVar := strings.Contains(candidate, "deposit") ||
		strings.Contains(candidate, "bonus") ||
		strings.Contains(candidate, "withdrawal")
	hasOp := strings.ContainsAny(candidate, "+-*/")
	if !hasVar && !hasOp {
		return nil
	}
	// Reject leftover words that are not variables.
	stripped := candidate
	for _, v := range []string{"deposit", "bonus", "withdrawal", "min", "max"} {
		stripped = strings.ReplaceAll(stripped, v, "")
	}
	if letterRe.MatchString(stripped) {
		return nil
	}

	return &ParsedRule{
		CalculationType: domain.CalcMultiplier,
		Formula:         strings.ReplaceAll(candidate, ",", "."),
		Confidence:      0.9,
		Reasoning:       "text is already an arithmetic formula over known quantities",
	}
}

// Package rules resolves configured bonus rules and timing policies for
// bonus names.
package rules

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolve finds the configured rule for a bonus name.
//
// A rule matches when its bonus_name equals the bonus name or when either
// string contains the other (case-sensitive, bidirectional substring).
// Operators register short rule names ("Hoş Geldin") that match every
// ingested variant ("Hoş Geldin Bonusu 2025") without per-variant entries.
//
// When several rules match, the one with the longest configured bonus_name
// wins: the most specific registration beats the most generic one, and the
// outcome does not depend on collection order. Returns nil when nothing
// matches; callers fall back to natural-language parsing.
func Resolve(bonusName string, rules []*domain.BonusRule) *domain.BonusRule {
	if bonusName == "" {
		return nil
	}

	var best *domain.BonusRule
	for _, rule := range rules {
		if rule.BonusName == "" {
			continue
		}
		if !matches(bonusName, rule.BonusName) {
			continue
		}
		if best == nil || len(rule.BonusName) > len(best.BonusName) {
			best = rule
		}
	}
	return best
}

func matches(bonusName, ruleName string) bool {
	return bonusName == ruleName ||
		strings.Contains(bonusName, ruleName) ||
		strings.Contains(ruleName, bonusName)
}

// ResolvePrompt finds the AI rule prompt registered for a bonus name, using
// the same bidirectional substring semantics as Resolve.
func ResolvePrompt(bonusName string, prompts []*domain.AIRulePrompt) *domain.AIRulePrompt {
	if bonusName == "" {
		return nil
	}

	var best *domain.AIRulePrompt
	for _, p := range prompts {
		if p.BonusName == "" {
			continue
		}
		if !matches(bonusName, p.BonusName) {
			continue
		}
		if best == nil || len(p.BonusName) > len(best.BonusName) {
			best = p
		}
	}
	return best
}

package rules

import "strings"

// Timing is the deposit-bonus matching direction for a bonus type.
type Timing int

const (
	// DepositBefore links a bonus to the closest deposit preceding its
	// effective date. This is the default: most bonuses are granted in
	// response to a deposit.
	DepositBefore Timing = iota

	// DepositAfter links a bonus to the closest deposit following its
	// effective date. Used for promotional bonuses meant to trigger a
	// future deposit.
	DepositAfter
)

// PolicyRule maps a bonus-name pattern (case-insensitive substring) to a
// timing policy.
type PolicyRule struct {
	NamePattern string
	Timing      Timing
}

// PolicyTable decides the timing policy for a bonus name. The table is
// injected into the matcher so name-specific overrides live in
// configuration, not in matcher code.
type PolicyTable struct {
	rules []PolicyRule
}

// NewPolicyTable builds a policy table from override rules. Names matching
// no rule get DepositBefore.
func NewPolicyTable(rules []PolicyRule) *PolicyTable {
	return &PolicyTable{rules: rules}
}

// DefaultPolicyTable returns the production override set: call-in and
// next-deposit promotions pay out against a deposit made after the grant.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable([]PolicyRule{
		{NamePattern: "sonraki yatırım", Timing: DepositAfter},
		{NamePattern: "sonraki yatirim", Timing: DepositAfter},
		{NamePattern: "next deposit", Timing: DepositAfter},
		{NamePattern: "çağrı", Timing: DepositAfter},
	})
}

// TimingFor returns the timing policy for a bonus name.
func (t *PolicyTable) TimingFor(bonusName string) Timing {
	lower := strings.ToLower(bonusName)
	for _, rule := range t.rules {
		if strings.Contains(lower, strings.ToLower(rule.NamePattern)) {
			return rule.Timing
		}
	}
	return DepositBefore
}

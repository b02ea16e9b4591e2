/*
Package fees sizes the platform's cut of a payment.

PURPOSE:
  The Calculator is a pure function over an explicit, versioned rule set:
  given an order context it produces the platform fee amount and the rule
  that applied. It has no side effects and no ledger access - the resulting
  quote is baked into ledger entries that can never be edited after capture,
  so identical inputs against an identical rule set must always produce an
  identical fee.

RULE EVALUATION:
  Rules are evaluated in descending priority order. The first rule whose
  scope fully matches wins. Scope conditions (category, seller, amount
  range) are optional and additive: every condition a rule declares must
  match.

FEE TYPES:
  percentage  fee = order amount * percent / 100, rounded to 2dp
  flat        fee = fixed amount
  tiered      reserved but unimplemented - selecting it fails loudly
              rather than silently approximating

DEFAULT:
  When no rule matches, the rule set's default percentage applies. The
  default is an explicit constant, never a silent zero-fee fallback.

SEE ALSO:
  - rules.go: Pre-built rule set configurations
  - factory.go: JSON rule set loading
*/
package fees

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE TYPES
// =============================================================================

type RuleType string

const (
	TypePercentage RuleType = "percentage"
	TypeFlat       RuleType = "flat"

	// TypeTiered is reserved for volume-tiered fee schedules. Selecting a
	// tiered rule fails with ErrTieredRuleUnsupported until implemented.
	TypeTiered RuleType = "tiered"
)

// ErrTieredRuleUnsupported is returned when a matching rule has the reserved
// tiered type. Loud failure is deliberate: approximating a tiered fee would
// bake a wrong amount into immutable ledger entries.
var ErrTieredRuleUnsupported = errors.New("tiered fee rules are not implemented")

// ErrNoOrderAmount is returned for a non-positive order amount.
var ErrNoOrderAmount = errors.New("order amount must be positive")

// =============================================================================
// RULES
// =============================================================================

// Rule is one fee rule. All declared scope conditions must match for the
// rule to apply.
type Rule struct {
	ID       string
	Name     string
	Type     RuleType
	Priority int // higher wins

	// Fee sizing. Percent is used for TypePercentage, FlatAmount for TypeFlat.
	Percent    decimal.Decimal
	FlatAmount decimal.Decimal

	// Optional scope conditions (nil/empty = not constrained).
	CategoryID string
	SellerID   string
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
}

// matches reports whether every declared condition of the rule holds.
func (r Rule) matches(in Input) bool {
	if r.CategoryID != "" && r.CategoryID != in.CategoryID {
		return false
	}
	if r.SellerID != "" && r.SellerID != in.SellerID {
		return false
	}
	if r.MinAmount != nil && in.OrderAmount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && in.OrderAmount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// RuleSet is an explicit, versioned fee configuration. It is passed into
// every Calculate call - never a process-wide mutable singleton - which
// keeps fee computation pure and testable.
type RuleSet struct {
	Version        string
	Rules          []Rule
	DefaultPercent decimal.Decimal
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Input is the order context a fee is computed from.
type Input struct {
	OrderAmount decimal.Decimal
	CategoryID  string
	SellerID    string
}

// Quote is the computed platform fee. Amount is what lands in the platform
// fee ledger entry; Percent and RuleApplied are snapshotted for audit.
type Quote struct {
	Amount      decimal.Decimal
	Percent     decimal.Decimal
	RuleApplied string
}

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate evaluates the rule set against the order context.
// Pure and deterministic: no side effects, no ledger access.
func (c *Calculator) Calculate(set RuleSet, in Input) (Quote, error) {
	if !in.OrderAmount.IsPositive() {
		return Quote{}, fmt.Errorf("%w: got %s", ErrNoOrderAmount, in.OrderAmount)
	}

	rules := make([]Rule, len(set.Rules))
	copy(rules, set.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	for _, rule := range rules {
		if !rule.matches(in) {
			continue
		}
		switch rule.Type {
		case TypePercentage:
			return Quote{
				Amount:      percentOf(in.OrderAmount, rule.Percent),
				Percent:     rule.Percent,
				RuleApplied: rule.ID,
			}, nil
		case TypeFlat:
			return Quote{
				Amount:      rule.FlatAmount.Round(2),
				Percent:     decimal.Zero,
				RuleApplied: rule.ID,
			}, nil
		case TypeTiered:
			return Quote{}, fmt.Errorf("%w: rule %s", ErrTieredRuleUnsupported, rule.ID)
		default:
			return Quote{}, fmt.Errorf("fee rule %s has unknown type %q", rule.ID, rule.Type)
		}
	}

	// No rule matched: the explicit default percentage applies.
	return Quote{
		Amount:      percentOf(in.OrderAmount, set.DefaultPercent),
		Percent:     set.DefaultPercent,
		RuleApplied: DefaultRuleID,
	}, nil
}

// DefaultRuleID marks quotes produced by the rule set's default percentage.
const DefaultRuleID = "default"

// percentOf computes amount * percent / 100 rounded to 2 decimal places.
// Rounding is half-up via decimal.Round, which keeps quotes deterministic.
func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
}

/*
factory.go - JSON to Go fee rule set conversion

PURPOSE:
  Converts JSON rule set definitions into fees.RuleSet values. This enables
  fee configuration without code changes - operations staff can define rule
  sets in JSON, version them, and load them at startup or per request.

JSON SCHEMA:
  {
    "version": "2026-01",
    "default_percent": "2.5",
    "rules": [
      {
        "id": "cat-electronics",
        "name": "Electronics rate",
        "type": "percentage",
        "priority": 20,
        "percent": "1.8",
        "category_id": "electronics"
      },
      {
        "id": "small-order",
        "type": "flat",
        "priority": 10,
        "flat_amount": "0.50",
        "max_amount": "10"
      }
    ]
  }

  Amounts and percentages are JSON strings so they parse as exact decimals,
  never floats.

USAGE:
  set, err := fees.ParseRuleSet(jsonBytes)
  quote, err := calculator.Calculate(set, input)

SEE ALSO:
  - calculator.go: Rule evaluation
  - rules.go: Go-based rule set presets
*/
package fees

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleSetJSON is the JSON representation of a rule set.
type RuleSetJSON struct {
	Version        string     `json:"version"`
	DefaultPercent string     `json:"default_percent,omitempty"`
	Rules          []RuleJSON `json:"rules,omitempty"`
}

// RuleJSON is the JSON representation of one rule.
type RuleJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type"`
	Priority   int    `json:"priority"`
	Percent    string `json:"percent,omitempty"`
	FlatAmount string `json:"flat_amount,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	SellerID   string `json:"seller_id,omitempty"`
	MinAmount  string `json:"min_amount,omitempty"`
	MaxAmount  string `json:"max_amount,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRuleSet converts a JSON rule set into a RuleSet.
// A missing default percentage falls back to DefaultFeePercent - loading a
// rule set can reduce the default, but never silently zero it.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var raw RuleSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule set: %w", err)
	}
	if raw.Version == "" {
		return RuleSet{}, fmt.Errorf("rule set has no version")
	}

	set := RuleSet{Version: raw.Version, DefaultPercent: DefaultFeePercent}
	if raw.DefaultPercent != "" {
		d, err := decimal.NewFromString(raw.DefaultPercent)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rule set default_percent: %w", err)
		}
		set.DefaultPercent = d
	}

	for i, rj := range raw.Rules {
		rule, err := parseRule(rj)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rule %d (%s): %w", i, rj.ID, err)
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

func parseRule(rj RuleJSON) (Rule, error) {
	if rj.ID == "" {
		return Rule{}, fmt.Errorf("missing id")
	}

	rule := Rule{
		ID:         rj.ID,
		Name:       rj.Name,
		Type:       RuleType(rj.Type),
		Priority:   rj.Priority,
		CategoryID: rj.CategoryID,
		SellerID:   rj.SellerID,
	}

	switch rule.Type {
	case TypePercentage:
		if rj.Percent == "" {
			return Rule{}, fmt.Errorf("percentage rule needs percent")
		}
		d, err := decimal.NewFromString(rj.Percent)
		if err != nil {
			return Rule{}, fmt.Errorf("percent: %w", err)
		}
		rule.Percent = d
	case TypeFlat:
		if rj.FlatAmount == "" {
			return Rule{}, fmt.Errorf("flat rule needs flat_amount")
		}
		d, err := decimal.NewFromString(rj.FlatAmount)
		if err != nil {
			return Rule{}, fmt.Errorf("flat_amount: %w", err)
		}
		rule.FlatAmount = d
	case TypeTiered:
		// Parse succeeds so configs can stage tiered rules ahead of support;
		// evaluation still fails loudly in Calculate.
	default:
		return Rule{}, fmt.Errorf("unknown rule type %q", rj.Type)
	}

	if rj.MinAmount != "" {
		d, err := decimal.NewFromString(rj.MinAmount)
		if err != nil {
			return Rule{}, fmt.Errorf("min_amount: %w", err)
		}
		rule.MinAmount = &d
	}
	if rj.MaxAmount != "" {
		d, err := decimal.NewFromString(rj.MaxAmount)
		if err != nil {
			return Rule{}, fmt.Errorf("max_amount: %w", err)
		}
		rule.MaxAmount = &d
	}
	return rule, nil
}

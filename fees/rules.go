/*
rules.go - Pre-built fee rule set configurations

PURPOSE:
  Provides ready-to-use rule sets for common marketplace setups. Production
  deployments typically load a JSON rule set instead (see factory.go); these
  presets cover bootstrapping and tests.

PRESETS:
  StandardMarketplaceRules:
    - Flat default percentage across the marketplace
    - Example of the no-rules case: everything falls through to the default

  CategoryTieredRules:
    - Per-category percentage overrides (e.g. electronics cheaper than
      handmade goods)
    - Negotiated per-seller rates at highest priority
    - Flat fee for low-value orders so micro-transactions stay worthwhile

DEFAULT RATE:
  DefaultFeePercent is the marketplace-wide fallback. It is deliberately an
  exported constant: a rule set with a zero default is almost always a
  configuration mistake, and the explicit constant keeps "no rule matched"
  from silently meaning "no fee".

SEE ALSO:
  - calculator.go: Rule evaluation
  - factory.go: JSON-based rule set creation
*/
package fees

import "github.com/shopspring/decimal"

// DefaultFeePercent is the marketplace-wide fee applied when no rule
// matches: 2.5% of the order amount.
var DefaultFeePercent = decimal.NewFromFloat(2.5)

// =============================================================================
// STANDARD MARKETPLACE
// =============================================================================

// StandardMarketplaceRules returns a rule set with no specific rules:
// every order pays the default percentage.
func StandardMarketplaceRules(version string) RuleSet {
	return RuleSet{
		Version:        version,
		DefaultPercent: DefaultFeePercent,
	}
}

// =============================================================================
// CATEGORY AND SELLER OVERRIDES
// =============================================================================

// CategoryRule builds a percentage rule scoped to one category.
func CategoryRule(id, categoryID string, percent decimal.Decimal, priority int) Rule {
	return Rule{
		ID:         id,
		Name:       "category rate " + categoryID,
		Type:       TypePercentage,
		Priority:   priority,
		Percent:    percent,
		CategoryID: categoryID,
	}
}

// SellerRule builds a negotiated percentage rule scoped to one seller.
// Seller rules typically carry the highest priority so a negotiated rate
// beats any category rate.
func SellerRule(id, sellerID string, percent decimal.Decimal, priority int) Rule {
	return Rule{
		ID:       id,
		Name:     "seller rate " + sellerID,
		Type:     TypePercentage,
		Priority: priority,
		Percent:  percent,
		SellerID: sellerID,
	}
}

// SmallOrderFlatRule builds a flat-amount rule for orders at or below
// maxAmount. Keeps micro-transactions from rounding the fee to nothing.
func SmallOrderFlatRule(id string, flat, maxAmount decimal.Decimal, priority int) Rule {
	max := maxAmount
	return Rule{
		ID:         id,
		Name:       "small order flat fee",
		Type:       TypeFlat,
		Priority:   priority,
		FlatAmount: flat,
		MaxAmount:  &max,
	}
}

// CategoryTieredRules returns a rule set demonstrating the full scope
// matrix: seller overrides beat category rates, which beat the small-order
// flat fee, which beats the default.
func CategoryTieredRules(version string) RuleSet {
	return RuleSet{
		Version: version,
		Rules: []Rule{
			SmallOrderFlatRule("small-order", decimal.NewFromFloat(0.50), decimal.NewFromInt(10), 10),
			CategoryRule("cat-electronics", "electronics", decimal.NewFromFloat(1.8), 20),
			CategoryRule("cat-handmade", "handmade", decimal.NewFromFloat(4.0), 20),
		},
		DefaultPercent: DefaultFeePercent,
	}
}

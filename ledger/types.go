/*
Package ledger provides the double-entry bookkeeping core.

PURPOSE:
  This package contains the types and algorithms for recording money movement
  between buyer, seller, platform, and escrow accounts. Every financial effect
  in the system is a group of signed ledger entries that sums to exactly zero,
  and every balance is computed by replaying entries - there is no stored
  "balance" column that can drift out of sync.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable, signed monetary record against one account
  - EntryInput: The caller-facing shape used to request a new entry
  - EntryKind: What kind of money movement an entry represents
  - GroupID: Groups entries written as one atomic operation (zero-sum unit)

DESIGN PRINCIPLES:
  1. Immutability: Entries are never updated or deleted, only compensated
  2. Precision: Uses decimal.Decimal for every amount and every sum
  3. Zero-sum: The entries of one group always sum to exactly zero
  4. Auditability: Every entry carries a description and business references

USAGE:
  in := ledger.EntryInput{
      AccountID:   "acct-buyer",
      Amount:      ledger.MustDecimal("-1000.00"),
      Kind:        ledger.KindPaymentDebit,
      Description: "payment for order ord-1",
      PaymentID:   "pay-1",
  }

SEE ALSO:
  - engine.go: Validates and atomically records entry groups
  - account.go: Accounts, status gating, and balance computation
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// GroupID identifies the set of entries written atomically for one business
// operation. All entries sharing a GroupID must sum to exactly zero.
type GroupID string

// NewEntryID generates a unique entry identifier.
func NewEntryID() EntryID {
	return EntryID("ent-" + uuid.NewString())
}

// NewGroupID generates a unique transaction group identifier.
func NewGroupID() GroupID {
	return GroupID("grp-" + uuid.NewString())
}

// NewAccountID generates a unique account identifier.
func NewAccountID() AccountID {
	return AccountID("acct-" + uuid.NewString())
}

// NewStatusChangeID generates a unique status change identifier.
func NewStatusChangeID() string {
	return "chg-" + uuid.NewString()
}

// =============================================================================
// MONEY - Exact decimal arithmetic only
// =============================================================================

// MustDecimal parses a decimal string, panicking on malformed input.
// Intended for constants and tests; runtime paths should handle parse errors.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("malformed decimal literal: " + s)
	}
	return d
}

// =============================================================================
// ENTRY KIND - What kind of money movement an entry represents
// =============================================================================

type EntryKind string

const (
	KindPaymentDebit     EntryKind = "payment_debit"     // Payer charged on capture
	KindPaymentCredit    EntryKind = "payment_credit"    // Payee paid on capture (net of fee)
	KindPlatformFee      EntryKind = "platform_fee"      // Platform's cut of a captured payment
	KindRefundDebit      EntryKind = "refund_debit"      // Money leaving an account on refund
	KindRefundCredit     EntryKind = "refund_credit"     // Money returned to the payer on refund
	KindWithdrawalDebit  EntryKind = "withdrawal_debit"  // Seller payout leaving the wallet
	KindWithdrawalFee    EntryKind = "withdrawal_fee"    // Fee charged on a withdrawal
	KindAdjustmentCredit EntryKind = "adjustment_credit" // Manual admin correction (+)
	KindAdjustmentDebit  EntryKind = "adjustment_debit"  // Manual admin correction (-)
	KindReferralCredit   EntryKind = "referral_credit"   // Referral reward granted
	KindReferralDebit    EntryKind = "referral_debit"    // Referral reward funded
)

var validKinds = map[EntryKind]bool{
	KindPaymentDebit:     true,
	KindPaymentCredit:    true,
	KindPlatformFee:      true,
	KindRefundDebit:      true,
	KindRefundCredit:     true,
	KindWithdrawalDebit:  true,
	KindWithdrawalFee:    true,
	KindAdjustmentCredit: true,
	KindAdjustmentDebit:  true,
	KindReferralCredit:   true,
	KindReferralDebit:    true,
}

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	return validKinds[k]
}

// =============================================================================
// ENTRY - One immutable signed monetary record
// =============================================================================

// Entry is one signed, immutable monetary record against one account.
// Positive amounts are credits, negative amounts are debits.
//
// Entries are created exclusively by the Engine and are never updated or
// deleted. Corrections are made by appending compensating entries.
type Entry struct {
	ID        EntryID
	AccountID AccountID
	Amount    decimal.Decimal
	Kind      EntryKind

	// GroupID links the entries written atomically for one operation.
	// Position is the entry's ordinal within its group, starting at 0.
	GroupID  GroupID
	Position int

	// IdempotencyKey is shared by every entry of a group when the operation
	// carries one. Re-submission with the same key never creates new rows.
	IdempotencyKey string

	Description string

	// Business references for audit traceability only. At least one of these
	// (or CreatedBy for manual adjustments) must be set. Never used for
	// balance computation.
	PaymentID    string
	OrderID      string
	RefundID     string
	WithdrawalID string

	// CreatedBy records the acting administrator for manual entries.
	CreatedBy string

	CreatedAt time.Time
}

// EntryInput is the caller-facing shape for requesting a new entry.
// The Engine assigns IDs, positions, and timestamps.
type EntryInput struct {
	AccountID   AccountID
	Amount      decimal.Decimal
	Kind        EntryKind
	Description string

	PaymentID    string
	OrderID      string
	RefundID     string
	WithdrawalID string
	CreatedBy    string
}

// hasReference reports whether the input carries at least one business
// reference or an explicit administrator attribution.
func (in EntryInput) hasReference() bool {
	return in.PaymentID != "" || in.OrderID != "" || in.RefundID != "" ||
		in.WithdrawalID != "" || in.CreatedBy != ""
}

// SumEntries returns the exact decimal sum of the given entries' amounts.
func SumEntries(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

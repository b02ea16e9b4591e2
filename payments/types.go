/*
Package payments drives payments through their lifecycle.

PURPOSE:
  The Orchestrator is the only component permitted to combine the Fee
  Calculator with the Ledger Engine and Account Manager. It computes fee
  snapshots at initiation, builds balanced entry sets at capture, and owns
  the payment state machine. It never touches the entry store directly.

STATE MACHINE:
  INITIATED --authorize--> INITIATED   (gateway metadata attached)
  INITIATED --capture----> CAPTURED    (terminal success, money moves)
  INITIATED --cancel-----> CANCELLED   (terminal, pre-capture only)
  INITIATED --fail-------> CANCELLED   (terminal, gateway rejection)
  CAPTURED  --refund-----> REFUNDED    (terminal)

  CAPTURED, CANCELLED, and REFUNDED are terminal. Capturing an already
  captured payment is idempotent; capturing a cancelled or refunded payment
  is rejected.

KEY CONCEPTS IN THIS FILE (types.go):
  - Payment: The lifecycle record, including the immutable fee snapshot
  - Method: How the buyer pays (cash on delivery, card, wallet)
  - PaymentStore / Locker / Notifier: Collaborator contracts

SEE ALSO:
  - orchestrator.go: initiate/authorize/capture/cancel/fail
  - refund.go: The refund flow, consuming the same Ledger Engine
*/
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian/commerce-ledger/ledger"
)

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

type PaymentID string

// NewPaymentID generates a unique payment identifier.
func NewPaymentID() PaymentID {
	return PaymentID("pay-" + uuid.NewString())
}

type Method string

const (
	MethodCashOnDelivery  Method = "cash_on_delivery"
	MethodCardAuthCapture Method = "card_auth_capture"
	MethodWalletCheckout  Method = "wallet_checkout"
)

var validMethods = map[Method]bool{
	MethodCashOnDelivery:  true,
	MethodCardAuthCapture: true,
	MethodWalletCheckout:  true,
}

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool { return validMethods[m] }

// UsesGateway reports whether the method talks to a payment gateway and
// therefore supports authorize and requires a sufficient-funds check at
// capture. Cash on delivery does neither: cash changes hands physically.
func (m Method) UsesGateway() bool { return m != MethodCashOnDelivery }

type State string

const (
	StateInitiated State = "initiated"
	StateCaptured  State = "captured"
	StateCancelled State = "cancelled"
	StateRefunded  State = "refunded"
)

// Terminal reports whether no transition leaves this state (capture of a
// CAPTURED payment is an idempotent no-op, not a transition).
func (s State) Terminal() bool { return s != StateInitiated }

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is the lifecycle record of one order's payment.
//
// The fee fields are a snapshot taken at initiation: capture reuses them
// verbatim, so rule changes between initiation and capture can never
// retroactively change a quote.
type Payment struct {
	ID      PaymentID
	OrderID string
	Method  Method
	Amount  decimal.Decimal

	PayerAccountID ledger.AccountID
	PayeeAccountID ledger.AccountID

	// Fee snapshot (immutable after initiation).
	FeeAmount  decimal.Decimal
	FeePercent decimal.Decimal
	FeeRule    string

	State State

	// IdempotencyKey is derived deterministically from the payment id at
	// initiation (see CaptureKey) so true capture retries collide on the
	// same key instead of minting new ones.
	IdempotencyKey string

	// Gateway correlation.
	GatewayReference     string
	GatewayTransactionID string

	// Cash-on-delivery confirmation.
	ConfirmedBy string
	ConfirmedAt *time.Time

	FailureReason string

	InitiatedAt  time.Time
	AuthorizedAt *time.Time
	CapturedAt   *time.Time
	CancelledAt  *time.Time
	FailedAt     *time.Time
	RefundedAt   *time.Time
}

// CaptureKey derives the ledger idempotency key for capturing a payment.
func CaptureKey(id PaymentID) string { return "payment-capture:" + string(id) }

// RefundKey derives the ledger idempotency key for refunding a payment.
func RefundKey(id PaymentID) string { return "payment-refund:" + string(id) }

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// PaymentStore persists payment records. Uniqueness of OrderID (one payment
// per order) and IdempotencyKey is enforced by the store.
type PaymentStore interface {
	// CreatePayment inserts a new payment. Fails with ErrOrderAlreadyPaid
	// when the order already has one.
	CreatePayment(ctx context.Context, p Payment) error

	// GetPayment returns the payment or ErrPaymentNotFound.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// GetPaymentByOrder returns (nil, nil) when the order has no payment.
	GetPaymentByOrder(ctx context.Context, orderID string) (*Payment, error)

	// SavePayment updates the lifecycle fields of an existing payment.
	SavePayment(ctx context.Context, p Payment) error
}

// Locker grants exclusive access to one payment with a bounded wait.
// Implementations return ledger.ErrLockNotAcquired when the lock cannot be
// acquired promptly, so callers can distinguish "retry shortly" from
// genuine failure.
type Locker interface {
	WithLock(ctx context.Context, id PaymentID, fn func() error) error
}

// Notifier receives fire-and-forget lifecycle notifications. Implementations
// must never block and never return errors: notification failure must not
// unwind the financial operation that triggered it.
type Notifier interface {
	PaymentCaptured(p Payment)
	PaymentFailed(p Payment, reason string)
	PaymentRefunded(p Payment)
}

/*
orchestrator.go - Payment lifecycle: initiate, authorize, capture, cancel, fail

PURPOSE:
  Wires the Fee Calculator, Account Manager, and Ledger Engine into the
  payment flows. The fee is quoted once at initiation and snapshotted onto
  the payment; capture replays that snapshot into a balanced entry set and
  records it under the payment's deterministic idempotency key.

CAPTURE ENTRY SET (order total 1000.00, fee 2.5%):
  payer     -1000.00   payment_debit
  payee      +975.00   payment_credit
  platform    +25.00   platform_fee
  ---------------------------------
  sum            0.00

CONCURRENCY:
  Every lifecycle mutation runs under an exclusive per-payment lock with a
  bounded wait. A caller that cannot get the lock promptly receives
  ledger.ErrLockNotAcquired and should retry with backoff. Within the lock,
  capture is idempotent: a payment already CAPTURED returns successfully
  without touching the ledger.

FAILURE ATOMICITY:
  The ledger write and the CAPTURED state update are two steps. If the
  process dies between them, the payment is left INITIATED with its entries
  committed; the retried capture finds the entries via the idempotency key
  (AlreadyExists) and completes the state update without double-charging.

SEE ALSO:
  - refund.go: CAPTURED -> REFUNDED
  - types.go: State machine and collaborator contracts
*/
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian/commerce-ledger/fees"
	"github.com/meridian/commerce-ledger/ledger"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Config carries the orchestrator's collaborators. Payments, Locks, Accounts,
// Engine, and Rules are required; Notifier is optional.
type Config struct {
	Payments PaymentStore
	Locks    Locker
	Accounts *ledger.Manager
	Engine   *ledger.Engine
	Rules    fees.RuleSet

	// RefundFees selects what happens to the platform fee on refund.
	// Must be set explicitly; there is no implicit default.
	RefundFees RefundFeePolicy

	Notifier Notifier
	Logger   zerolog.Logger
}

type Orchestrator struct {
	payments   PaymentStore
	locks      Locker
	accounts   *ledger.Manager
	engine     *ledger.Engine
	calc       *fees.Calculator
	rules      fees.RuleSet
	refundFees RefundFeePolicy
	notifier   Notifier
	log        zerolog.Logger
}

// New validates the configuration and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Payments == nil:
		return nil, fmt.Errorf("payments: missing payment store")
	case cfg.Locks == nil:
		return nil, fmt.Errorf("payments: missing locker")
	case cfg.Accounts == nil:
		return nil, fmt.Errorf("payments: missing account manager")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("payments: missing ledger engine")
	case cfg.Rules.Version == "":
		return nil, fmt.Errorf("payments: fee rule set has no version")
	case !cfg.RefundFees.Valid():
		return nil, fmt.Errorf("payments: refund fee policy must be %q or %q, got %q",
			RefundFeeRetain, RefundFeeReturn, cfg.RefundFees)
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Orchestrator{
		payments:   cfg.Payments,
		locks:      cfg.Locks,
		accounts:   cfg.Accounts,
		engine:     cfg.Engine,
		calc:       fees.NewCalculator(),
		rules:      cfg.Rules,
		refundFees: cfg.RefundFees,
		notifier:   notifier,
		log:        cfg.Logger,
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) PaymentCaptured(Payment)       {}
func (nopNotifier) PaymentFailed(Payment, string) {}
func (nopNotifier) PaymentRefunded(Payment)       {}

// =============================================================================
// INITIATE
// =============================================================================

type InitiateInput struct {
	OrderID        string
	Method         Method
	Amount         decimal.Decimal
	PayerAccountID ledger.AccountID
	PayeeAccountID ledger.AccountID

	// Fee scoping context, snapshotted into the quote.
	CategoryID string
	SellerID   string
}

// Initiate creates an INITIATED payment with its fee snapshot. The quote is
// computed here, once, from the current rule set; capture never re-quotes.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (*Payment, error) {
	switch {
	case in.OrderID == "":
		return nil, &ledger.EntryValidationError{Index: -1, Reason: "missing order id"}
	case !in.Method.Valid():
		return nil, &ledger.EntryValidationError{Index: -1, Reason: fmt.Sprintf("unknown payment method %q", in.Method)}
	case !in.Amount.IsPositive():
		return nil, &ledger.EntryValidationError{Index: -1, Reason: "payment amount must be positive"}
	case in.PayerAccountID == in.PayeeAccountID:
		return nil, &ledger.EntryValidationError{Index: -1, Reason: "payer and payee must differ"}
	}

	if existing, err := o.payments.GetPaymentByOrder(ctx, in.OrderID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: order %s has payment %s", ErrOrderAlreadyPaid, in.OrderID, existing.ID)
	}

	// Both parties must exist before we promise a payment against them.
	if _, err := o.accounts.ResolveAccount(ctx, in.PayerAccountID); err != nil {
		return nil, fmt.Errorf("payer: %w", err)
	}
	if _, err := o.accounts.ResolveAccount(ctx, in.PayeeAccountID); err != nil {
		return nil, fmt.Errorf("payee: %w", err)
	}

	quote, err := o.calc.Calculate(o.rules, fees.Input{
		OrderAmount: in.Amount,
		CategoryID:  in.CategoryID,
		SellerID:    in.SellerID,
	})
	if err != nil {
		return nil, fmt.Errorf("fee quote: %w", err)
	}
	if quote.Amount.GreaterThanOrEqual(in.Amount) {
		return nil, &ledger.EntryValidationError{
			Index:  -1,
			Reason: fmt.Sprintf("fee %s consumes the whole payment %s", quote.Amount, in.Amount),
		}
	}

	id := NewPaymentID()
	p := Payment{
		ID:             id,
		OrderID:        in.OrderID,
		Method:         in.Method,
		Amount:         in.Amount,
		PayerAccountID: in.PayerAccountID,
		PayeeAccountID: in.PayeeAccountID,
		FeeAmount:      quote.Amount,
		FeePercent:     quote.Percent,
		FeeRule:        quote.RuleApplied,
		State:          StateInitiated,
		IdempotencyKey: CaptureKey(id),
		InitiatedAt:    time.Now().UTC(),
	}

	if err := o.payments.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("payment_id", string(p.ID)).
		Str("order_id", p.OrderID).
		Str("method", string(p.Method)).
		Str("amount", p.Amount.String()).
		Str("fee", p.FeeAmount.String()).
		Str("fee_rule", p.FeeRule).
		Msg("payment initiated")
	return &p, nil
}

// =============================================================================
// AUTHORIZE
// =============================================================================

// Authorize attaches gateway authorization metadata to an INITIATED payment.
// It moves no money and is only valid for gateway-backed methods.
func (o *Orchestrator) Authorize(ctx context.Context, id PaymentID, gatewayReference string) (*Payment, error) {
	if gatewayReference == "" {
		return nil, &ledger.EntryValidationError{Index: -1, Reason: "missing gateway reference"}
	}

	var result *Payment
	err := o.locks.WithLock(ctx, id, func() error {
		p, err := o.payments.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if !p.Method.UsesGateway() {
			return fmt.Errorf("%w: %s", ErrNotGatewayMethod, p.Method)
		}
		if p.State != StateInitiated {
			return &StateError{PaymentID: id, State: p.State, Attempted: "authorize"}
		}

		now := time.Now().UTC()
		p.GatewayReference = gatewayReference
		p.AuthorizedAt = &now
		if err := o.payments.SavePayment(ctx, *p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Info().Str("payment_id", string(id)).Str("gateway_ref", gatewayReference).Msg("payment authorized")
	return result, nil
}

// =============================================================================
// CAPTURE
// =============================================================================

type CaptureInput struct {
	PaymentID PaymentID

	// Delivery confirmation, required for cash on delivery.
	ConfirmedBy string
	ConfirmedAt *time.Time

	// Gateway settlement reference for card/wallet methods.
	GatewayTransactionID string
}

// Capture moves the money: it records the balanced entry set against the
// payment's fee snapshot and transitions the payment to CAPTURED.
//
// Idempotent: capturing an already CAPTURED payment returns it unchanged.
// Capturing a CANCELLED or REFUNDED payment is a state conflict.
func (o *Orchestrator) Capture(ctx context.Context, in CaptureInput) (*Payment, error) {
	var result *Payment
	err := o.locks.WithLock(ctx, in.PaymentID, func() error {
		p, err := o.payments.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}

		switch p.State {
		case StateCaptured:
			result = p
			return nil
		case StateCancelled, StateRefunded:
			return &StateError{PaymentID: p.ID, State: p.State, Attempted: "capture"}
		}

		payer, err := o.accounts.ResolveAccount(ctx, p.PayerAccountID)
		if err != nil {
			return fmt.Errorf("payer: %w", err)
		}
		payee, err := o.accounts.ResolveAccount(ctx, p.PayeeAccountID)
		if err != nil {
			return fmt.Errorf("payee: %w", err)
		}
		if !payee.CanCredit() {
			return &ledger.StatusError{AccountID: payee.ID, Status: payee.Status, Operation: "credit"}
		}

		if p.Method == MethodCashOnDelivery {
			// Cash changed hands physically; the ledger records the settlement.
			// No wallet balance backs a cash payment, so there is no funds
			// check, but the status gate still holds: no debit entry may be
			// written against a frozen, suspended, or closed payer.
			if !payer.CanDebit() {
				return &ledger.StatusError{AccountID: payer.ID, Status: payer.Status, Operation: "debit"}
			}
			// The confirmation must name who received the goods and when.
			if in.ConfirmedBy == "" || in.ConfirmedAt == nil {
				return ErrMissingConfirmation
			}
		} else {
			// Early rejection outside the write transaction. The authoritative
			// check is the Guard below, which re-runs atomically with the debit.
			if err := ledger.RequireFunds(ctx, o.engine.Store, payer, p.Amount); err != nil {
				return err
			}
		}

		var platformID ledger.AccountID
		if p.FeeAmount.IsPositive() {
			if platformID, err = o.platformAccountID(ctx); err != nil {
				return err
			}
		}

		req := ledger.RecordRequest{
			Entries:        captureEntries(p, platformID),
			GroupID:        ledger.NewGroupID(),
			IdempotencyKey: p.IdempotencyKey,
		}
		if p.Method.UsesGateway() {
			req.Guard = func(ctx context.Context, s ledger.EntryStore) error {
				return ledger.RequireFunds(ctx, s, payer, p.Amount)
			}
		}

		res, err := o.engine.Record(ctx, req)
		if err != nil {
			return err
		}
		if res.Status == ledger.RecordAlreadyExists {
			// A previous capture wrote the entries but died before the state
			// update. Finish the state update now.
			o.log.Warn().Str("payment_id", string(p.ID)).Msg("capture entries already recorded, completing state update")
		}

		now := time.Now().UTC()
		p.State = StateCaptured
		p.CapturedAt = &now
		p.ConfirmedBy = in.ConfirmedBy
		p.ConfirmedAt = in.ConfirmedAt
		p.GatewayTransactionID = in.GatewayTransactionID
		if err := o.payments.SavePayment(ctx, *p); err != nil {
			return err
		}
		result = p

		o.log.Info().
			Str("payment_id", string(p.ID)).
			Str("order_id", p.OrderID).
			Str("amount", p.Amount.String()).
			Str("fee", p.FeeAmount.String()).
			Msg("payment captured")
		o.notifier.PaymentCaptured(*p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// captureEntries builds the balanced entry set for a capture: the payer pays
// the full amount, the payee receives it net of the fee, and the platform
// account receives the fee. The fee entry is omitted when the fee is zero.
func captureEntries(p *Payment, platformID ledger.AccountID) []ledger.EntryInput {
	desc := fmt.Sprintf("capture of payment %s for order %s", p.ID, p.OrderID)

	entries := []ledger.EntryInput{
		{
			AccountID:   p.PayerAccountID,
			Amount:      p.Amount.Neg(),
			Kind:        ledger.KindPaymentDebit,
			Description: desc,
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
		},
		{
			AccountID:   p.PayeeAccountID,
			Amount:      p.Amount.Sub(p.FeeAmount),
			Kind:        ledger.KindPaymentCredit,
			Description: desc,
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
		},
	}
	if p.FeeAmount.IsPositive() {
		entries = append(entries, ledger.EntryInput{
			AccountID:   platformID,
			Amount:      p.FeeAmount,
			Kind:        ledger.KindPlatformFee,
			Description: fmt.Sprintf("platform fee for payment %s (rule %s)", p.ID, p.FeeRule),
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
		})
	}
	return entries
}

// platformAccountID resolves the platform fee account bootstrapped at
// startup. A missing platform account is a deployment fault, not a caller
// mistake.
func (o *Orchestrator) platformAccountID(ctx context.Context) (ledger.AccountID, error) {
	account, err := o.accounts.Accounts.GetAccountByCode(ctx, ledger.PlatformFeeAccountCode)
	if err != nil {
		return "", fmt.Errorf("resolve platform fee account: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("platform fee account %q is not provisioned", ledger.PlatformFeeAccountCode)
	}
	return account.ID, nil
}

// =============================================================================
// CANCEL / FAIL
// =============================================================================

// Cancel voids an INITIATED payment before any money has moved. Cancelling
// an already CANCELLED payment is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id PaymentID, reason string) (*Payment, error) {
	var result *Payment
	err := o.locks.WithLock(ctx, id, func() error {
		p, err := o.payments.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.State == StateCancelled {
			result = p
			return nil
		}
		if p.State != StateInitiated {
			return &StateError{PaymentID: id, State: p.State, Attempted: "cancel"}
		}

		now := time.Now().UTC()
		p.State = StateCancelled
		p.CancelledAt = &now
		p.FailureReason = reason
		if err := o.payments.SavePayment(ctx, *p); err != nil {
			return err
		}
		result = p

		o.log.Info().Str("payment_id", string(id)).Str("reason", reason).Msg("payment cancelled")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Fail marks an INITIATED payment as failed after a gateway rejection. It is
// a cancel that records the failure reason and notifies listeners.
func (o *Orchestrator) Fail(ctx context.Context, id PaymentID, reason string) (*Payment, error) {
	var result *Payment
	err := o.locks.WithLock(ctx, id, func() error {
		p, err := o.payments.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.State == StateCancelled {
			result = p
			return nil
		}
		if p.State != StateInitiated {
			return &StateError{PaymentID: id, State: p.State, Attempted: "fail"}
		}

		now := time.Now().UTC()
		p.State = StateCancelled
		p.CancelledAt = &now
		p.FailedAt = &now
		p.FailureReason = reason
		if err := o.payments.SavePayment(ctx, *p); err != nil {
			return err
		}
		result = p

		o.log.Warn().Str("payment_id", string(id)).Str("reason", reason).Msg("payment failed")
		o.notifier.PaymentFailed(*p, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// GetPayment returns a payment by id.
func (o *Orchestrator) GetPayment(ctx context.Context, id PaymentID) (*Payment, error) {
	return o.payments.GetPayment(ctx, id)
}

// GetPaymentByOrder returns the payment for an order, or ErrPaymentNotFound.
func (o *Orchestrator) GetPaymentByOrder(ctx context.Context, orderID string) (*Payment, error) {
	p, err := o.payments.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
	}
	return p, nil
}

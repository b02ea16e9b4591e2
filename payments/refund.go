/*
refund.go - Full refund of a captured payment

PURPOSE:
  Reverses a capture with a fresh balanced entry set. The original capture
  entries are never edited or deleted: the refund appends compensating
  entries under its own deterministic idempotency key.

FEE POLICY:
  What happens to the platform fee is an explicit configuration choice,
  never an implicit default:

    retain  the platform keeps its fee; the payer gets back the net amount
            the payee received.
              payer   +(amount - fee)   refund_credit
              payee   -(amount - fee)   refund_debit

    return  the platform gives its fee back; the payer is made whole.
              payer     +amount         refund_credit
              payee   -(amount - fee)   refund_debit
              platform      -fee        refund_debit

  Both entry sets sum to exactly zero.

SEE ALSO:
  - orchestrator.go: The capture this reverses
*/
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian/commerce-ledger/ledger"
)

// =============================================================================
// REFUND FEE POLICY
// =============================================================================

// RefundFeePolicy selects the platform fee treatment on refund.
type RefundFeePolicy string

const (
	// RefundFeeRetain keeps the platform fee; the payer receives the net
	// amount back.
	RefundFeeRetain RefundFeePolicy = "retain"

	// RefundFeeReturn gives the platform fee back; the payer is made whole.
	RefundFeeReturn RefundFeePolicy = "return"
)

// Valid reports whether the policy is one of the known values.
func (p RefundFeePolicy) Valid() bool {
	return p == RefundFeeRetain || p == RefundFeeReturn
}

// =============================================================================
// REFUND
// =============================================================================

type RefundInput struct {
	PaymentID   PaymentID
	Reason      string
	RequestedBy string
}

// Refund reverses a CAPTURED payment in full and transitions it to REFUNDED.
// Refunding an already REFUNDED payment is idempotent; any other state is a
// conflict. The payee's balance may go negative when the received amount has
// already been withdrawn; the ledger records the debt faithfully.
func (o *Orchestrator) Refund(ctx context.Context, in RefundInput) (*Payment, error) {
	if in.Reason == "" {
		return nil, &ledger.EntryValidationError{Index: -1, Reason: "missing refund reason"}
	}

	var result *Payment
	err := o.locks.WithLock(ctx, in.PaymentID, func() error {
		p, err := o.payments.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}

		switch p.State {
		case StateRefunded:
			result = p
			return nil
		case StateInitiated, StateCancelled:
			return &StateError{PaymentID: p.ID, State: p.State, Attempted: "refund"}
		}

		// The payer must still be able to receive money. A frozen payer blocks
		// the refund; a suspended payer does not (credits stay open).
		if err := o.accounts.ValidateCredit(ctx, p.PayerAccountID); err != nil {
			return err
		}

		var platformID ledger.AccountID
		if o.refundFees == RefundFeeReturn && p.FeeAmount.IsPositive() {
			if platformID, err = o.platformAccountID(ctx); err != nil {
				return err
			}
		}

		res, err := o.engine.Record(ctx, ledger.RecordRequest{
			Entries:        refundEntries(p, o.refundFees, platformID, in),
			GroupID:        ledger.NewGroupID(),
			IdempotencyKey: RefundKey(p.ID),
		})
		if err != nil {
			return err
		}
		if res.Status == ledger.RecordAlreadyExists {
			o.log.Warn().Str("payment_id", string(p.ID)).Msg("refund entries already recorded, completing state update")
		}

		now := time.Now().UTC()
		p.State = StateRefunded
		p.RefundedAt = &now
		if err := o.payments.SavePayment(ctx, *p); err != nil {
			return err
		}
		result = p

		o.log.Info().
			Str("payment_id", string(p.ID)).
			Str("order_id", p.OrderID).
			Str("fee_policy", string(o.refundFees)).
			Str("reason", in.Reason).
			Msg("payment refunded")
		o.notifier.PaymentRefunded(*p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refundEntries builds the compensating entry set under the configured fee
// policy. One refund per payment, so the refund id derives from the payment.
func refundEntries(p *Payment, policy RefundFeePolicy, platformID ledger.AccountID, in RefundInput) []ledger.EntryInput {
	refundID := "ref-" + string(p.ID)
	desc := fmt.Sprintf("refund of payment %s for order %s: %s", p.ID, p.OrderID, in.Reason)
	net := p.Amount.Sub(p.FeeAmount)

	payerAmount := net
	if policy == RefundFeeReturn {
		payerAmount = p.Amount
	}

	entries := []ledger.EntryInput{
		{
			AccountID:   p.PayerAccountID,
			Amount:      payerAmount,
			Kind:        ledger.KindRefundCredit,
			Description: desc,
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
			RefundID:    refundID,
			CreatedBy:   in.RequestedBy,
		},
		{
			AccountID:   p.PayeeAccountID,
			Amount:      net.Neg(),
			Kind:        ledger.KindRefundDebit,
			Description: desc,
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
			RefundID:    refundID,
			CreatedBy:   in.RequestedBy,
		},
	}
	if policy == RefundFeeReturn && p.FeeAmount.IsPositive() {
		entries = append(entries, ledger.EntryInput{
			AccountID:   platformID,
			Amount:      p.FeeAmount.Neg(),
			Kind:        ledger.KindRefundDebit,
			Description: fmt.Sprintf("platform fee returned for payment %s", p.ID),
			PaymentID:   string(p.ID),
			OrderID:     p.OrderID,
			RefundID:    refundID,
			CreatedBy:   in.RequestedBy,
		})
	}
	return entries
}

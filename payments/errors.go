/*
errors.go - Payment-level error taxonomy

PURPOSE:
  Lifecycle errors layered on top of the ledger taxonomy. Ledger errors
  (insufficient funds, frozen account, lock not acquired) pass through the
  orchestrator unwrapped so errors.Is against the ledger sentinels keeps
  working; this file only adds the failure classes the ledger cannot know
  about: missing payments, duplicate orders, illegal lifecycle transitions.

SEE ALSO:
  - ledger/errors.go: The taxonomy these errors compose with
*/
package payments

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOrderAlreadyPaid is returned when initiation collides with the
	// one-payment-per-order invariant.
	ErrOrderAlreadyPaid = errors.New("order already has a payment")

	// ErrStateConflict is the common ancestor of lifecycle violations;
	// StateError unwraps to it.
	ErrStateConflict = errors.New("payment state conflict")

	// ErrMissingConfirmation is returned when a cash-on-delivery capture
	// arrives without delivery confirmation.
	ErrMissingConfirmation = errors.New("cash on delivery capture requires delivery confirmation")

	// ErrNotGatewayMethod is returned when authorize is called on a method
	// that has no gateway leg.
	ErrNotGatewayMethod = errors.New("payment method has no gateway authorization step")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StateError reports that the payment's current state forbids the attempted
// operation.
type StateError struct {
	PaymentID PaymentID
	State     State
	Attempted string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("payment %s is %s: cannot %s", e.PaymentID, e.State, e.Attempted)
}

func (e *StateError) Unwrap() error { return ErrStateConflict }

// IsStateConflict reports whether the error is a payment lifecycle conflict.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, ErrOrderAlreadyPaid)
}

/*
errors.go - Centralized error taxonomy for the ledger core

PURPOSE:
  All error kinds in one place so callers can machine-distinguish failure
  classes with errors.Is. Domain packages (payments) wrap these with
  additional context.

TAXONOMY:
  1. Validation errors    - bad shape, non-zero sum; nothing persisted
  2. Not-found errors     - unknown account or group
  3. State-conflict errors - status forbids the operation, insufficient funds
  4. Concurrency-conflict  - lock not acquired promptly; retry with backoff
  5. Internal errors       - storage failure mid-transaction; full rollback,
                             safe to retry with the same idempotency key

USAGE:
  if ledger.IsConcurrencyConflict(err) {
      // retry with backoff
  }

SEE ALSO:
  - engine.go: Produces validation and internal errors
  - account.go: Produces status and insufficient-funds errors
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEntries is returned when an entry group fails shape validation
	// (too few entries, zero amounts, missing fields or references).
	ErrInvalidEntries = errors.New("invalid entries")

	// ErrUnbalancedGroup is returned when the entries of a group do not sum
	// to exactly zero. Nothing is persisted.
	ErrUnbalancedGroup = errors.New("entries do not sum to zero")

	// ErrDuplicateIdempotencyKey is raised by stores when an insert collides
	// with an existing idempotency key. The Engine converts this into an
	// AlreadyExists result rather than surfacing it to callers.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrGroupNotFound is returned when no entries exist for a group.
	ErrGroupNotFound = errors.New("transaction group not found")

	// ErrInvariantBroken is returned when the post-write re-verification of a
	// group fails. It aborts the whole write and should never trigger if the
	// in-memory check is correct.
	ErrInvariantBroken = errors.New("ledger invariant broken")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when account creation collides with the
	// one-account-per-user or unique-code invariant.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientFunds is returned when a debit exceeds available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockNotAcquired is returned when an exclusive lock could not be
	// acquired within the bounded wait. Distinct from state conflicts so
	// callers know to retry with backoff.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrConcurrentModification is returned when a compare-and-set status
	// update loses a race with another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EntryValidationError reports which entry of a record call is malformed.
type EntryValidationError struct {
	Index  int
	Reason string
}

func (e *EntryValidationError) Error() string {
	return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
}

func (e *EntryValidationError) Unwrap() error { return ErrInvalidEntries }

// UnbalancedGroupError reports the non-zero sum of a rejected group.
type UnbalancedGroupError struct {
	GroupID GroupID
	Sum     decimal.Decimal
}

func (e *UnbalancedGroupError) Error() string {
	return fmt.Sprintf("group %s sums to %s, want 0", e.GroupID, e.Sum)
}

func (e *UnbalancedGroupError) Unwrap() error { return ErrUnbalancedGroup }

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s: available %s, required %s",
		e.AccountID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StatusError reports that an account's status forbids an operation.
type StatusError struct {
	AccountID AccountID
	Status    AccountStatus
	Operation string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account %s is %s: %s not permitted", e.AccountID, e.Status, e.Operation)
}

// TransitionError reports an illegal account status transition.
type TransitionError struct {
	AccountID AccountID
	From      AccountStatus
	To        AccountStatus
	Reason    string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("account %s: cannot transition %s -> %s: %s",
			e.AccountID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("account %s: cannot transition %s -> %s", e.AccountID, e.From, e.To)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether the error is a synchronous validation failure:
// nothing persisted, safe to fix and retry immediately.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEntries) || errors.Is(err, ErrUnbalancedGroup)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrGroupNotFound)
}

// IsStateConflict reports whether the error is a business-state conflict the
// caller should inspect before deciding to retry or abandon.
func IsStateConflict(err error) bool {
	var statusErr *StatusError
	var transErr *TransitionError
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountExists) ||
		errors.As(err, &statusErr) ||
		errors.As(err, &transErr)
}

// IsConcurrencyConflict reports whether the error means "try again shortly"
// rather than "this is broken".
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrLockNotAcquired) || errors.Is(err, ErrConcurrentModification)
}

// IsRetryable reports whether retrying the operation (with the same
// idempotency key) might succeed.
func IsRetryable(err error) bool {
	return IsConcurrencyConflict(err)
}

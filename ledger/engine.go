/*
engine.go - The only writer to the ledger store

PURPOSE:
  The Engine validates and atomically records groups of entries, enforces the
  zero-sum invariant per transaction group, and makes retried writes
  idempotent. No other component may write ledger entries.

INVARIANT ENFORCEMENT - TWO LAYERS:
  1. In-memory, before any store mutation: the entry amounts must sum to
     exactly zero (decimal arithmetic, never floating point). A violation is
     a validation error and writes nothing.
  2. Post-write, inside the same transaction: the group is re-read from the
     store and re-verified. A failure here aborts the entire write. It should
     never trigger if layer 1 is correct - it exists as defense-in-depth
     against a buggy caller or storage anomaly.

IDEMPOTENCY - FIRST-CLASS RESULT, NOT AN ERROR:
  Record returns RecordResult{Status: RecordCreated | RecordAlreadyExists}.
  The key is checked before the write, and re-checked when the store raises
  a uniqueness violation: the loser of a concurrent race reads and returns
  the winner's rows instead of erroring.

CHECK-THEN-ACT:
  RecordRequest.Guard runs inside the same transaction as the write, before
  any entry is persisted. Callers use it for preconditions that must hold at
  write time (e.g. sufficient payer balance), so a balance sufficient at
  check-time cannot become insufficient before the debit lands.

SEE ALSO:
  - store.go: TxEntryStore contract
  - account.go: Balance computation used by Guard callbacks
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORD RESULT - Idempotency as a return value
// =============================================================================

type RecordStatus string

const (
	// RecordCreated means new entries were written by this call.
	RecordCreated RecordStatus = "created"

	// RecordAlreadyExists means the idempotency key had been processed
	// before; the previously written entries are returned unchanged.
	RecordAlreadyExists RecordStatus = "already_exists"
)

// RecordResult is the outcome of a Record call.
type RecordResult struct {
	Status  RecordStatus
	Entries []Entry
}

// =============================================================================
// RECORD REQUEST
// =============================================================================

// RecordRequest describes one atomic group of entries to record.
type RecordRequest struct {
	Entries []EntryInput
	GroupID GroupID

	// IdempotencyKey, when non-empty, makes the write replay-safe: a second
	// call with the same key returns the first call's entries.
	IdempotencyKey string

	// Guard, when non-nil, runs inside the write transaction before any entry
	// is persisted. Returning an error aborts the write with nothing stored.
	Guard func(ctx context.Context, s EntryStore) error
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the only component permitted to write ledger entries.
type Engine struct {
	Store TxEntryStore
}

func NewEngine(store TxEntryStore) *Engine {
	return &Engine{Store: store}
}

// Record validates and atomically writes one group of entries.
//
// Failure semantics: validation failures persist nothing. A storage failure
// mid-write rolls back the whole group; the caller may retry with the same
// idempotency key, which is always safe.
func (e *Engine) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Idempotent short-circuit before attempting the write.
	if req.IdempotencyKey != "" {
		existing, err := e.Store.LoadByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency pre-check: %w", err)
		}
		if len(existing) > 0 {
			return &RecordResult{Status: RecordAlreadyExists, Entries: existing}, nil
		}
	}

	entries := materialize(req)

	err := e.Store.WithTx(ctx, func(s EntryStore) error {
		if req.Guard != nil {
			if err := req.Guard(ctx, s); err != nil {
				return err
			}
		}
		if err := s.AppendGroup(ctx, entries); err != nil {
			return err
		}
		// Layer 2: re-read the group inside the same transaction and
		// re-verify the zero-sum invariant before committing.
		written, err := s.LoadByGroup(ctx, req.GroupID)
		if err != nil {
			return fmt.Errorf("post-write verification read: %w", err)
		}
		if sum := SumEntries(written); !sum.IsZero() {
			return fmt.Errorf("%w: group %s re-read sums to %s", ErrInvariantBroken, req.GroupID, sum)
		}
		return nil
	})

	if errors.Is(err, ErrDuplicateIdempotencyKey) && req.IdempotencyKey != "" {
		// Lost a race against a concurrent identical request. Return the
		// winner's rows instead of erroring.
		existing, readErr := e.Store.LoadByIdempotencyKey(ctx, req.IdempotencyKey)
		if readErr != nil {
			return nil, fmt.Errorf("idempotency re-check after conflict: %w", readErr)
		}
		if len(existing) > 0 {
			return &RecordResult{Status: RecordAlreadyExists, Entries: existing}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	return &RecordResult{Status: RecordCreated, Entries: entries}, nil
}

// VerifyGroupInvariant re-checks the zero-sum invariant for a committed
// group. Usable standalone for audits.
func (e *Engine) VerifyGroupInvariant(ctx context.Context, groupID GroupID) error {
	entries, err := e.Store.LoadByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if sum := SumEntries(entries); !sum.IsZero() {
		return &UnbalancedGroupError{GroupID: groupID, Sum: sum}
	}
	return nil
}

// HasBeenProcessed reports whether entries already exist for the given
// idempotency key. Callers use it to short-circuit before attempting a
// duplicate financial operation.
func (e *Engine) HasBeenProcessed(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	entries, err := e.Store.LoadByIdempotencyKey(ctx, key)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// =============================================================================
// VALIDATION (layer 1 - nothing persisted on failure)
// =============================================================================

func validateRequest(req RecordRequest) error {
	if req.GroupID == "" {
		return &EntryValidationError{Index: -1, Reason: "missing transaction group id"}
	}
	if len(req.Entries) < 2 {
		return &EntryValidationError{Index: -1, Reason: "a group needs at least 2 entries"}
	}

	sum := decimal.Zero
	for i, in := range req.Entries {
		switch {
		case in.AccountID == "":
			return &EntryValidationError{Index: i, Reason: "missing account id"}
		case in.Amount.IsZero():
			return &EntryValidationError{Index: i, Reason: "zero amount"}
		case !in.Kind.Valid():
			return &EntryValidationError{Index: i, Reason: fmt.Sprintf("unknown entry kind %q", in.Kind)}
		case in.Description == "":
			return &EntryValidationError{Index: i, Reason: "missing description"}
		case !in.hasReference():
			return &EntryValidationError{Index: i, Reason: "entry references no business entity or actor"}
		}
		sum = sum.Add(in.Amount)
	}

	if !sum.IsZero() {
		return &UnbalancedGroupError{GroupID: req.GroupID, Sum: sum}
	}
	return nil
}

func materialize(req RecordRequest) []Entry {
	now := time.Now().UTC()
	entries := make([]Entry, len(req.Entries))
	for i, in := range req.Entries {
		entries[i] = Entry{
			ID:             NewEntryID(),
			AccountID:      in.AccountID,
			Amount:         in.Amount,
			Kind:           in.Kind,
			GroupID:        req.GroupID,
			Position:       i,
			IdempotencyKey: req.IdempotencyKey,
			Description:    in.Description,
			PaymentID:      in.PaymentID,
			OrderID:        in.OrderID,
			RefundID:       in.RefundID,
			WithdrawalID:   in.WithdrawalID,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      now,
		}
	}
	return entries
}

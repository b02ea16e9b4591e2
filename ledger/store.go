/*
store.go - Persistence interfaces for entries and accounts

PURPOSE:
  Defines the interface between the ledger core and the database. The entry
  store is strictly append-only; accounts are mutable only in their status
  field, and status updates are compare-and-set.

KEY INTERFACES:
  EntryStore:    Append-only entry persistence plus read queries
  TxEntryStore:  EntryStore with atomic multi-step transactions
  AccountStore:  Account records and status CAS
  StatusAuditLog: Append-only record of admin status transitions

APPEND-ONLY CONTRACT:
  The EntryStore interface has no Update() or Delete(). AppendGroup is the
  only write, and it is all-or-nothing: either every entry of the group is
  persisted or none are.

IDEMPOTENCY:
  AppendGroup must reject a group whose idempotency key already exists with
  ErrDuplicateIdempotencyKey, enforced by a uniqueness constraint so that two
  concurrent identical writes cannot both land.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - ledger/store: In-memory store for tests

SEE ALSO:
  - engine.go: The only writer, built on these interfaces
  - account.go: Balance computation and status machine
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY STORE - Append-only
// =============================================================================

// EntryStore persists ledger entries. APPEND-ONLY: no update, no delete.
type EntryStore interface {
	// AppendGroup persists all entries of one group atomically.
	// Fails with ErrDuplicateIdempotencyKey if the group's key already exists.
	// This is the ONLY write operation.
	AppendGroup(ctx context.Context, entries []Entry) error

	// LoadByAccount returns all entries for an account, oldest first.
	LoadByAccount(ctx context.Context, accountID AccountID) ([]Entry, error)

	// LoadByGroup returns all entries of a transaction group, by position.
	LoadByGroup(ctx context.Context, groupID GroupID) ([]Entry, error)

	// LoadByIdempotencyKey returns the entries previously written under the
	// given key, or an empty slice if the key has never been used.
	LoadByIdempotencyKey(ctx context.Context, key string) ([]Entry, error)
}

// TxEntryStore wraps EntryStore with transaction support. Reads issued
// through the store passed to fn observe writes made earlier in the same
// transaction; if fn returns an error everything is rolled back.
type TxEntryStore interface {
	EntryStore

	WithTx(ctx context.Context, fn func(EntryStore) error) error
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountStore persists accounts. Uniqueness of owner references (USER
// accounts) and unique codes (PLATFORM/ESCROW accounts) is enforced by the
// store so that concurrent creates cannot both succeed.
type AccountStore interface {
	// CreateAccount inserts a new account. Fails with ErrAccountExists when
	// the owner reference or unique code is already taken.
	CreateAccount(ctx context.Context, account Account) error

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// GetAccountByOwner looks up a USER account by its owner reference.
	// Returns (nil, nil) when no such account exists.
	GetAccountByOwner(ctx context.Context, ownerRef string) (*Account, error)

	// GetAccountByCode looks up a PLATFORM/ESCROW account by unique code.
	// Returns (nil, nil) when no such account exists.
	GetAccountByCode(ctx context.Context, code string) (*Account, error)

	// UpdateAccountStatus performs a compare-and-set transition. Fails with
	// ErrConcurrentModification when the account is no longer in `from`.
	UpdateAccountStatus(ctx context.Context, id AccountID, from, to AccountStatus) error
}

// =============================================================================
// STATUS AUDIT LOG - Who changed which account status, and why
// =============================================================================

// StatusChange records one admin-driven account status transition.
type StatusChange struct {
	ID        string
	AccountID AccountID
	From      AccountStatus
	To        AccountStatus
	Actor     string
	Reason    string
	CreatedAt time.Time
}

// StatusAuditLog stores status changes. Also append-only.
type StatusAuditLog interface {
	AppendStatusChange(ctx context.Context, change StatusChange) error
	StatusHistory(ctx context.Context, accountID AccountID) ([]StatusChange, error)
}

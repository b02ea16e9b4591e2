/*
account.go - Accounts, status gating, and balance computation

PURPOSE:
  An Account (wallet) is a named holder of a computed balance. There is no
  stored balance field anywhere: the balance of an account is always
  sum(entry.Amount) over its entries, recomputed on every call. The Manager
  owns account lifecycle and gates ledger-affecting operations on account
  status; it never writes ledger entries itself.

STATUS STATE MACHINE:
  ACTIVE <-> FROZEN      admin freeze/unfreeze (all operations blocked)
  ACTIVE <-> SUSPENDED   pending verification (debits blocked, credits allowed)
  ACTIVE  -> CLOSED      terminal, requires exactly zero balance

  Every transition is admin-only and recorded in the status audit log with
  actor and reason. Nothing transitions out of CLOSED.

ACCOUNT KINDS:
  USER      one per user, looked up by owner reference
  PLATFORM  singleton fee-collection account, looked up by unique code
  ESCROW    singleton holding account, looked up by unique code

SEE ALSO:
  - bootstrap.go: Idempotent creation of the platform/escrow singletons
  - engine.go: The writer the Manager gates access to
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
// ACCOUNT - A wallet with computed (never stored) balance
// =============================================================================

type AccountKind string

const (
	KindUser     AccountKind = "user"
	KindPlatform AccountKind = "platform"
	KindEscrow   AccountKind = "escrow"
)

type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusFrozen    AccountStatus = "frozen"
	StatusSuspended AccountStatus = "suspended"
	StatusClosed    AccountStatus = "closed"
)

// DefaultCurrency is applied when account creation doesn't specify one.
const DefaultCurrency = "USD"

type Account struct {
	ID AccountID

	// OwnerReference is set for USER accounts and empty for platform/escrow
	// accounts, which are looked up by UniqueCode instead.
	OwnerReference string
	Kind           AccountKind
	UniqueCode     string

	Status    AccountStatus
	Currency  string
	CreatedAt time.Time
}

// CanDebit reports whether the account's status permits debits.
// FROZEN and CLOSED block all operations; SUSPENDED blocks debits only.
func (a *Account) CanDebit() bool {
	return a.Status == StatusActive
}

// CanCredit reports whether the account's status permits credits.
func (a *Account) CanCredit() bool {
	return a.Status == StatusActive || a.Status == StatusSuspended
}

// =============================================================================
// MANAGER - Account lifecycle, status gating, balance computation
// =============================================================================

type Manager struct {
	Accounts AccountStore
	Entries  EntryStore
	Audit    StatusAuditLog
}

func NewManager(accounts AccountStore, entries EntryStore, audit StatusAuditLog) *Manager {
	return &Manager{Accounts: accounts, Entries: entries, Audit: audit}
}

// GetBalance computes the account's balance by replaying all its entries.
// Returns exact zero for an account with no entries. This is the only
// definition of balance in the system; it is recomputed on every call.
func (m *Manager) GetBalance(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	if _, err := m.Accounts.GetAccount(ctx, id); err != nil {
		return decimal.Zero, err
	}
	return balanceOf(ctx, m.Entries, id)
}

// balanceOf sums entries through an arbitrary EntryStore. Engine Guard
// callbacks use this with the transaction-scoped store so the balance they
// see includes any writes earlier in the same transaction.
func balanceOf(ctx context.Context, s EntryStore, id AccountID) (decimal.Decimal, error) {
	entries, err := s.LoadByAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return SumEntries(entries), nil
}

// ValidateSufficientFunds fails unless the account may be debited by
// required right now: the amount must be positive, the status must permit
// debits, and the live balance must cover the amount.
func (m *Manager) ValidateSufficientFunds(ctx context.Context, id AccountID, required decimal.Decimal) error {
	account, err := m.Accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	return RequireFunds(ctx, m.Entries, account, required)
}

// RequireFunds is the check-then-act half of a gated debit: it validates
// status and balance for an already-loaded account against the given entry
// store. Engine Guard callbacks call it with the transaction-scoped store so
// the balance check and the resulting debit share one atomic transaction.
// It must not touch the AccountStore - the account is resolved beforehand.
func RequireFunds(ctx context.Context, s EntryStore, account *Account, required decimal.Decimal) error {
	if !required.IsPositive() {
		return &EntryValidationError{Index: -1, Reason: "required amount must be positive"}
	}
	if !account.CanDebit() {
		return &StatusError{AccountID: account.ID, Status: account.Status, Operation: "debit"}
	}

	balance, err := balanceOf(ctx, s, account.ID)
	if err != nil {
		return err
	}
	if balance.LessThan(required) {
		return &InsufficientFundsError{AccountID: account.ID, Available: balance, Required: required}
	}
	return nil
}

// ValidateCredit fails if the account's status forbids receiving money.
func (m *Manager) ValidateCredit(ctx context.Context, id AccountID) error {
	account, err := m.Accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if !account.CanCredit() {
		return &StatusError{AccountID: id, Status: account.Status, Operation: "credit"}
	}
	return nil
}

// =============================================================================
// ACCOUNT CREATION
// =============================================================================

type CreateAccountInput struct {
	Kind           AccountKind
	OwnerReference string // required for USER accounts
	UniqueCode     string // required for PLATFORM/ESCROW accounts
	Currency       string // defaults to DefaultCurrency
}

// CreateAccount creates a new account with implicit balance zero.
// The one-account-per-user and unique-code invariants are enforced by the
// store's uniqueness constraints; a creation race surfaces as
// ErrAccountExists for exactly one of the callers.
func (m *Manager) CreateAccount(ctx context.Context, in CreateAccountInput) (*Account, error) {
	switch in.Kind {
	case KindUser:
		if in.OwnerReference == "" {
			return nil, &EntryValidationError{Index: -1, Reason: "user account needs an owner reference"}
		}
	case KindPlatform, KindEscrow:
		if in.UniqueCode == "" {
			return nil, &EntryValidationError{Index: -1, Reason: fmt.Sprintf("%s account needs a unique code", in.Kind)}
		}
	default:
		return nil, &EntryValidationError{Index: -1, Reason: fmt.Sprintf("unknown account kind %q", in.Kind)}
	}

	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	account := Account{
		ID:             NewAccountID(),
		OwnerReference: in.OwnerReference,
		Kind:           in.Kind,
		UniqueCode:     in.UniqueCode,
		Status:         StatusActive,
		Currency:       currency,
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.Accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return &account, nil
}

// =============================================================================
// STATUS TRANSITIONS (admin-only, audited)
// =============================================================================

// Freeze blocks all operations on an ACTIVE account.
func (m *Manager) Freeze(ctx context.Context, id AccountID, actor, reason string) error {
	return m.transition(ctx, id, StatusActive, StatusFrozen, actor, reason, nil)
}

// Unfreeze returns a FROZEN account to ACTIVE.
func (m *Manager) Unfreeze(ctx context.Context, id AccountID, actor, reason string) error {
	return m.transition(ctx, id, StatusFrozen, StatusActive, actor, reason, nil)
}

// Suspend blocks debits on an ACTIVE account pending verification.
func (m *Manager) Suspend(ctx context.Context, id AccountID, actor, reason string) error {
	return m.transition(ctx, id, StatusActive, StatusSuspended, actor, reason, nil)
}

// Reinstate returns a SUSPENDED account to ACTIVE.
func (m *Manager) Reinstate(ctx context.Context, id AccountID, actor, reason string) error {
	return m.transition(ctx, id, StatusSuspended, StatusActive, actor, reason, nil)
}

// Close terminally closes an ACTIVE account. Requires exactly zero balance.
func (m *Manager) Close(ctx context.Context, id AccountID, actor, reason string) error {
	zeroBalance := func(account *Account) error {
		balance, err := balanceOf(ctx, m.Entries, id)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return &TransitionError{
				AccountID: id, From: account.Status, To: StatusClosed,
				Reason: fmt.Sprintf("balance is %s, must be exactly 0", balance),
			}
		}
		return nil
	}
	return m.transition(ctx, id, StatusActive, StatusClosed, actor, reason, zeroBalance)
}

func (m *Manager) transition(ctx context.Context, id AccountID, from, to AccountStatus, actor, reason string, precondition func(*Account) error) error {
	account, err := m.Accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if account.Status == to {
		// Repeating an already-applied transition is a no-op.
		return nil
	}
	if account.Status != from {
		return &TransitionError{AccountID: id, From: account.Status, To: to}
	}
	if precondition != nil {
		if err := precondition(account); err != nil {
			return err
		}
	}

	if err := m.Accounts.UpdateAccountStatus(ctx, id, from, to); err != nil {
		return err
	}

	change := StatusChange{
		ID:        NewStatusChangeID(),
		AccountID: id,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Audit.AppendStatusChange(ctx, change); err != nil {
		return fmt.Errorf("status change applied but audit append failed: %w", err)
	}
	return nil
}

// ResolveAccount returns an account by ID, mapping store misses to the
// not-found taxonomy for callers.
func (m *Manager) ResolveAccount(ctx context.Context, id AccountID) (*Account, error) {
	account, err := m.Accounts.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return nil, err
	}
	return account, nil
}

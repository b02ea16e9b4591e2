/*
bootstrap.go - Idempotent creation of the platform and escrow accounts

PURPOSE:
  The platform's fee-collection account and the escrow account must exist
  before the first payment can be captured. EnsureSystemAccounts runs at
  process startup, in every environment, checking existence by unique code
  before creating - safe to run on every startup with no duplicate-creation
  risk.

RACE SAFETY:
  Two processes starting at once may both see "missing" and both insert.
  The store's unique-code constraint lets exactly one insert win; the loser
  re-reads and carries on.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Unique codes of the system singleton accounts.
const (
	PlatformFeeAccountCode = "platform-fees"
	EscrowAccountCode      = "escrow"
)

// SystemAccounts holds the resolved singletons after bootstrap.
type SystemAccounts struct {
	PlatformFees *Account
	Escrow       *Account
}

// EnsureSystemAccounts idempotently creates the platform fee and escrow
// accounts if they don't exist yet and returns both.
func (m *Manager) EnsureSystemAccounts(ctx context.Context, currency string) (*SystemAccounts, error) {
	platform, err := m.ensureByCode(ctx, KindPlatform, PlatformFeeAccountCode, currency)
	if err != nil {
		return nil, fmt.Errorf("platform fee account: %w", err)
	}
	escrow, err := m.ensureByCode(ctx, KindEscrow, EscrowAccountCode, currency)
	if err != nil {
		return nil, fmt.Errorf("escrow account: %w", err)
	}
	return &SystemAccounts{PlatformFees: platform, Escrow: escrow}, nil
}

func (m *Manager) ensureByCode(ctx context.Context, kind AccountKind, code, currency string) (*Account, error) {
	existing, err := m.Accounts.GetAccountByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	account, err := m.CreateAccount(ctx, CreateAccountInput{
		Kind:       kind,
		UniqueCode: code,
		Currency:   currency,
	})
	if errors.Is(err, ErrAccountExists) {
		// Lost the bootstrap race; another process created it first.
		return m.Accounts.GetAccountByCode(ctx, code)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

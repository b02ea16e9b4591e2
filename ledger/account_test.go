package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestManager(t *testing.T) (*ledger.Manager, *ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewManager(mem, mem, mem), ledger.NewEngine(mem), mem
}

func createUserAccount(t *testing.T, m *ledger.Manager, owner string) *ledger.Account {
	t.Helper()
	account, err := m.CreateAccount(context.Background(), ledger.CreateAccountInput{
		Kind:           ledger.KindUser,
		OwnerReference: owner,
	})
	require.NoError(t, err)
	return account
}

// fund credits the account by recording a balanced adjustment against a
// funding counterparty.
func fund(t *testing.T, engine *ledger.Engine, id ledger.AccountID, amount string) {
	t.Helper()
	_, err := engine.Record(context.Background(), ledger.RecordRequest{
		GroupID: ledger.NewGroupID(),
		Entries: []ledger.EntryInput{
			{
				AccountID:   id,
				Amount:      ledger.MustDecimal(amount),
				Kind:        ledger.KindAdjustmentCredit,
				Description: "test funding",
				CreatedBy:   "test",
			},
			{
				AccountID:   "acct-funding-source",
				Amount:      ledger.MustDecimal(amount).Neg(),
				Kind:        ledger.KindAdjustmentDebit,
				Description: "test funding",
				CreatedBy:   "test",
			},
		},
	})
	require.NoError(t, err)
}

// =============================================================================
// CREATION AND BALANCE
// =============================================================================

func TestCreateAccount_StartsActiveWithZeroBalance(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	assert.Equal(t, ledger.StatusActive, account.Status)
	assert.Equal(t, ledger.DefaultCurrency, account.Currency)

	balance, err := m.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "a fresh account has exactly zero balance")
}

func TestCreateAccount_OnePerUser(t *testing.T) {
	// GIVEN: user-1 already has an account
	// WHEN: Creating a second account for the same owner
	// THEN: Creation fails with ErrAccountExists

	m, _, _ := newTestManager(t)
	ctx := context.Background()

	createUserAccount(t, m, "user-1")
	_, err := m.CreateAccount(ctx, ledger.CreateAccountInput{
		Kind:           ledger.KindUser,
		OwnerReference: "user-1",
	})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestCreateAccount_KindValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, ledger.CreateAccountInput{Kind: ledger.KindUser})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntries, "user account without owner reference")

	_, err = m.CreateAccount(ctx, ledger.CreateAccountInput{Kind: ledger.KindPlatform})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntries, "platform account without unique code")

	_, err = m.CreateAccount(ctx, ledger.CreateAccountInput{Kind: "mystery"})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntries)
}

func TestGetBalance_ReplaysEntries(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	fund(t, engine, account.ID, "250.00")
	fund(t, engine, account.ID, "0.50")

	balance, err := m.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.MustDecimal("250.50")))
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.GetBalance(context.Background(), "acct-ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// FUNDS AND STATUS GATING
// =============================================================================

func TestValidateSufficientFunds(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	fund(t, engine, account.ID, "100.00")

	assert.NoError(t, m.ValidateSufficientFunds(ctx, account.ID, ledger.MustDecimal("100.00")),
		"exactly the balance is sufficient")

	err := m.ValidateSufficientFunds(ctx, account.ID, ledger.MustDecimal("100.01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	var ifErr *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ifErr)
	assert.True(t, ifErr.Available.Equal(ledger.MustDecimal("100.00")))
}

func TestStatusGating_FrozenBlocksEverything(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	fund(t, engine, account.ID, "100.00")
	require.NoError(t, m.Freeze(ctx, account.ID, "admin-1", "fraud review"))

	err := m.ValidateSufficientFunds(ctx, account.ID, ledger.MustDecimal("10.00"))
	var statusErr *ledger.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, ledger.StatusFrozen, statusErr.Status)

	assert.Error(t, m.ValidateCredit(ctx, account.ID), "frozen accounts cannot receive either")
}

func TestStatusGating_SuspendedBlocksDebitsOnly(t *testing.T) {
	// GIVEN: A suspended account with funds
	// WHEN: Validating a debit and a credit
	// THEN: The debit is blocked, the credit is allowed

	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	fund(t, engine, account.ID, "100.00")
	require.NoError(t, m.Suspend(ctx, account.ID, "admin-1", "kyc pending"))

	err := m.ValidateSufficientFunds(ctx, account.ID, ledger.MustDecimal("10.00"))
	var statusErr *ledger.StatusError
	assert.ErrorAs(t, err, &statusErr)

	assert.NoError(t, m.ValidateCredit(ctx, account.ID))
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestTransitions_LegalPaths(t *testing.T) {
	m, _, mem := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")

	require.NoError(t, m.Freeze(ctx, account.ID, "admin-1", "review"))
	require.NoError(t, m.Unfreeze(ctx, account.ID, "admin-1", "cleared"))
	require.NoError(t, m.Suspend(ctx, account.ID, "admin-1", "kyc"))
	require.NoError(t, m.Reinstate(ctx, account.ID, "admin-1", "verified"))
	require.NoError(t, m.Close(ctx, account.ID, "admin-1", "user request"))

	current, err := mem.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, current.Status)

	history, err := m.Audit.StatusHistory(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 5, "every transition is audited")
	assert.Equal(t, "admin-1", history[0].Actor)
	assert.Equal(t, ledger.StatusFrozen, history[0].To)
}

func TestTransitions_IllegalPathsRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	require.NoError(t, m.Freeze(ctx, account.ID, "admin-1", "review"))

	// FROZEN -> SUSPENDED is not a legal edge.
	err := m.Suspend(ctx, account.ID, "admin-1", "kyc")
	var transErr *ledger.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, ledger.StatusFrozen, transErr.From)

	// Nothing leaves CLOSED.
	require.NoError(t, m.Unfreeze(ctx, account.ID, "admin-1", "cleared"))
	require.NoError(t, m.Close(ctx, account.ID, "admin-1", "done"))
	assert.ErrorAs(t, m.Freeze(ctx, account.ID, "admin-1", "again"), &transErr)
}

func TestTransitions_RepeatIsNoOp(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	require.NoError(t, m.Freeze(ctx, account.ID, "admin-1", "review"))
	require.NoError(t, m.Freeze(ctx, account.ID, "admin-1", "review"), "repeating a transition is a no-op")

	history, err := m.Audit.StatusHistory(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the no-op repeat is not audited twice")
}

func TestClose_RequiresExactlyZeroBalance(t *testing.T) {
	m, engine, _ := newTestManager(t)
	ctx := context.Background()

	account := createUserAccount(t, m, "user-1")
	fund(t, engine, account.ID, "0.01")

	err := m.Close(ctx, account.ID, "admin-1", "user request")
	var transErr *ledger.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Contains(t, transErr.Reason, "0.01")
}

// =============================================================================
// SYSTEM ACCOUNT BOOTSTRAP
// =============================================================================

func TestEnsureSystemAccounts_Idempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.EnsureSystemAccounts(ctx, "USD")
	require.NoError(t, err)
	require.NotNil(t, first.PlatformFees)
	require.NotNil(t, first.Escrow)
	assert.Equal(t, ledger.KindPlatform, first.PlatformFees.Kind)

	second, err := m.EnsureSystemAccounts(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, first.PlatformFees.ID, second.PlatformFees.ID, "bootstrap never duplicates")
	assert.Equal(t, first.Escrow.ID, second.Escrow.ID)
}

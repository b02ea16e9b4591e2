package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
	"github.com/meridian/commerce-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(account ledger.AccountID, amount string, group ledger.GroupID, position int, key string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.NewEntryID(),
		AccountID:      account,
		Amount:         ledger.MustDecimal(amount),
		Kind:           ledger.KindPaymentDebit,
		GroupID:        group,
		Position:       position,
		IdempotencyKey: key,
		Description:    "test entry",
		PaymentID:      "pay-test",
		CreatedAt:      time.Now().UTC(),
	}
}

func testPayment(id payments.PaymentID, orderID string) payments.Payment {
	return payments.Payment{
		ID:             id,
		OrderID:        orderID,
		Method:         payments.MethodWalletCheckout,
		Amount:         ledger.MustDecimal("100.00"),
		PayerAccountID: "acct-payer",
		PayeeAccountID: "acct-payee",
		FeeAmount:      ledger.MustDecimal("2.50"),
		FeePercent:     ledger.MustDecimal("2.5"),
		FeeRule:        "default",
		State:          payments.StateInitiated,
		IdempotencyKey: payments.CaptureKey(id),
		InitiatedAt:    time.Now().UTC(),
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestEntries_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group := ledger.NewGroupID()
	entries := []ledger.Entry{
		testEntry("acct-a", "-100.00", group, 0, "key-1"),
		testEntry("acct-b", "100.00", group, 1, "key-1"),
	}
	require.NoError(t, s.AppendGroup(ctx, entries))

	byAccount, err := s.LoadByAccount(ctx, "acct-a")
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.True(t, byAccount[0].Amount.Equal(ledger.MustDecimal("-100.00")),
		"amounts survive the TEXT round trip exactly")
	assert.Equal(t, "key-1", byAccount[0].IdempotencyKey)

	byGroup, err := s.LoadByGroup(ctx, group)
	require.NoError(t, err)
	require.Len(t, byGroup, 2)
	assert.Equal(t, 0, byGroup[0].Position)
	assert.Equal(t, 1, byGroup[1].Position)

	byKey, err := s.LoadByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Len(t, byKey, 2)
}

func TestEntries_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: A group committed under key-1
	// WHEN: A different group reuses key-1
	// THEN: The unique index rejects it at position 0

	s := newTestStore(t)
	ctx := context.Background()

	first := ledger.NewGroupID()
	require.NoError(t, s.AppendGroup(ctx, []ledger.Entry{
		testEntry("acct-a", "-50.00", first, 0, "key-1"),
		testEntry("acct-b", "50.00", first, 1, "key-1"),
	}))

	second := ledger.NewGroupID()
	err := s.AppendGroup(ctx, []ledger.Entry{
		testEntry("acct-a", "-50.00", second, 0, "key-1"),
		testEntry("acct-b", "50.00", second, 1, "key-1"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
}

func TestEntries_KeylessGroupsNeverCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		group := ledger.NewGroupID()
		require.NoError(t, s.AppendGroup(ctx, []ledger.Entry{
			testEntry("acct-a", "-10.00", group, 0, ""),
			testEntry("acct-b", "10.00", group, 1, ""),
		}), "the partial index ignores NULL keys")
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_ErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("guard rejected")
	group := ledger.NewGroupID()
	err := s.WithTx(ctx, func(tx ledger.EntryStore) error {
		if err := tx.AppendGroup(ctx, []ledger.Entry{
			testEntry("acct-a", "-25.00", group, 0, ""),
			testEntry("acct-b", "25.00", group, 1, ""),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := s.LoadByGroup(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing survives a rolled-back transaction")
}

func TestWithTx_ReadsSeeOwnWrites(t *testing.T) {
	// The store handed to fn reads through the transaction, so a verify step
	// after AppendGroup observes the uncommitted rows.

	s := newTestStore(t)
	ctx := context.Background()

	group := ledger.NewGroupID()
	var seen int
	err := s.WithTx(ctx, func(tx ledger.EntryStore) error {
		if err := tx.AppendGroup(ctx, []ledger.Entry{
			testEntry("acct-a", "-25.00", group, 0, ""),
			testEntry("acct-b", "25.00", group, 1, ""),
		}); err != nil {
			return err
		}
		entries, err := tx.LoadByGroup(ctx, group)
		if err != nil {
			return err
		}
		seen = len(entries)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func testAccount(owner string) ledger.Account {
	return ledger.Account{
		ID:             ledger.NewAccountID(),
		OwnerReference: owner,
		Kind:           ledger.KindUser,
		Status:         ledger.StatusActive,
		Currency:       ledger.DefaultCurrency,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAccounts_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := testAccount("user-1")
	require.NoError(t, s.CreateAccount(ctx, account))

	got, err := s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, ledger.StatusActive, got.Status)

	byOwner, err := s.GetAccountByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, byOwner)
	assert.Equal(t, account.ID, byOwner.ID)

	missing, err := s.GetAccountByOwner(ctx, "user-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing, "owner miss is (nil, nil), not an error")

	_, err = s.GetAccount(ctx, "acct-ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAccounts_DuplicateOwnerRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, testAccount("user-1")))
	err := s.CreateAccount(ctx, testAccount("user-1"))
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestAccounts_StatusCompareAndSet(t *testing.T) {
	// GIVEN: An ACTIVE account
	// WHEN: Two transitions race, both expecting ACTIVE
	// THEN: The first wins; the second affects zero rows and conflicts

	s := newTestStore(t)
	ctx := context.Background()

	account := testAccount("user-1")
	require.NoError(t, s.CreateAccount(ctx, account))

	require.NoError(t, s.UpdateAccountStatus(ctx, account.ID, ledger.StatusActive, ledger.StatusFrozen))

	err := s.UpdateAccountStatus(ctx, account.ID, ledger.StatusActive, ledger.StatusSuspended)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = s.UpdateAccountStatus(ctx, "acct-ghost", ledger.StatusActive, ledger.StatusFrozen)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStatusLog_OrderedHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, to := range []ledger.AccountStatus{ledger.StatusFrozen, ledger.StatusActive} {
		require.NoError(t, s.AppendStatusChange(ctx, ledger.StatusChange{
			ID:        ledger.NewStatusChangeID(),
			AccountID: "acct-1",
			From:      ledger.StatusActive,
			To:        to,
			Actor:     "admin-1",
			Reason:    "test",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := s.StatusHistory(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.StatusFrozen, history[0].To)
	assert.Equal(t, ledger.StatusActive, history[1].To)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := payments.NewPaymentID()
	require.NoError(t, s.CreatePayment(ctx, testPayment(id, "ord-1")))

	got, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payments.StateInitiated, got.State)
	assert.True(t, got.Amount.Equal(ledger.MustDecimal("100.00")))
	assert.True(t, got.FeeAmount.Equal(ledger.MustDecimal("2.50")))
	assert.Nil(t, got.CapturedAt)

	byOrder, err := s.GetPaymentByOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	assert.Equal(t, id, byOrder.ID)

	missing, err := s.GetPaymentByOrder(ctx, "ord-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.GetPayment(ctx, "pay-ghost")
	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
}

func TestPayments_OnePerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePayment(ctx, testPayment(payments.NewPaymentID(), "ord-1")))
	err := s.CreatePayment(ctx, testPayment(payments.NewPaymentID(), "ord-1"))
	assert.ErrorIs(t, err, payments.ErrOrderAlreadyPaid)
}

func TestPayments_SaveLifecycleFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := payments.NewPaymentID()
	p := testPayment(id, "ord-1")
	require.NoError(t, s.CreatePayment(ctx, p))

	now := time.Now().UTC().Truncate(time.Millisecond)
	p.State = payments.StateCaptured
	p.CapturedAt = &now
	p.ConfirmedBy = "courier-7"
	p.ConfirmedAt = &now
	require.NoError(t, s.SavePayment(ctx, p))

	got, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payments.StateCaptured, got.State)
	require.NotNil(t, got.CapturedAt)
	assert.True(t, got.CapturedAt.Equal(now))
	assert.Equal(t, "courier-7", got.ConfirmedBy)

	err = s.SavePayment(ctx, testPayment("pay-ghost", "ord-ghost"))
	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
}

// =============================================================================
// LOCKS
// =============================================================================

func TestWithLock_BoundedWait(t *testing.T) {
	s := newTestStore(t)
	s.SetLockWait(50 * time.Millisecond)
	ctx := context.Background()

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = s.WithLock(ctx, "pay-1", func() error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	err := s.WithLock(ctx, "pay-1", func() error { return nil })
	assert.ErrorIs(t, err, ledger.ErrLockNotAcquired)

	// A different payment's lock is unaffected.
	assert.NoError(t, s.WithLock(ctx, "pay-2", func() error { return nil }))
}

func TestWithLock_ReleasedAfterError(t *testing.T) {
	s := newTestStore(t)
	s.SetLockWait(50 * time.Millisecond)
	ctx := context.Background()

	boom := errors.New("fn failed")
	assert.ErrorIs(t, s.WithLock(ctx, "pay-1", func() error { return boom }), boom)
	assert.NoError(t, s.WithLock(ctx, "pay-1", func() error { return nil }),
		"the lock is released even when fn fails")
}

// =============================================================================
// UTILITIES
// =============================================================================

func TestRecentGroups_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	var want []ledger.GroupID
	for i := 0; i < 3; i++ {
		group := ledger.NewGroupID()
		entries := []ledger.Entry{
			testEntry("acct-a", "-10.00", group, 0, ""),
			testEntry("acct-b", "10.00", group, 1, ""),
		}
		for j := range entries {
			entries[j].CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
		require.NoError(t, s.AppendGroup(ctx, entries))
		want = append([]ledger.GroupID{group}, want...)
	}

	groups, err := s.RecentGroups(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, want, groups)

	groups, err = s.RecentGroups(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, want[:2], groups)
}

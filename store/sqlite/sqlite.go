/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.TxEntryStore:   Append-only entry persistence with transactions
  ledger.AccountStore:   Account records with compare-and-set status updates
  ledger.StatusAuditLog: Append-only status transition log
  payments.PaymentStore: Payment lifecycle records
  payments.Locker:       Exclusive per-payment locks with bounded wait

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch the entries table. AppendGroup is
  the only write, issued row by row inside one database transaction.

AMOUNTS:
  Stored as TEXT holding exact decimal strings, and always summed in Go with
  decimal arithmetic. SQL SUM() over these columns would coerce to float and
  must never be used.

KEY CONSTRAINTS:
  idx_entries_idempotency: UNIQUE(idempotency_key, position). Entries of one
    group share a key but differ by position; a second group reusing the key
    collides at position 0. This is what makes concurrent duplicate writes
    lose cleanly.
  idx_accounts_owner / idx_accounts_code: partial UNIQUE indexes backing the
    one-account-per-user and unique-code invariants.
  payments.order_id UNIQUE: one payment per order.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
)

// DefaultLockWait bounds how long WithLock waits for a contended payment
// lock before giving up with ledger.ErrLockNotAcquired.
const DefaultLockWait = 3 * time.Second

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Per-payment exclusive locks. SQLite has no FOR UPDATE; the same
	// bounded-wait semantics are provided in-process.
	lockWait time.Duration
	locksMu  sync.Mutex
	locks    map[payments.PaymentID]chan struct{}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		lockWait: DefaultLockWait,
		locks:    make(map[payments.PaymentID]chan struct{}),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// SetLockWait overrides the bounded wait for payment locks. Tests use short
// waits; production keeps the default.
func (s *Store) SetLockWait(d time.Duration) {
	s.lockWait = d
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only double-entry ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		group_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		idempotency_key TEXT,
		description TEXT NOT NULL,
		payment_id TEXT,
		order_id TEXT,
		refund_id TEXT,
		withdrawal_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance computation (hot path): all entries of one account, in order
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, created_at);

	-- Group reads, ordered by position within the group
	CREATE INDEX IF NOT EXISTS idx_entries_group
		ON entries(group_id, position);

	-- CRITICAL: idempotency. All entries of a group share one key and differ
	-- by position; a second group reusing the key collides at position 0.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(idempotency_key, position)
		WHERE idempotency_key IS NOT NULL;

	-- Business-reference lookups
	CREATE INDEX IF NOT EXISTS idx_entries_payment
		ON entries(payment_id) WHERE payment_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_order
		ON entries(order_id) WHERE order_id IS NOT NULL;

	-- Accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_reference TEXT,
		kind TEXT NOT NULL,
		unique_code TEXT,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- One account per user; one account per platform/escrow code
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_reference) WHERE owner_reference IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_code
		ON accounts(unique_code) WHERE unique_code IS NOT NULL;

	-- Status audit log (append-only)
	CREATE TABLE IF NOT EXISTS account_status_log (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_log_account
		ON account_status_log(account_id, created_at);

	-- Payments (lifecycle records; one per order)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		payer_account_id TEXT NOT NULL,
		payee_account_id TEXT NOT NULL,
		fee_amount TEXT NOT NULL,
		fee_percent TEXT NOT NULL,
		fee_rule TEXT NOT NULL,
		state TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		gateway_reference TEXT,
		gateway_transaction_id TEXT,
		confirmed_by TEXT,
		confirmed_at TEXT,
		failure_reason TEXT,
		initiated_at TEXT NOT NULL,
		authorized_at TEXT,
		captured_at TEXT,
		cancelled_at TEXT,
		failed_at TEXT,
		refunded_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_state
		ON payments(state);
	CREATE INDEX IF NOT EXISTS idx_payments_payer
		ON payments(payer_account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so the same read/write
// helpers serve plain calls and transactional calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore interface)
// =============================================================================

const entryColumns = `id, account_id, amount, kind, group_id, position, idempotency_key,
	description, payment_id, order_id, refund_id, withdrawal_id, created_by, created_at`

// AppendGroup persists all entries of one group atomically.
func (s *Store) AppendGroup(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendEntries(ctx, sqlTx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendEntries(ctx context.Context, q querier, entries []ledger.Entry) error {
	query := `
		INSERT INTO entries
		(` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, e := range entries {
		_, err := q.ExecContext(ctx, query,
			e.ID,
			e.AccountID,
			e.Amount.String(),
			e.Kind,
			e.GroupID,
			e.Position,
			nullString(e.IdempotencyKey),
			e.Description,
			nullString(e.PaymentID),
			nullString(e.OrderID),
			nullString(e.RefundID),
			nullString(e.WithdrawalID),
			nullString(e.CreatedBy),
			e.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// LoadByAccount returns all entries for an account, oldest first.
func (s *Store) LoadByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadByAccount(ctx, s.db, accountID)
}

func loadByAccount(ctx context.Context, q querier, accountID ledger.AccountID) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE account_id = ?
		ORDER BY created_at ASC, position ASC
	`
	return queryEntries(ctx, q, query, accountID)
}

// LoadByGroup returns all entries of a transaction group, by position.
func (s *Store) LoadByGroup(ctx context.Context, groupID ledger.GroupID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadByGroup(ctx, s.db, groupID)
}

func loadByGroup(ctx context.Context, q querier, groupID ledger.GroupID) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE group_id = ?
		ORDER BY position ASC
	`
	return queryEntries(ctx, q, query, groupID)
}

// LoadByIdempotencyKey returns the entries written under a key, if any.
func (s *Store) LoadByIdempotencyKey(ctx context.Context, key string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadByIdempotencyKey(ctx, s.db, key)
}

func loadByIdempotencyKey(ctx context.Context, q querier, key string) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE idempotency_key = ?
		ORDER BY position ASC
	`
	return queryEntries(ctx, q, query, key)
}

// RecentGroups returns the most recently written group IDs, newest first.
func (s *Store) RecentGroups(ctx context.Context, limit int) ([]ledger.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT group_id
		FROM entries
		GROUP BY group_id
		ORDER BY MAX(created_at) DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent groups: %w", err)
	}
	defer rows.Close()

	var groups []ledger.GroupID
	for rows.Next() {
		var id ledger.GroupID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		amount         string
		idempotencyKey sql.NullString
		paymentID      sql.NullString
		orderID        sql.NullString
		refundID       sql.NullString
		withdrawalID   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.AccountID, &amount, &e.Kind, &e.GroupID, &e.Position,
		&idempotencyKey, &e.Description, &paymentID, &orderID, &refundID,
		&withdrawalID, &createdBy, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	// A corrupt amount must fail loudly; a wrong balance is worse than an
	// error.
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("entry %s has invalid amount %q: %w", e.ID, amount, err)
	}

	e.IdempotencyKey = idempotencyKey.String
	e.PaymentID = paymentID.String
	e.OrderID = orderID.String
	e.RefundID = refundID.String
	e.WithdrawalID = withdrawalID.String
	e.CreatedBy = createdBy.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxEntryStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store passed
// to fn reads and writes through the transaction, so reads observe writes
// made earlier in the same fn.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.EntryStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendGroup(ctx context.Context, entries []ledger.Entry) error {
	return appendEntries(ctx, ts.tx, entries)
}

func (ts *txStore) LoadByAccount(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	return loadByAccount(ctx, ts.tx, accountID)
}

func (ts *txStore) LoadByGroup(ctx context.Context, groupID ledger.GroupID) ([]ledger.Entry, error) {
	return loadByGroup(ctx, ts.tx, groupID)
}

func (ts *txStore) LoadByIdempotencyKey(ctx context.Context, key string) ([]ledger.Entry, error) {
	return loadByIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

// CreateAccount inserts a new account. A uniqueness collision on the owner
// reference or unique code maps to ledger.ErrAccountExists.
func (s *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, owner_reference, kind, unique_code, status, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		nullString(account.OwnerReference),
		account.Kind,
		nullString(account.UniqueCode),
		account.Status,
		account.Currency,
		account.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, owner_reference, kind, unique_code, status, currency, created_at`

// GetAccount returns the account or ledger.ErrAccountNotFound.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, err := s.queryAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return account, nil
}

// GetAccountByOwner looks up a USER account. Returns (nil, nil) on a miss.
func (s *Store) GetAccountByOwner(ctx context.Context, ownerRef string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE owner_reference = ?", ownerRef)
}

// GetAccountByCode looks up a PLATFORM/ESCROW account. Returns (nil, nil) on
// a miss.
func (s *Store) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE unique_code = ?", code)
}

func (s *Store) queryAccount(ctx context.Context, query string, args ...any) (*ledger.Account, error) {
	var (
		account   ledger.Account
		ownerRef  sql.NullString
		code      sql.NullString
		createdAt string
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&account.ID, &ownerRef, &account.Kind, &code,
		&account.Status, &account.Currency, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}

	account.OwnerReference = ownerRef.String
	account.UniqueCode = code.String
	account.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &account, nil
}

// UpdateAccountStatus performs a compare-and-set transition: the UPDATE only
// matches when the account is still in `from`, so a lost race affects zero
// rows and surfaces as ledger.ErrConcurrentModification.
func (s *Store) UpdateAccountStatus(ctx context.Context, id ledger.AccountID, from, to ledger.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET status = ? WHERE id = ? AND status = ?",
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the account is gone or its status moved under us.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE id = ?", id,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrAccountNotFound
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// STATUS AUDIT LOG (ledger.StatusAuditLog interface)
// =============================================================================

// AppendStatusChange records one admin status transition.
func (s *Store) AppendStatusChange(ctx context.Context, change ledger.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO account_status_log (id, account_id, from_status, to_status, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		change.ID, change.AccountID, change.From, change.To,
		change.Actor, change.Reason,
		change.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append status change: %w", err)
	}
	return nil
}

// StatusHistory returns an account's status transitions, oldest first.
func (s *Store) StatusHistory(ctx context.Context, accountID ledger.AccountID) ([]ledger.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, from_status, to_status, actor, reason, created_at
		FROM account_status_log
		WHERE account_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []ledger.StatusChange
	for rows.Next() {
		var (
			change    ledger.StatusChange
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&change.ID, &change.AccountID, &change.From, &change.To,
			&change.Actor, &reason, &createdAt); err != nil {
			return nil, err
		}
		change.Reason = reason.String
		change.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// =============================================================================
// PAYMENT STORE (payments.PaymentStore interface)
// =============================================================================

const paymentColumns = `id, order_id, method, amount, payer_account_id, payee_account_id,
	fee_amount, fee_percent, fee_rule, state, idempotency_key,
	gateway_reference, gateway_transaction_id, confirmed_by, confirmed_at,
	failure_reason, initiated_at, authorized_at, captured_at, cancelled_at,
	failed_at, refunded_at`

// CreatePayment inserts a new payment. The order_id uniqueness constraint
// maps to payments.ErrOrderAlreadyPaid.
func (s *Store) CreatePayment(ctx context.Context, p payments.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payments
		(` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.OrderID, p.Method, p.Amount.String(),
		p.PayerAccountID, p.PayeeAccountID,
		p.FeeAmount.String(), p.FeePercent.String(), p.FeeRule,
		p.State, p.IdempotencyKey,
		nullString(p.GatewayReference), nullString(p.GatewayTransactionID),
		nullString(p.ConfirmedBy), nullTime(p.ConfirmedAt),
		nullString(p.FailureReason),
		p.InitiatedAt.Format(time.RFC3339Nano),
		nullTime(p.AuthorizedAt), nullTime(p.CapturedAt),
		nullTime(p.CancelledAt), nullTime(p.FailedAt), nullTime(p.RefundedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payments.ErrOrderAlreadyPaid
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment returns the payment or payments.ErrPaymentNotFound.
func (s *Store) GetPayment(ctx context.Context, id payments.PaymentID) (*payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.queryPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, id)
	}
	return p, nil
}

// GetPaymentByOrder returns (nil, nil) when the order has no payment.
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE order_id = ?", orderID)
}

func (s *Store) queryPayment(ctx context.Context, query string, args ...any) (*payments.Payment, error) {
	var (
		p           payments.Payment
		amount      string
		feeAmount   string
		feePercent  string
		gatewayRef  sql.NullString
		gatewayTxID sql.NullString
		confirmedBy sql.NullString
		confirmedAt sql.NullString
		failReason  sql.NullString
		initiatedAt string
		authorized  sql.NullString
		captured    sql.NullString
		cancelled   sql.NullString
		failed      sql.NullString
		refunded    sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.OrderID, &p.Method, &amount,
		&p.PayerAccountID, &p.PayeeAccountID,
		&feeAmount, &feePercent, &p.FeeRule,
		&p.State, &p.IdempotencyKey,
		&gatewayRef, &gatewayTxID, &confirmedBy, &confirmedAt,
		&failReason, &initiatedAt, &authorized, &captured,
		&cancelled, &failed, &refunded,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s has invalid amount %q: %w", p.ID, amount, err)
	}
	if p.FeeAmount, err = decimal.NewFromString(feeAmount); err != nil {
		return nil, fmt.Errorf("payment %s has invalid fee amount %q: %w", p.ID, feeAmount, err)
	}
	if p.FeePercent, err = decimal.NewFromString(feePercent); err != nil {
		return nil, fmt.Errorf("payment %s has invalid fee percent %q: %w", p.ID, feePercent, err)
	}

	p.GatewayReference = gatewayRef.String
	p.GatewayTransactionID = gatewayTxID.String
	p.ConfirmedBy = confirmedBy.String
	p.FailureReason = failReason.String
	p.InitiatedAt, _ = time.Parse(time.RFC3339Nano, initiatedAt)
	p.ConfirmedAt = parseNullTime(confirmedAt)
	p.AuthorizedAt = parseNullTime(authorized)
	p.CapturedAt = parseNullTime(captured)
	p.CancelledAt = parseNullTime(cancelled)
	p.FailedAt = parseNullTime(failed)
	p.RefundedAt = parseNullTime(refunded)
	return &p, nil
}

// SavePayment updates the lifecycle fields of an existing payment. The
// identity and amount columns are deliberately not in the UPDATE: a payment's
// order, parties, and fee snapshot never change after initiation.
func (s *Store) SavePayment(ctx context.Context, p payments.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE payments SET
			state = ?,
			gateway_reference = ?,
			gateway_transaction_id = ?,
			confirmed_by = ?,
			confirmed_at = ?,
			failure_reason = ?,
			authorized_at = ?,
			captured_at = ?,
			cancelled_at = ?,
			failed_at = ?,
			refunded_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		p.State,
		nullString(p.GatewayReference), nullString(p.GatewayTransactionID),
		nullString(p.ConfirmedBy), nullTime(p.ConfirmedAt),
		nullString(p.FailureReason),
		nullTime(p.AuthorizedAt), nullTime(p.CapturedAt),
		nullTime(p.CancelledAt), nullTime(p.FailedAt), nullTime(p.RefundedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, p.ID)
	}
	return nil
}

// =============================================================================
// PAYMENT LOCKER (payments.Locker interface)
// =============================================================================

// WithLock runs fn while holding an exclusive lock on one payment. The wait
// is bounded: a caller that cannot acquire the lock within lockWait receives
// ledger.ErrLockNotAcquired and should retry with backoff.
func (s *Store) WithLock(ctx context.Context, id payments.PaymentID, fn func() error) error {
	sem := s.semaphoreFor(id)

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: payment %s", ledger.ErrLockNotAcquired, id)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	return fn()
}

func (s *Store) semaphoreFor(id payments.PaymentID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	sem, ok := s.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[id] = sem
	}
	return sem
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

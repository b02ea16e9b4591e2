// Package store provides in-memory implementations of the ledger
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"sync"

	"github.com/meridian/commerce-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxEntryStore, ledger.AccountStore, and
// ledger.StatusAuditLog. Entries are append-only, idempotency keys are
// enforced the same way a database uniqueness constraint would be, and
// WithTx simulates rollback with a snapshot.
type Memory struct {
	mu          sync.RWMutex
	byAccount   map[ledger.AccountID][]ledger.Entry
	byGroup     map[ledger.GroupID][]ledger.Entry
	groupOrder  []ledger.GroupID
	idempotency map[string]ledger.GroupID
	accounts    map[ledger.AccountID]ledger.Account
	audit       []ledger.StatusChange
}

func NewMemory() *Memory {
	return &Memory{
		byAccount:   make(map[ledger.AccountID][]ledger.Entry),
		byGroup:     make(map[ledger.GroupID][]ledger.Entry),
		idempotency: make(map[string]ledger.GroupID),
		accounts:    make(map[ledger.AccountID]ledger.Account),
	}
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) AppendGroup(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendGroupLocked(entries)
}

func (m *Memory) appendGroupLocked(entries []ledger.Entry) error {
	for _, e := range entries {
		if e.IdempotencyKey != "" {
			if _, taken := m.idempotency[e.IdempotencyKey]; taken {
				return ledger.ErrDuplicateIdempotencyKey
			}
		}
	}
	for _, e := range entries {
		m.byAccount[e.AccountID] = append(m.byAccount[e.AccountID], e)
		if _, seen := m.byGroup[e.GroupID]; !seen {
			m.groupOrder = append(m.groupOrder, e.GroupID)
		}
		m.byGroup[e.GroupID] = append(m.byGroup[e.GroupID], e)
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = e.GroupID
		}
	}
	return nil
}

func (m *Memory) LoadByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyEntries(m.byAccount[accountID]), nil
}

func (m *Memory) LoadByGroup(_ context.Context, groupID ledger.GroupID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyEntries(m.byGroup[groupID]), nil
}

func (m *Memory) LoadByIdempotencyKey(_ context.Context, key string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groupID, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return copyEntries(m.byGroup[groupID]), nil
}

// RecentGroups returns the most recently written group IDs, newest first.
func (m *Memory) RecentGroups(_ context.Context, limit int) ([]ledger.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.groupOrder) {
		limit = len(m.groupOrder)
	}
	result := make([]ledger.GroupID, 0, limit)
	for i := len(m.groupOrder) - 1; i >= len(m.groupOrder)-limit; i-- {
		result = append(result, m.groupOrder[i])
	}
	return result, nil
}

func copyEntries(entries []ledger.Entry) []ledger.Entry {
	result := make([]ledger.Entry, len(entries))
	copy(result, entries)
	return result
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn atomically. The view passed to fn reads and writes the
// live maps directly (so fn observes its own writes); on error the snapshot
// taken before fn ran is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.EntryStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	byAccount   map[ledger.AccountID][]ledger.Entry
	byGroup     map[ledger.GroupID][]ledger.Entry
	groupOrder  []ledger.GroupID
	idempotency map[string]ledger.GroupID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		byAccount:   make(map[ledger.AccountID][]ledger.Entry, len(m.byAccount)),
		byGroup:     make(map[ledger.GroupID][]ledger.Entry, len(m.byGroup)),
		idempotency: make(map[string]ledger.GroupID, len(m.idempotency)),
	}
	for k, v := range m.byAccount {
		s.byAccount[k] = copyEntries(v)
	}
	for k, v := range m.byGroup {
		s.byGroup[k] = copyEntries(v)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	s.groupOrder = append(s.groupOrder, m.groupOrder...)
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.byAccount = s.byAccount
	m.byGroup = s.byGroup
	m.groupOrder = s.groupOrder
	m.idempotency = s.idempotency
}

// txView bypasses the parent mutex (held by WithTx) so reads inside the
// transaction see uncommitted writes.
type txView struct {
	parent *Memory
}

func (v *txView) AppendGroup(_ context.Context, entries []ledger.Entry) error {
	return v.parent.appendGroupLocked(entries)
}

func (v *txView) LoadByAccount(_ context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	return copyEntries(v.parent.byAccount[accountID]), nil
}

func (v *txView) LoadByGroup(_ context.Context, groupID ledger.GroupID) ([]ledger.Entry, error) {
	return copyEntries(v.parent.byGroup[groupID]), nil
}

func (v *txView) LoadByIdempotencyKey(_ context.Context, key string) ([]ledger.Entry, error) {
	groupID, ok := v.parent.idempotency[key]
	if !ok {
		return nil, nil
	}
	return copyEntries(v.parent.byGroup[groupID]), nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if account.Kind == ledger.KindUser && existing.OwnerReference != "" &&
			existing.OwnerReference == account.OwnerReference {
			return ledger.ErrAccountExists
		}
		if account.UniqueCode != "" && existing.UniqueCode == account.UniqueCode {
			return ledger.ErrAccountExists
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &account, nil
}

func (m *Memory) GetAccountByOwner(_ context.Context, ownerRef string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, account := range m.accounts {
		if account.OwnerReference == ownerRef && account.Kind == ledger.KindUser {
			a := account
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetAccountByCode(_ context.Context, code string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, account := range m.accounts {
		if account.UniqueCode == code && account.UniqueCode != "" {
			a := account
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateAccountStatus(_ context.Context, id ledger.AccountID, from, to ledger.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if account.Status != from {
		return ledger.ErrConcurrentModification
	}
	account.Status = to
	m.accounts[id] = account
	return nil
}

// =============================================================================
// STATUS AUDIT LOG
// =============================================================================

func (m *Memory) AppendStatusChange(_ context.Context, change ledger.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, change)
	return nil
}

func (m *Memory) StatusHistory(_ context.Context, accountID ledger.AccountID) ([]ledger.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.StatusChange
	for _, change := range m.audit {
		if change.AccountID == accountID {
			result = append(result, change)
		}
	}
	return result, nil
}

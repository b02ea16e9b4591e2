package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// MEMORY PAYMENT STORE - In-memory payments.PaymentStore (for testing/dev)
// =============================================================================

// MemoryPayments implements payments.PaymentStore with the same uniqueness
// semantics as the SQLite store: one payment per order, unique idempotency
// keys.
type MemoryPayments struct {
	mu      sync.RWMutex
	byID    map[payments.PaymentID]payments.Payment
	byOrder map[string]payments.PaymentID
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{
		byID:    make(map[payments.PaymentID]payments.Payment),
		byOrder: make(map[string]payments.PaymentID),
	}
}

func (m *MemoryPayments) CreatePayment(_ context.Context, p payments.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byOrder[p.OrderID]; taken {
		return payments.ErrOrderAlreadyPaid
	}
	m.byID[p.ID] = p
	m.byOrder[p.OrderID] = p.ID
	return nil
}

func (m *MemoryPayments) GetPayment(_ context.Context, id payments.PaymentID) (*payments.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, id)
	}
	return &p, nil
}

func (m *MemoryPayments) GetPaymentByOrder(_ context.Context, orderID string) (*payments.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	p := m.byID[id]
	return &p, nil
}

func (m *MemoryPayments) SavePayment(_ context.Context, p payments.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[p.ID]; !ok {
		return fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, p.ID)
	}
	m.byID[p.ID] = p
	return nil
}

// =============================================================================
// MEMORY LOCKER - Bounded-wait exclusive payment locks (for testing/dev)
// =============================================================================

// MemoryLocker implements payments.Locker with per-payment semaphores and a
// bounded wait, matching the SQLite store's lock semantics.
type MemoryLocker struct {
	Wait time.Duration

	mu    sync.Mutex
	locks map[payments.PaymentID]chan struct{}
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		Wait:  wait,
		locks: make(map[payments.PaymentID]chan struct{}),
	}
}

func (l *MemoryLocker) WithLock(ctx context.Context, id payments.PaymentID, fn func() error) error {
	l.mu.Lock()
	sem, ok := l.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[id] = sem
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.Wait)
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

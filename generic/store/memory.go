// Package store provides in-memory generic.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.AccountID][]generic.Transaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.AccountID][]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return &generic.DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return &generic.DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
		seen[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) {
	txs := m.transactions[tx.AccountID]

	// Binary search for insertion point; equal EffectiveAt keeps arrival order
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})

	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Transaction, len(m.transactions[accountID]))
	copy(result, m.transactions[accountID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Transaction
	for _, tx := range m.transactions[accountID] {
		if from.BeforeOrEqual(tx.EffectiveAt) && tx.EffectiveAt.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// SNAPSHOTS - Used by transactional wrappers to roll back
// =============================================================================

// MemorySnapshot is an opaque copy of the store contents.
type MemorySnapshot struct {
	transactions map[generic.AccountID][]generic.Transaction
	idempotency  map[string]bool
}

// Snapshot copies the current contents.
func (m *Memory) Snapshot() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txsCopy := make(map[generic.AccountID][]generic.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return MemorySnapshot{transactions: txsCopy, idempotency: idempCopy}
}

// Restore replaces the contents with a previous snapshot.
func (m *Memory) Restore(s MemorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}

/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store: Core transaction persistence (append, load, exists)

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single transaction write
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write may carry an idempotency key. If the key already exists,
  the write is rejected with ErrDuplicateIdempotencyKey. The budget
  engine keys every approved spend by its expenditure id, so replaying
  an approval can never count the bill twice.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory
  - store/memory: Budget repository embedding the in-memory ledger
  - store/sqlite: Budget repository on SQLite

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
// Corrections are made via reversal transactions.
type Store interface {
	// Append persists a transaction. Returns error if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for an account, ordered by EffectiveAt.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// LoadRange returns transactions in [from, to].
	LoadRange(ctx context.Context, accountID AccountID, from, to TimePoint) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

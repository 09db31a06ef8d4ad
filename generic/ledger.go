/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable record of every change to an account.
  Grants, adjustments, approved spends and reversals are all recorded
  here. Cached totals elsewhere (an allocation's spent amount, a
  financial year's totals) can always be re-derived by replaying it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. AUDITABLE: Every change is traceable with full context
  4. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  If a mistake is made, you don't edit the transaction. Instead:
  1. Create a Reversal transaction (opposite sign)
  2. Both original and reversal remain in the ledger
  3. Net effect is correction, but history is preserved

EXAMPLE FLOW:
  1. Allocation granted 100000: TxGrant +100000
  2. Bill approved for 30000:   TxSpend -30000
  3. Grant raised by 5000:      TxAdjustment +5000

  Summary: Granted 105000, Spent 30000, Balance 75000

SEE ALSO:
  - store.go: Low-level persistence interface
  - budget/approval.go: Keys spend entries by expenditure id
*/
package generic

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all account changes.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for an account, chronologically.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// TransactionsInRange returns transactions in [from, to].
	TransactionsInRange(ctx context.Context, accountID AccountID, from, to TimePoint) ([]Transaction, error)

	// Summary replays the account and returns its totals.
	Summary(ctx context.Context, accountID AccountID, currency Currency) (AccountSummary, error)
}

// AccountSummary is the replayed state of one account.
type AccountSummary struct {
	AccountID AccountID
	Granted   Amount // grants + adjustments
	Spent     Amount // spends net of reversals, stored positive
	Entries   int
}

// Balance is what remains to be spent.
func (s AccountSummary) Balance() Amount {
	return s.Granted.Sub(s.Spent)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return &DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
		seen[tx.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return l.Store.Load(ctx, accountID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, accountID AccountID, from, to TimePoint) ([]Transaction, error) {
	return l.Store.LoadRange(ctx, accountID, from, to)
}

func (l *DefaultLedger) Summary(ctx context.Context, accountID AccountID, currency Currency) (AccountSummary, error) {
	txs, err := l.Store.Load(ctx, accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	return Summarize(accountID, txs, currency)
}

// Summarize folds transactions into an AccountSummary. Reversals undo
// whichever side the reversed entry's sign belongs to: a positive reversal
// cancels a spend, a negative one cancels a grant.
func Summarize(accountID AccountID, txs []Transaction, currency Currency) (AccountSummary, error) {
	summary := AccountSummary{
		AccountID: accountID,
		Granted:   NewAmountFromInt(0, currency),
		Spent:     NewAmountFromInt(0, currency),
	}
	for _, tx := range txs {
		if tx.Delta.Currency != "" && tx.Delta.Currency != currency {
			return AccountSummary{}, fmt.Errorf("%w: account %s has %s entry, expected %s",
				ErrCurrencyMismatch, accountID, tx.Delta.Currency, currency)
		}
		switch tx.Type {
		case TxGrant, TxAdjustment:
			summary.Granted = summary.Granted.Add(tx.Delta)
		case TxSpend:
			summary.Spent = summary.Spent.Add(tx.Delta.Neg())
		case TxReversal:
			if tx.Delta.IsPositive() {
				summary.Spent = summary.Spent.Sub(tx.Delta)
			} else {
				summary.Granted = summary.Granted.Add(tx.Delta)
			}
		default:
			return AccountSummary{}, errors.New("unknown transaction type: " + string(tx.Type))
		}
		summary.Entries++
	}
	return summary, nil
}

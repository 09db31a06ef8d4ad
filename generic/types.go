/*
Package generic provides the domain-agnostic ledger primitives.

PURPOSE:
  This package contains the money, time and ledger types the budget engine
  is built on. It knows nothing about departments, approvals or financial
  years; it only knows how to record amounts against accounts in an
  append-only, idempotent way and how to cut time into fiscal periods.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity of money in one currency
  - Transaction: An immutable ledger entry recording a change to an account
  - AccountID / TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing accounts and transactions
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  amount := generic.NewAmountFromInt(30000, generic.CurrencyINR)
  tx := generic.Transaction{
      AccountID:      "alloc-001",
      Delta:          amount.Neg(),
      Type:           generic.TxSpend,
      IdempotencyKey: "expenditure:exp-42:spend",
  }

SEE ALSO:
  - ledger.go: Ledger interface and account summaries
  - period.go: Fiscal year periods and labels
  - store.go: Transaction persistence interface
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

func NewAmountFromDecimal(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Currency: a.Currency} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.StringFixed(2) + " " + string(a.Currency) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies a ledger account. The budget domain uses one account
// per allocation.
type AccountID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an account
// =============================================================================

type TransactionType string

const (
	TxGrant      TransactionType = "grant"      // Amount granted to the account (allocation created)
	TxAdjustment TransactionType = "adjustment" // Grant changed after creation (positive or negative)
	TxSpend      TransactionType = "spend"      // Approved spend against the account
	TxReversal   TransactionType = "reversal"   // Undo a previous transaction
)

type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt TimePoint
}

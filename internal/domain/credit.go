package domain

import "time"

// ─── Credit Ledger Audit Types ──────────────────────────────────────────────
// These types are NOT part of the durable State snapshot — they are an append-only audit
// trail of balance-affecting events, archived to the secondary store
// (infra/sqlite) so a deployment retains a history once days roll off the
// live window.

// EntryType represents the accounting side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// TransactionType represents the business reason for a credit change.
type TransactionType string

const (
	// TxDailyBudget is the per-user credit granted to every enabled user at
	// day rollover.
	TxDailyBudget TransactionType = "DAILY_BUDGET"
	// TxCharge is the debit applied to a winner when their won day's slots
	// are charged at rollover.
	TxCharge TransactionType = "CHARGE"
	// TxRelease is the 50% single-slot release refund.
	TxRelease TransactionType = "RELEASE"
	// TxBulkRelease is the flat per-slot bulk release refund.
	TxBulkRelease TransactionType = "BULK_RELEASE"
)

// LedgerEntry is a single row in the credit audit ledger.
type LedgerEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Type        TransactionType `json:"type"`
	EntryType   EntryType       `json:"entry_type"`
	Account     string          `json:"account"`
	Amount      float64         `json:"amount"`
	DayKey      string          `json:"day_key,omitempty"`
	Description string          `json:"description,omitempty"`
	Balance     float64         `json:"balance"`
}

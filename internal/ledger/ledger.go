// Package ledger applies credit-affecting mutations to domain.User balances
// and records each one as an append-only domain.LedgerEntry, independent of
// the durable State snapshot.
package ledger

import (
	"github.com/gpuauction/auctiond/internal/domain"
)

// BulkReleaseRefund is the default flat per-slot stipend for a bulk release,
// chosen low enough to discourage speculative mass-bidding. Overridable via
// the daemon's credit configuration.
const BulkReleaseRefund = 0.34

// SingleReleaseFraction is the proportional refund for releasing one owned
// future slot.
const SingleReleaseFraction = 0.5

// Recorder accumulates LedgerEntry rows produced by a single mutation.
// Callers flush it to an archive (e.g. infra/sqlite) once the mutation has
// been applied to State.
type Recorder struct {
	Entries []domain.LedgerEntry
}

func (r *Recorder) record(now func() domain.LedgerEntry) {
	r.Entries = append(r.Entries, now())
}

// ChargeWinner debits amount from user's balance for slots won on dayKey,
// floored at zero, and returns the amount actually debited, truncated to a
// whole number of credits.
func ChargeWinner(u *domain.User, dayKey string, amount int, rec *Recorder, ts domain.Clock) int {
	if amount <= 0 {
		return 0
	}
	before := u.Balance
	u.Balance -= float64(amount)
	if u.Balance < 0 {
		u.Balance = 0
	}
	debited := before - u.Balance
	rec.record(func() domain.LedgerEntry {
		return domain.LedgerEntry{
			Timestamp:   ts.Now(),
			Type:        domain.TxCharge,
			EntryType:   domain.EntryDebit,
			Account:     u.Username,
			Amount:      debited,
			DayKey:      dayKey,
			Description: "charge for won slots",
			Balance:     u.Balance,
		}
	})
	return int(debited)
}

// CreditDailyBudget adds u's daily budget to its balance at rollover.
// Unused credit is never capped or clawed back.
func CreditDailyBudget(u *domain.User, dayKey string, rec *Recorder, ts domain.Clock) {
	if u.DailyBudget <= 0 {
		return
	}
	u.Balance += float64(u.DailyBudget)
	rec.record(func() domain.LedgerEntry {
		return domain.LedgerEntry{
			Timestamp:   ts.Now(),
			Type:        domain.TxDailyBudget,
			EntryType:   domain.EntryCredit,
			Account:     u.Username,
			Amount:      float64(u.DailyBudget),
			DayKey:      dayKey,
			Description: "daily budget rollover",
			Balance:     u.Balance,
		}
	})
}

// RefundSingleRelease credits u with SingleReleaseFraction×price for
// releasing one owned future slot and returns the refund amount.
func RefundSingleRelease(u *domain.User, dayKey string, price int, rec *Recorder, ts domain.Clock) float64 {
	refund := SingleReleaseFraction * float64(price)
	u.Balance += refund
	rec.record(func() domain.LedgerEntry {
		return domain.LedgerEntry{
			Timestamp:   ts.Now(),
			Type:        domain.TxRelease,
			EntryType:   domain.EntryCredit,
			Account:     u.Username,
			Amount:      refund,
			DayKey:      dayKey,
			Description: "single-slot release refund",
			Balance:     u.Balance,
		}
	})
	return refund
}

// RefundBulkRelease credits u with a flat perSlot stipend per released slot,
// applied as a single balance increment, and returns the total.
func RefundBulkRelease(u *domain.User, releasedCount int, perSlot float64, rec *Recorder, ts domain.Clock) float64 {
	if releasedCount <= 0 || perSlot <= 0 {
		return 0
	}
	refund := float64(releasedCount) * perSlot
	u.Balance += refund
	rec.record(func() domain.LedgerEntry {
		return domain.LedgerEntry{
			Timestamp:   ts.Now(),
			Type:        domain.TxBulkRelease,
			EntryType:   domain.EntryCredit,
			Account:     u.Username,
			Amount:      refund,
			Description: "bulk release stipend",
			Balance:     u.Balance,
		}
	})
	return refund
}

// Payouts tallies the price of every won entry on a day, grouped by winner.
func Payouts(day *domain.Day) map[string]int {
	totals := make(map[string]int)
	for _, slot := range day.Slots {
		for _, entry := range slot.GpuPrices {
			if entry.Winner != nil && entry.Price > 0 {
				totals[*entry.Winner] += entry.Price
			}
		}
	}
	return totals
}

package ledger

import (
	"testing"
	"time"

	"github.com/gpuauction/auctiond/internal/domain"
)

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func() time.Time { return t })
}

func TestChargeWinner_FlooredAtZero(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 5}
	rec := &Recorder{}
	debited := ChargeWinner(u, "2026-01-02", 11, rec, fixedClock(time.Now()))

	if u.Balance != 0 {
		t.Errorf("Balance = %v, want 0 (floored)", u.Balance)
	}
	if debited != 5 {
		t.Errorf("debited = %d, want 5", debited)
	}
	if len(rec.Entries) != 1 || rec.Entries[0].Type != domain.TxCharge {
		t.Fatalf("rec.Entries = %+v", rec.Entries)
	}
}

func TestChargeWinner_ZeroAmountNoop(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 5}
	rec := &Recorder{}
	ChargeWinner(u, "2026-01-02", 0, rec, fixedClock(time.Now()))
	if len(rec.Entries) != 0 {
		t.Errorf("expected no ledger entry for zero charge, got %+v", rec.Entries)
	}
}

func TestCreditDailyBudget_Accumulates(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 100, DailyBudget: 50}
	rec := &Recorder{}
	CreditDailyBudget(u, "2026-01-02", rec, fixedClock(time.Now()))
	if u.Balance != 150 {
		t.Errorf("Balance = %v, want 150 (unused credit accumulates, no cap)", u.Balance)
	}
}

func TestRefundSingleRelease_HalfPrice(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 0}
	rec := &Recorder{}
	got := RefundSingleRelease(u, "2026-01-02", 9, rec, fixedClock(time.Now()))
	if got != 4.5 {
		t.Errorf("refund = %v, want 4.5", got)
	}
	if u.Balance != 4.5 {
		t.Errorf("Balance = %v, want 4.5", u.Balance)
	}
}

func TestRefundBulkRelease_FlatPerSlot(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 0}
	rec := &Recorder{}
	got := RefundBulkRelease(u, 3, BulkReleaseRefund, rec, fixedClock(time.Now()))
	want := 3 * BulkReleaseRefund
	if got != want {
		t.Errorf("refund = %v, want %v", got, want)
	}
	if len(rec.Entries) != 1 {
		t.Fatalf("expected single balance increment entry, got %d", len(rec.Entries))
	}
}

func TestRefundBulkRelease_ZeroCountNoop(t *testing.T) {
	u := &domain.User{Username: "alice", Balance: 0}
	rec := &Recorder{}
	RefundBulkRelease(u, 0, BulkReleaseRefund, rec, fixedClock(time.Now()))
	if u.Balance != 0 || len(rec.Entries) != 0 {
		t.Errorf("expected no-op, got Balance=%v Entries=%+v", u.Balance, rec.Entries)
	}
}

func TestPayouts_SumsByWinner(t *testing.T) {
	day := &domain.Day{Slots: map[string]*domain.Slot{}}
	s1 := domain.NewSlot()
	alice, bob := "alice", "bob"
	s1.GpuPrices[0].Winner = &alice
	s1.GpuPrices[0].Price = 4
	s1.GpuPrices[1].Winner = &bob
	s1.GpuPrices[1].Price = 2
	day.Slots["2026-01-02T09:00"] = s1

	s2 := domain.NewSlot()
	s2.GpuPrices[0].Winner = &alice
	s2.GpuPrices[0].Price = 7
	day.Slots["2026-01-02T10:00"] = s2

	got := Payouts(day)
	if got["alice"] != 11 {
		t.Errorf("Payouts[alice] = %d, want 11", got["alice"])
	}
	if got["bob"] != 2 {
		t.Errorf("Payouts[bob] = %d, want 2", got["bob"])
	}
}

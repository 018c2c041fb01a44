package engine

import (
	"time"

	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/ledger"
	"github.com/gpuauction/auctiond/internal/locks"
)

// ReleaseInput identifies one owned slot entry to release.
type ReleaseInput struct {
	Day  string
	Slot string
	Gpu  int
}

// Release gives up one owned future slot on the executing day for a 50%
// credit refund.
func (e *Engine) Release(username string, in ReleaseInput) (refund float64, err error) {
	target := slotTarget(in.Day, in.Slot, in.Gpu)
	err = e.withSlotsAndState([]locks.Target{target}, func() error {
		var innerErr error
		refund, innerErr = e.releaseLocked(username, in)
		return innerErr
	})
	return refund, err
}

func (e *Engine) releaseLocked(username string, in ReleaseInput) (float64, error) {
	day, err := e.dayLocked(in.Day)
	if err != nil {
		return 0, err
	}
	if day.Status != domain.DayExecuting {
		return 0, domain.ErrDayNotOpen
	}
	if err := e.checkReleasable(day, in); err != nil {
		return 0, err
	}
	slot, _ := e.slotLocked(day, in.Slot)
	entry, _ := e.entryLocked(slot, in.Gpu)
	if entry.Winner == nil || *entry.Winner != username {
		return 0, domain.ErrNotOwner
	}

	u, err := e.userLocked(username)
	if err != nil {
		return 0, err
	}
	price := entry.Price
	entry.Winner = nil
	entry.Price = 0
	entry.Bids = nil

	rec := newRecorder()
	refund := ledger.RefundSingleRelease(u, in.Day, price, rec, e.clock)
	e.archiveLedgerLocked(rec)

	if err := e.persistLocked(); err != nil {
		return 0, err
	}
	return refund, nil
}

// checkReleasable enforces the "at least one full hour in the future"
// precondition shared by single and bulk release.
func (e *Engine) checkReleasable(day *domain.Day, in ReleaseInput) error {
	if _, ok := day.Slots[in.Slot]; !ok {
		return domain.ErrNotFound
	}
	if in.Gpu < 0 || in.Gpu >= domain.NumGPUs {
		return domain.ErrInvalidGPU
	}
	if e.state.Policy.IsReserved(in.Day, in.Slot, in.Gpu) {
		return domain.ErrSlotReserved
	}
	slotStart, err := time.ParseInLocation("2006-01-02T15:04", in.Slot, e.cal.Zone())
	if err != nil {
		return domain.ErrBadRequest
	}
	now := e.clock.Now().In(e.cal.Zone())
	flooredHour := now.Truncate(time.Hour)
	if slotStart.Before(flooredHour.Add(time.Hour)) {
		return domain.ErrTooLateToRelease
	}
	return nil
}

// BulkRelease releases every entry in ins that the caller owns and that
// passes the single-release preconditions, silently skipping the rest, for
// a flat per-slot stipend.
func (e *Engine) BulkRelease(username string, ins []ReleaseInput) (releasedCount int, refund float64, err error) {
	targets := make([]locks.Target, len(ins))
	for i, in := range ins {
		targets[i] = slotTarget(in.Day, in.Slot, in.Gpu)
	}
	ordered := sortedTargets(targets)
	err = e.withSlotsAndState(ordered, func() error {
		var innerErr error
		releasedCount, refund, innerErr = e.bulkReleaseLocked(username, ins)
		return innerErr
	})
	return releasedCount, refund, err
}

func (e *Engine) bulkReleaseLocked(username string, ins []ReleaseInput) (int, float64, error) {
	u, err := e.userLocked(username)
	if err != nil {
		return 0, 0, err
	}

	released := 0
	seen := make(map[locks.Target]bool)
	for _, in := range ins {
		t := slotTarget(in.Day, in.Slot, in.Gpu)
		if seen[t] {
			continue
		}
		seen[t] = true

		day, ok := e.state.Days[in.Day]
		if !ok || day.Status != domain.DayExecuting {
			continue
		}
		if e.checkReleasable(day, in) != nil {
			continue
		}
		slot, ok := day.Slots[in.Slot]
		if !ok {
			continue
		}
		if in.Gpu < 0 || in.Gpu >= domain.NumGPUs {
			continue
		}
		entry := &slot.GpuPrices[in.Gpu]
		if entry.Winner == nil || *entry.Winner != username {
			continue
		}
		entry.Winner = nil
		entry.Price = 0
		entry.Bids = nil
		released++
	}

	if released == 0 {
		return 0, 0, nil
	}

	rec := newRecorder()
	refund := ledger.RefundBulkRelease(u, released, e.bulkRefund, rec, e.clock)
	e.archiveLedgerLocked(rec)

	if err := e.persistLocked(); err != nil {
		return 0, 0, err
	}
	return released, refund, nil
}

// Package engine implements the auction, release, day-cycle, and telemetry
// operations against a shared domain.State under the two-tier locking
// scheme of internal/locks.
//
// Every exported method acquires whatever per-slot locks it needs, then the
// global state lock, then delegates to an unexported "*Locked" method that
// assumes both are already held and never locks anything itself. This is
// the split-API substitute for a reentrant mutex: a Locked method may call
// another Locked method directly, but must never call back into an
// exported method.
package engine

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/gpuauction/auctiond/internal/calendar"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/ledger"
	"github.com/gpuauction/auctiond/internal/locks"
)

// Store is the durable persistence boundary the engine depends on.
type Store interface {
	Save(*domain.State) error
}

// Engine wires the domain state to its lock manager, clock, calendar, and
// durable store.
type Engine struct {
	locks   *locks.Manager
	store   Store
	clock   domain.Clock
	cal     *calendar.Calendar
	archive domain.HistoryArchive // optional; nil disables secondary archival

	bulkRefund float64
	advances   atomic.Uint64

	state *domain.State
}

// New constructs an Engine over an already-loaded state.
func New(state *domain.State, store Store, clock domain.Clock, cal *calendar.Calendar) *Engine {
	return &Engine{
		locks:      locks.NewManager(),
		store:      store,
		clock:      clock,
		cal:        cal,
		bulkRefund: ledger.BulkReleaseRefund,
		state:      state,
	}
}

// SetBulkReleaseRefund overrides the flat per-slot bulk release stipend.
// Values <= 0 are ignored and leave the default in place.
func (e *Engine) SetBulkReleaseRefund(v float64) {
	if v > 0 {
		e.bulkRefund = v
	}
}

// DayAdvanceTotal reports how many day-cycle advances have run since boot.
func (e *Engine) DayAdvanceTotal() uint64 { return e.advances.Load() }

// SetArchive attaches a secondary history archive (e.g. infra/sqlite). Day
// finalizations and accepted bids are mirrored to it on a best-effort
// basis: archival errors are never allowed to fail the caller's request,
// since the JSON snapshot remains the sole authoritative store.
func (e *Engine) SetArchive(a domain.HistoryArchive) { e.archive = a }

// archiveBidLocked mirrors a bid-log row to the secondary archive, if one is
// attached, ignoring errors (the in-memory ring buffer stays authoritative).
func (e *Engine) archiveBidLocked(entry domain.BidLogEntry) {
	if e.archive != nil {
		_ = e.archive.ArchiveBid(entry)
	}
}

// archiveDayLocked mirrors a finalized day to the secondary archive, if one
// is attached, ignoring errors.
func (e *Engine) archiveDayLocked(day *domain.Day) {
	if e.archive != nil {
		_ = e.archive.ArchiveDay(day)
	}
}

// archiveLedgerLocked mirrors the credit-ledger rows a mutation produced to
// the secondary archive, if one is attached, ignoring errors.
func (e *Engine) archiveLedgerLocked(rec *ledger.Recorder) {
	if e.archive != nil && len(rec.Entries) > 0 {
		_ = e.archive.ArchiveLedger(rec.Entries)
	}
}

// persistLocked saves the current state. Caller must already hold the state
// lock.
func (e *Engine) persistLocked() error {
	return e.store.Save(e.state)
}

// dayLocked returns a day by key, or ErrNotFound.
func (e *Engine) dayLocked(dayKey string) (*domain.Day, error) {
	day, ok := e.state.Days[dayKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return day, nil
}

// slotLocked returns a day's slot, or ErrNotFound.
func (e *Engine) slotLocked(day *domain.Day, slotKey string) (*domain.Slot, error) {
	slot, ok := day.Slots[slotKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slot, nil
}

// entryLocked validates gpu range and returns the GpuEntry pointer.
func (e *Engine) entryLocked(slot *domain.Slot, gpu int) (*domain.GpuEntry, error) {
	if gpu < 0 || gpu >= domain.NumGPUs {
		return nil, domain.ErrInvalidGPU
	}
	return &slot.GpuPrices[gpu], nil
}

// userLocked returns a user by username, or ErrNotFound.
func (e *Engine) userLocked(username string) (*domain.User, error) {
	u, ok := e.state.Users[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func slotTarget(day, slot string, gpu int) locks.Target {
	return locks.Target{Day: day, Slot: slot, Gpu: gpu}
}

// withSlotsAndState acquires the given slot locks in canonical order, then
// the state lock, runs fn, and releases both in reverse acquisition order.
func (e *Engine) withSlotsAndState(targets []locks.Target, fn func() error) error {
	release := e.locks.AcquireSlots(targets)
	defer release()
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return fn()
}

// newRecorder is a convenience for operations that emit ledger entries.
func newRecorder() *ledger.Recorder { return &ledger.Recorder{} }

// sortedTargets returns bid targets sorted and deduplicated per the
// canonical (day, slot, gpu) acquisition order.
func sortedTargets(in []locks.Target) []locks.Target {
	out := append([]locks.Target(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Gpu < b.Gpu
	})
	if len(out) == 0 {
		return out
	}
	dedup := out[:1]
	for _, t := range out[1:] {
		if t != dedup[len(dedup)-1] {
			dedup = append(dedup, t)
		}
	}
	return dedup
}

func fmtTriple(day, slot string, gpu int) string {
	return fmt.Sprintf("%s|%s|%d", day, slot, gpu)
}

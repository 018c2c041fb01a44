package engine

import (
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/ledger"
	"github.com/gpuauction/auctiond/internal/locks"
)

// MaxCatchUpIterations bounds how many day advances UpdateSystemState will
// run in one call, so a daemon restarted after a long outage cannot spin
// indefinitely replaying missed rollovers.
const MaxCatchUpIterations = 10

// UpdateSystemState ensures an executing day and its six trailing open days
// exist, then advances the day cycle for as long as the executing day has
// closed, capped at MaxCatchUpIterations. The snapshot is only persisted
// when something actually changed, so the per-request invocation of this
// method stays write-free on an already-settled calendar.
func (e *Engine) UpdateSystemState() error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return e.updateSystemStateLocked()
}

func (e *Engine) updateSystemStateLocked() error {
	changed, err := e.ensureExecutingDayLocked()
	if err != nil {
		return err
	}
	windowChanged, err := e.ensureOpenWindowLocked()
	if err != nil {
		return err
	}
	changed = changed || windowChanged

	for i := 0; i < MaxCatchUpIterations; i++ {
		exec := e.executingDayLocked()
		if exec == nil {
			break
		}
		closeAt, err := e.cal.DayClose(exec.DayStart, e.state.Config.TransitionHour)
		if err != nil {
			return err
		}
		if e.clock.Now().Before(closeAt) {
			break
		}
		if err := e.advanceDayCycleLocked(); err != nil {
			return err
		}
		if _, err := e.ensureOpenWindowLocked(); err != nil {
			return err
		}
		changed = true
	}

	if e.finalizePastGPUSlotsLocked() {
		changed = true
	}
	if !changed {
		return nil
	}
	return e.persistLocked()
}

func (e *Engine) executingDayLocked() *domain.Day {
	for _, d := range e.state.Days {
		if d.Status == domain.DayExecuting {
			return d
		}
	}
	return nil
}

func (e *Engine) ensureExecutingDayLocked() (changed bool, err error) {
	if e.executingDayLocked() != nil {
		return false, nil
	}
	todayKey := e.cal.DayKeyFor(e.clock.Now(), e.state.Config.TransitionHour)
	day, ok := e.state.Days[todayKey]
	if !ok {
		day = &domain.Day{DayStart: todayKey, Slots: make(map[string]*domain.Slot)}
		e.populateSlotsLocked(day)
		e.state.Days[todayKey] = day
	}
	day.Status = domain.DayExecuting
	return true, nil
}

// ensureOpenWindowLocked creates or repairs the six open days following the
// executing day.
func (e *Engine) ensureOpenWindowLocked() (changed bool, err error) {
	exec := e.executingDayLocked()
	if exec == nil {
		return false, domain.ErrNoOpenDayToAdvance
	}
	for n := 1; n <= domain.OpenDayWindow; n++ {
		key, err := e.cal.NextDayKey(exec.DayStart, n)
		if err != nil {
			return changed, err
		}
		day, ok := e.state.Days[key]
		if !ok {
			day = &domain.Day{DayStart: key, Slots: make(map[string]*domain.Slot)}
			e.populateSlotsLocked(day)
			e.state.Days[key] = day
			changed = true
		}
		if day.Status != domain.DayOpen {
			day.Status = domain.DayOpen
			changed = true
		}
	}
	return changed, nil
}

func (e *Engine) populateSlotsLocked(day *domain.Day) {
	keys, err := e.cal.SlotKeysForDay(day.DayStart, e.state.Config.TransitionHour)
	if err != nil {
		return
	}
	for _, k := range keys {
		if _, ok := day.Slots[k]; !ok {
			day.Slots[k] = domain.NewSlot()
		}
	}
}

// advanceDayCycleLocked promotes the executing day to final, promotes the
// earliest open day to executing, charges its winners, credits every
// enabled user's daily budget, and opens a fresh sixth day.
func (e *Engine) advanceDayCycleLocked() error {
	exec := e.executingDayLocked()
	if exec == nil {
		return domain.ErrNoOpenDayToAdvance
	}
	earliestOpen := e.earliestOpenDayLocked()
	if earliestOpen == nil {
		return domain.ErrNoOpenDayToAdvance
	}

	now := e.clock.Now()
	payouts := ledger.Payouts(earliestOpen)
	rec := newRecorder()
	for username, amount := range payouts {
		u, ok := e.state.Users[username]
		if !ok {
			continue
		}
		ledger.ChargeWinner(u, earliestOpen.DayStart, amount, rec, e.clock)
	}
	for _, u := range e.state.Users {
		if u.Enabled {
			ledger.CreditDailyBudget(u, earliestOpen.DayStart, rec, e.clock)
		}
	}
	e.archiveLedgerLocked(rec)

	if exec.FinalizedAt == nil {
		t := now
		exec.FinalizedAt = &t
	}
	exec.Status = domain.DayFinal
	e.archiveDayLocked(exec)
	e.reapDayLocksLocked(exec)

	earliestOpen.Status = domain.DayExecuting
	t := now
	earliestOpen.FinalizedAt = &t

	newKey, err := e.cal.NextDayKey(earliestOpen.DayStart, domain.OpenDayWindow)
	if err != nil {
		return err
	}
	newDay := &domain.Day{DayStart: newKey, Status: domain.DayOpen, Slots: make(map[string]*domain.Slot)}
	e.populateSlotsLocked(newDay)
	e.state.Days[newKey] = newDay

	e.advances.Add(1)
	return nil
}

// reapDayLocksLocked drops the per-slot locks of a day that just went final.
// Reap skips any lock still held (a bid blocked on the state lock keeps its
// mutex), so this only trims locks nothing can reach through a mutation
// path anymore.
func (e *Engine) reapDayLocksLocked(day *domain.Day) {
	targets := make([]locks.Target, 0, len(day.Slots)*domain.NumGPUs)
	for slotKey := range day.Slots {
		for gpu := 0; gpu < domain.NumGPUs; gpu++ {
			targets = append(targets, locks.Target{Day: day.DayStart, Slot: slotKey, Gpu: gpu})
		}
	}
	e.locks.Reap(targets)
}

func (e *Engine) earliestOpenDayLocked() *domain.Day {
	var best *domain.Day
	for _, d := range e.state.Days {
		if d.Status != domain.DayOpen {
			continue
		}
		if best == nil || d.DayStart < best.DayStart {
			best = d
		}
	}
	return best
}

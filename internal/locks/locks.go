// Package locks implements the two-tier locking scheme: a single global
// state lock plus a lazily-created lock per (day, slot, gpu) triple, removed
// only by Reap.
//
// Go's sync.Mutex is not reentrant, so callers needing reentrant-looking
// behavior follow a split-API convention instead of faking reentrancy: take
// the state lock exactly once, in an exported method, and delegate to
// unexported "*Locked" helpers that assume the lock is already held and
// never lock it again. Manager itself only exposes a plain mutex for that
// purpose — the reentrancy problem is solved by caller discipline, not by
// this package.
package locks

import (
	"sort"
	"sync"
)

// Target identifies one (day, slot, gpu) lock.
type Target struct {
	Day  string
	Slot string
	Gpu  int
}

// less implements the canonical acquisition order: lexicographic
// by (day, slot, gpu).
func less(a, b Target) bool {
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	return a.Gpu < b.Gpu
}

// Manager owns the global state lock and the per-slot lock map.
type Manager struct {
	State sync.Mutex // the "state_lock" — callers follow the split-API convention above

	slotMu sync.Mutex
	slots  map[Target]*sync.Mutex
}

// NewManager returns an empty, ready-to-use lock Manager.
func NewManager() *Manager {
	return &Manager{slots: make(map[Target]*sync.Mutex)}
}

// slotLock returns (creating if necessary) the mutex for a target. Locks are
// created lazily and removed only by Reap — the
// active keyspace is bounded (~7 days × 24 hours × 8 GPUs).
func (m *Manager) slotLock(t Target) *sync.Mutex {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	mu, ok := m.slots[t]
	if !ok {
		mu = &sync.Mutex{}
		m.slots[t] = mu
	}
	return mu
}

// AcquireSlots sorts and deduplicates targets, acquires their per-slot locks
// in ascending canonical order, and returns a release function that unlocks
// them in reverse order. Safe to call with a single target or an
// empty slice (the latter returns a no-op release).
func (m *Manager) AcquireSlots(targets []Target) (release func()) {
	ordered := normalize(targets)
	locked := make([]*sync.Mutex, 0, len(ordered))
	for _, t := range ordered {
		mu := m.slotLock(t)
		mu.Lock()
		locked = append(locked, mu)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// normalize sorts and deduplicates targets per the canonical acquisition order.
func normalize(targets []Target) []Target {
	if len(targets) == 0 {
		return nil
	}
	cp := make([]Target, len(targets))
	copy(cp, targets)
	sort.Slice(cp, func(i, j int) bool { return less(cp[i], cp[j]) })
	out := cp[:1]
	for _, t := range cp[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// SlotCount reports the number of per-slot locks currently in the map
// (locks removed by Reap are not counted).
func (m *Manager) SlotCount() int {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return len(m.slots)
}

// Reap removes per-slot locks for targets the caller has determined are no
// longer reachable (final days outside the retained window). A lock
// currently held is skipped (TryLock fails) rather than risk removing a
// mutex a blocked goroutine still references.
func (m *Manager) Reap(targets []Target) (reaped int) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	for _, t := range targets {
		mu, ok := m.slots[t]
		if !ok {
			continue
		}
		if mu.TryLock() {
			mu.Unlock()
			delete(m.slots, t)
			reaped++
		}
	}
	return reaped
}

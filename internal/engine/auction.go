package engine

import (
	"math"

	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/locks"
)

// BidInput identifies one (day, slot, gpu) target of a bid.
type BidInput struct {
	Day  string
	Slot string
	Gpu  int
}

// Bid places a single ascending bid on behalf of username.
func (e *Engine) Bid(username string, in BidInput) error {
	target := slotTarget(in.Day, in.Slot, in.Gpu)
	return e.withSlotsAndState([]locks.Target{target}, func() error {
		return e.bidLocked(username, in)
	})
}

func (e *Engine) bidLocked(username string, in BidInput) error {
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	day, err := e.dayLocked(in.Day)
	if err != nil {
		return err
	}
	if day.Status != domain.DayOpen {
		return domain.ErrDayNotOpen
	}
	if e.state.Policy.IsReserved(in.Day, in.Slot, in.Gpu) {
		return domain.ErrSlotReserved
	}
	slot, err := e.slotLocked(day, in.Slot)
	if err != nil {
		return err
	}
	entry, err := e.entryLocked(slot, in.Gpu)
	if err != nil {
		return err
	}

	ownCurrent := 0
	if entry.Winner != nil && *entry.Winner == username {
		ownCurrent = entry.Price
	}
	newPrice := entry.Price + 1
	if !affordable(e.state, username, u, ownCurrent, newPrice) {
		return domain.ErrInsufficientCredit
	}

	outbid := make(map[string]bool)
	for _, b := range entry.Bids {
		if b.Username != username {
			outbid[b.Username] = true
		}
	}
	if entry.Winner != nil && *entry.Winner != username {
		outbid[*entry.Winner] = true
	}

	entry.Price = newPrice
	winner := username
	entry.Winner = &winner
	entry.Bids = append(entry.Bids, domain.BidRecord{Username: username, Price: newPrice, Timestamp: e.clock.Now()})

	triple := fmtTriple(in.Day, in.Slot, in.Gpu)
	for o := range outbid {
		if ou, ok := e.state.Users[o]; ok {
			ou.QueueOutbidNotice(triple)
		}
	}

	logEntry := domain.BidLogEntry{
		Username: username, Day: in.Day, Slot: in.Slot, Gpu: in.Gpu,
		Price: newPrice, Timestamp: e.clock.Now(),
	}
	e.state.AppendBidLog(logEntry)
	e.archiveBidLocked(logEntry)

	return e.persistLocked()
}

// affordable reports whether username can afford to raise its committed
// total to reflect newPrice on an entry it currently holds at ownCurrent
// (0 if not currently held).
func affordable(state *domain.State, username string, u *domain.User, ownCurrent, newPrice int) bool {
	committed := state.Committed(username)
	projected := committed - ownCurrent + newPrice
	return float64(projected) <= math.Floor(u.Balance)
}

// BulkBid places every bid in ins atomically: either all succeed or none
// are applied.
func (e *Engine) BulkBid(username string, ins []BidInput) error {
	targets := make([]locks.Target, len(ins))
	for i, in := range ins {
		targets[i] = slotTarget(in.Day, in.Slot, in.Gpu)
	}
	ordered := sortedTargets(targets)
	return e.withSlotsAndState(ordered, func() error {
		return e.bulkBidLocked(username, ins)
	})
}

func (e *Engine) bulkBidLocked(username string, ins []BidInput) error {
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}

	type planned struct {
		day, slot string
		gpu       int
		entry     *domain.GpuEntry
		newPrice  int
		ownOld    int
	}
	plans := make([]planned, 0, len(ins))
	ownCurrentTotal := 0
	totalCost := 0

	seen := make(map[locks.Target]bool)
	for _, in := range ins {
		t := slotTarget(in.Day, in.Slot, in.Gpu)
		if seen[t] {
			continue
		}
		seen[t] = true

		day, err := e.dayLocked(in.Day)
		if err != nil {
			return err
		}
		if day.Status != domain.DayOpen {
			return domain.ErrDayNotOpen
		}
		if e.state.Policy.IsReserved(in.Day, in.Slot, in.Gpu) {
			return domain.ErrSlotReserved
		}
		slot, err := e.slotLocked(day, in.Slot)
		if err != nil {
			return err
		}
		entry, err := e.entryLocked(slot, in.Gpu)
		if err != nil {
			return err
		}

		ownOld := 0
		if entry.Winner != nil && *entry.Winner == username {
			ownOld = entry.Price
		}
		newPrice := entry.Price + 1
		ownCurrentTotal += ownOld
		totalCost += newPrice
		plans = append(plans, planned{day: in.Day, slot: in.Slot, gpu: in.Gpu, entry: entry, newPrice: newPrice, ownOld: ownOld})
	}

	committed := e.state.Committed(username)
	projected := committed - ownCurrentTotal + totalCost
	if float64(projected) > floor(u.Balance) {
		return domain.ErrInsufficientCredit
	}

	now := e.clock.Now()
	for _, p := range plans {
		outbid := make(map[string]bool)
		for _, b := range p.entry.Bids {
			if b.Username != username {
				outbid[b.Username] = true
			}
		}
		if p.entry.Winner != nil && *p.entry.Winner != username {
			outbid[*p.entry.Winner] = true
		}

		p.entry.Price = p.newPrice
		winner := username
		p.entry.Winner = &winner
		p.entry.Bids = append(p.entry.Bids, domain.BidRecord{Username: username, Price: p.newPrice, Timestamp: now})

		triple := fmtTriple(p.day, p.slot, p.gpu)
		for o := range outbid {
			if ou, ok := e.state.Users[o]; ok {
				ou.QueueOutbidNotice(triple)
			}
		}
		logEntry := domain.BidLogEntry{
			Username: username, Day: p.day, Slot: p.slot, Gpu: p.gpu,
			Price: p.newPrice, Timestamp: now,
		}
		e.state.AppendBidLog(logEntry)
		e.archiveBidLocked(logEntry)
	}

	return e.persistLocked()
}

func floor(f float64) float64 { return math.Floor(f) }

// UndoInput identifies the prior state a bid should revert to.
type UndoInput struct {
	Day            string
	Slot           string
	Gpu            int
	PreviousWinner *string
	PreviousPrice  int
}

// Undo reverts the caller's most recent bid on a (day, slot, gpu) entry.
func (e *Engine) Undo(username string, in UndoInput) error {
	target := slotTarget(in.Day, in.Slot, in.Gpu)
	return e.withSlotsAndState([]locks.Target{target}, func() error {
		return e.undoLocked(username, in)
	})
}

func (e *Engine) undoLocked(username string, in UndoInput) error {
	day, err := e.dayLocked(in.Day)
	if err != nil {
		return err
	}
	if day.Status != domain.DayOpen {
		return domain.ErrDayNotOpen
	}
	slot, err := e.slotLocked(day, in.Slot)
	if err != nil {
		return err
	}
	entry, err := e.entryLocked(slot, in.Gpu)
	if err != nil {
		return err
	}
	if entry.Winner == nil || *entry.Winner != username {
		return domain.ErrNotOwner
	}
	// Undo is only permitted when it restores an empty slot or the caller's
	// own prior ownership. A previous_winner naming a third party means the
	// caller's bid outbid someone else, and undo must not reinstate them.
	if in.PreviousWinner != nil && *in.PreviousWinner != username {
		return domain.ErrUndoConflict
	}

	if len(entry.Bids) > 0 && entry.Bids[len(entry.Bids)-1].Username == username {
		entry.Bids = entry.Bids[:len(entry.Bids)-1]
	}
	entry.Price = in.PreviousPrice
	entry.Winner = in.PreviousWinner

	return e.persistLocked()
}

// DismissOutbidNotices clears username's queued outbid notices for dayKey.
func (e *Engine) DismissOutbidNotices(username, dayKey string) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	u.DismissOutbidByDay(dayKey)
	return e.persistLocked()
}

package engine

import (
	"testing"
	"time"

	"github.com/gpuauction/auctiond/internal/calendar"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/ledger"
)

type memStore struct{ saves int }

func (m *memStore) Save(*domain.State) error {
	m.saves++
	return nil
}

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func() time.Time { return t })
}

func newTestEngine(t *testing.T) (*Engine, *domain.State) {
	t.Helper()
	state := domain.NewState()
	state.Users["alice"] = &domain.User{Username: "alice", Balance: 100, DailyBudget: 50, Enabled: true}
	state.Users["bob"] = &domain.User{Username: "bob", Balance: 100, DailyBudget: 50, Enabled: true}

	day := &domain.Day{DayStart: "2026-01-02", Status: domain.DayOpen, Slots: map[string]*domain.Slot{}}
	day.Slots["2026-01-02T09:00"] = domain.NewSlot()
	day.Slots["2026-01-02T10:00"] = domain.NewSlot()
	state.Days["2026-01-02"] = day

	cal := calendar.New()
	e := New(state, &memStore{}, fixedClock(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)), cal)
	return e, state
}

func TestBid_RaisesPriceAndSetsWinner(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Bid("alice", BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	entry := e.state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Price != 1 || entry.Winner == nil || *entry.Winner != "alice" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestBid_QueuesOutbidNotice(t *testing.T) {
	e, _ := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	if err := e.Bid("alice", in); err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	if err := e.Bid("bob", in); err != nil {
		t.Fatalf("bob bid: %v", err)
	}
	alice := e.state.Users["alice"]
	if len(alice.OutbidQueue) != 1 {
		t.Fatalf("alice.OutbidQueue = %v", alice.OutbidQueue)
	}
}

func TestBid_RejectsOnDayNotOpen(t *testing.T) {
	e, state := newTestEngine(t)
	state.Days["2026-01-02"].Status = domain.DayExecuting
	err := e.Bid("alice", BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0})
	if err != domain.ErrDayNotOpen {
		t.Fatalf("err = %v, want ErrDayNotOpen", err)
	}
}

func TestBid_RejectsReservedSlot(t *testing.T) {
	e, state := newTestEngine(t)
	state.Policy.ReservedSlots["2026-01-02"] = map[string]bool{
		domain.ReservedKey("2026-01-02T09:00", 0): true,
	}
	err := e.Bid("alice", BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0})
	if err != domain.ErrSlotReserved {
		t.Fatalf("err = %v, want ErrSlotReserved", err)
	}
}

func TestBid_RejectsInsufficientCredit(t *testing.T) {
	e, state := newTestEngine(t)
	state.Users["alice"].Balance = 0
	err := e.Bid("alice", BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0})
	if err != domain.ErrInsufficientCredit {
		t.Fatalf("err = %v, want ErrInsufficientCredit", err)
	}
}

func TestBulkBid_AllOrNothing(t *testing.T) {
	e, state := newTestEngine(t)
	state.Users["alice"].Balance = 1 // can afford exactly one +1 bid, not two

	ins := []BidInput{
		{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0},
		{Day: "2026-01-02", Slot: "2026-01-02T10:00", Gpu: 0},
	}
	err := e.BulkBid("alice", ins)
	if err != domain.ErrInsufficientCredit {
		t.Fatalf("err = %v, want ErrInsufficientCredit", err)
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Winner != nil {
		t.Fatalf("expected no partial application, got %+v", entry)
	}
}

func TestBulkBid_AppliesAllOnSuccess(t *testing.T) {
	e, state := newTestEngine(t)
	ins := []BidInput{
		{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0},
		{Day: "2026-01-02", Slot: "2026-01-02T10:00", Gpu: 1},
	}
	if err := e.BulkBid("alice", ins); err != nil {
		t.Fatalf("BulkBid: %v", err)
	}
	if w := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0].Winner; w == nil || *w != "alice" {
		t.Error("first entry not won")
	}
	if w := state.Days["2026-01-02"].Slots["2026-01-02T10:00"].GpuPrices[1].Winner; w == nil || *w != "alice" {
		t.Error("second entry not won")
	}
}

func TestBid_AscendingSequenceTracksWinner(t *testing.T) {
	e, state := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	for _, u := range []string{"alice", "bob", "alice"} {
		if err := e.Bid(u, in); err != nil {
			t.Fatalf("Bid(%s): %v", u, err)
		}
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if len(entry.Bids) != 3 {
		t.Fatalf("len(Bids) = %d, want 3", len(entry.Bids))
	}
	for i, b := range entry.Bids {
		if b.Price != i+1 {
			t.Errorf("Bids[%d].Price = %d, want %d", i, b.Price, i+1)
		}
	}
	last := entry.Bids[len(entry.Bids)-1]
	if entry.Winner == nil || last.Username != *entry.Winner || last.Price != entry.Price {
		t.Errorf("last bid %+v does not match entry winner=%v price=%d", last, entry.Winner, entry.Price)
	}
}

func TestBulkBid_DuplicateTargetsCollapseToOneBid(t *testing.T) {
	e, state := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	if err := e.BulkBid("alice", []BidInput{in, in, in}); err != nil {
		t.Fatalf("BulkBid: %v", err)
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Price != 1 || len(entry.Bids) != 1 {
		t.Fatalf("duplicates not collapsed: price=%d bids=%d", entry.Price, len(entry.Bids))
	}
}

func TestUndo_RestoresToEmptySlot(t *testing.T) {
	e, state := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	e.Bid("alice", in)

	err := e.Undo("alice", UndoInput{Day: in.Day, Slot: in.Slot, Gpu: in.Gpu, PreviousWinner: nil, PreviousPrice: 0})
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Winner != nil || entry.Price != 0 {
		t.Fatalf("entry after undo = %+v", entry)
	}
}

func TestUndo_RestoresOwnPriorBid(t *testing.T) {
	e, state := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	e.Bid("alice", in)
	e.Bid("alice", in)

	err := e.Undo("alice", UndoInput{Day: in.Day, Slot: in.Slot, Gpu: in.Gpu, PreviousWinner: strPtr("alice"), PreviousPrice: 1})
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Winner == nil || *entry.Winner != "alice" || entry.Price != 1 {
		t.Fatalf("entry after undo = %+v", entry)
	}
}

// TestUndo_RejectsThirdPartyConflict covers scenario S6: bob outbids alice,
// then tries to undo claiming alice as the previous winner. Undo must
// reject reinstating a third party regardless of whether the claim is
// historically accurate.
func TestUndo_RejectsThirdPartyConflict(t *testing.T) {
	e, state := newTestEngine(t)
	in := BidInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}
	e.Bid("alice", in)
	e.Bid("bob", in)

	err := e.Undo("bob", UndoInput{Day: in.Day, Slot: in.Slot, Gpu: in.Gpu, PreviousWinner: strPtr("alice"), PreviousPrice: 1})
	if err != domain.ErrUndoConflict {
		t.Fatalf("err = %v, want ErrUndoConflict", err)
	}
	entry := state.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Winner == nil || *entry.Winner != "bob" || entry.Price != 2 {
		t.Fatalf("entry changed by rejected undo = %+v", entry)
	}

	err = e.Undo("bob", UndoInput{Day: in.Day, Slot: in.Slot, Gpu: in.Gpu, PreviousWinner: strPtr("carol"), PreviousPrice: 1})
	if err != domain.ErrUndoConflict {
		t.Fatalf("err = %v, want ErrUndoConflict", err)
	}
}

func strPtr(s string) *string { return &s }

func TestRelease_HalfRefund(t *testing.T) {
	e, state := newTestEngine(t)
	day := state.Days["2026-01-02"]
	day.Status = domain.DayExecuting
	winner := "alice"
	day.Slots["2026-01-02T09:00"].GpuPrices[0] = domain.GpuEntry{Gpu: 0, Price: 9, Winner: &winner}
	state.Users["alice"].Balance = 0

	e.clock = fixedClock(time.Date(2026, 1, 2, 6, 0, 0, 0, e.cal.Zone()))

	refund, err := e.Release("alice", ReleaseInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if refund != 4.5 {
		t.Errorf("refund = %v, want 4.5", refund)
	}
	entry := day.Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.Winner != nil || entry.Price != 0 || len(entry.Bids) != 0 {
		t.Errorf("entry after release = %+v, want empty", entry)
	}
	if state.Users["alice"].Balance != 4.5 {
		t.Errorf("Balance = %v, want 4.5", state.Users["alice"].Balance)
	}
}

func TestRelease_RejectsTooLate(t *testing.T) {
	e, state := newTestEngine(t)
	day := state.Days["2026-01-02"]
	day.Status = domain.DayExecuting
	winner := "alice"
	day.Slots["2026-01-02T09:00"].GpuPrices[0] = domain.GpuEntry{Gpu: 0, Price: 9, Winner: &winner}

	e.clock = fixedClock(time.Date(2026, 1, 2, 9, 30, 0, 0, e.cal.Zone()))
	_, err := e.Release("alice", ReleaseInput{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0})
	if err != domain.ErrTooLateToRelease {
		t.Fatalf("err = %v, want ErrTooLateToRelease", err)
	}
}

func TestRelease_AcceptedAtExactlyOneHourAhead(t *testing.T) {
	e, state := newTestEngine(t)
	day := state.Days["2026-01-02"]
	day.Status = domain.DayExecuting
	winner := "alice"
	day.Slots["2026-01-02T10:00"].GpuPrices[0] = domain.GpuEntry{Gpu: 0, Price: 2, Winner: &winner}

	// slot_start == floor(now, hour) + 1h is the earliest allowed boundary
	e.clock = fixedClock(time.Date(2026, 1, 2, 9, 45, 0, 0, e.cal.Zone()))
	if _, err := e.Release("alice", ReleaseInput{Day: "2026-01-02", Slot: "2026-01-02T10:00", Gpu: 0}); err != nil {
		t.Fatalf("Release at exactly +1h boundary: %v", err)
	}
}

func TestBulkRelease_SkipsInvalidSilently(t *testing.T) {
	e, state := newTestEngine(t)
	day := state.Days["2026-01-02"]
	day.Status = domain.DayExecuting
	alice := "alice"
	bob := "bob"
	day.Slots["2026-01-02T09:00"].GpuPrices[0] = domain.GpuEntry{Gpu: 0, Price: 4, Winner: &alice}
	day.Slots["2026-01-02T10:00"].GpuPrices[1] = domain.GpuEntry{Gpu: 1, Price: 9, Winner: &bob}

	e.clock = fixedClock(time.Date(2026, 1, 2, 0, 0, 0, 0, e.cal.Zone()))
	released, refund, err := e.BulkRelease("alice", []ReleaseInput{
		{Day: "2026-01-02", Slot: "2026-01-02T09:00", Gpu: 0}, // alice's own — released
		{Day: "2026-01-02", Slot: "2026-01-02T10:00", Gpu: 1}, // bob's — skipped
	})
	if err != nil {
		t.Fatalf("BulkRelease: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	if refund != ledger.BulkReleaseRefund {
		t.Errorf("refund = %v, want %v", refund, ledger.BulkReleaseRefund)
	}
	if w := day.Slots["2026-01-02T10:00"].GpuPrices[1].Winner; w == nil || *w != "bob" {
		t.Errorf("bob's entry touched by a skipped release: winner = %v", w)
	}
}

func TestUpdateSystemState_CreatesOpenWindow(t *testing.T) {
	e, state := newTestEngine(t)
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState: %v", err)
	}
	openCount := 0
	for _, d := range state.Days {
		if d.Status == domain.DayOpen {
			openCount++
		}
	}
	if openCount != domain.OpenDayWindow {
		t.Errorf("open day count = %d, want %d", openCount, domain.OpenDayWindow)
	}
}

func TestAdvanceDayCycle_ChargesAndCredits(t *testing.T) {
	e, state := newTestEngine(t)
	e.UpdateSystemState()

	exec := e.executingDayLocked2(t)
	open := e.earliestOpenDayLocked2(t)
	winner := "alice"
	for _, slot := range open.Slots {
		slot.GpuPrices[0].Winner = &winner
		slot.GpuPrices[0].Price = 4
		break
	}

	before := state.Users["alice"].Balance
	e.clock = fixedClock(mustDayClose(t, e, exec.DayStart).Add(time.Second))
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState: %v", err)
	}
	after := state.Users["alice"].Balance
	if after != before-4+50 {
		t.Errorf("balance after rollover = %v, want %v", after, before-4+50)
	}
	if exec.Status != domain.DayFinal {
		t.Errorf("exec.Status = %v, want final", exec.Status)
	}
}

func mustDayClose(t *testing.T, e *Engine, dayKey string) time.Time {
	t.Helper()
	c, err := e.cal.DayClose(dayKey, e.state.Config.TransitionHour)
	if err != nil {
		t.Fatalf("DayClose: %v", err)
	}
	return c
}

// executingDayLocked2/earliestOpenDayLocked2 are test-only wrappers that
// take the state lock before calling the package-private *Locked helpers,
// mirroring how a real caller would reach them via an exported method.
func (e *Engine) executingDayLocked2(t *testing.T) *domain.Day {
	t.Helper()
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return e.executingDayLocked()
}

func (e *Engine) earliestOpenDayLocked2(t *testing.T) *domain.Day {
	t.Helper()
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return e.earliestOpenDayLocked()
}

func TestUpdateSystemState_SecondCallWithSameNowIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState: %v", err)
	}
	e.clock = fixedClock(mustDayClose(t, e, e.executingDayLocked2(t).DayStart).Add(time.Second))
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState (advance): %v", err)
	}
	advancesAfterFirst := e.DayAdvanceTotal()
	execAfterFirst := e.executingDayLocked2(t).DayStart

	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState (repeat): %v", err)
	}
	if e.DayAdvanceTotal() != advancesAfterFirst {
		t.Errorf("advance count changed on repeat: %d -> %d", advancesAfterFirst, e.DayAdvanceTotal())
	}
	if got := e.executingDayLocked2(t).DayStart; got != execAfterFirst {
		t.Errorf("executing day changed on repeat: %s -> %s", execAfterFirst, got)
	}
}

func TestUpdateSystemState_CatchUpCappedAtTenAdvances(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState: %v", err)
	}
	start, err := e.cal.DayStart(e.executingDayLocked2(t).DayStart, 0)
	if err != nil {
		t.Fatalf("DayStart: %v", err)
	}

	e.clock = fixedClock(start.AddDate(0, 0, 12).Add(time.Hour))
	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState (catch-up): %v", err)
	}
	if got := e.DayAdvanceTotal(); got != MaxCatchUpIterations {
		t.Fatalf("advances after one call = %d, want %d", got, MaxCatchUpIterations)
	}

	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState (second catch-up): %v", err)
	}
	if got := e.DayAdvanceTotal(); got != 12 {
		t.Fatalf("advances after second call = %d, want 12", got)
	}
}

func TestIngestTelemetry_IncrementsSamplesAndLiveView(t *testing.T) {
	e, state := newTestEngine(t)
	e.clock = fixedClock(time.Date(2026, 1, 2, 9, 15, 0, 0, e.cal.Zone()))

	_, err := e.IngestTelemetry(TelemetryPayload{Usage: map[int][]string{0: {"alice", ""}}})
	if err != nil {
		t.Fatalf("IngestTelemetry: %v", err)
	}
	if got := state.GPUUsageTracking.LiveGPUUsage[0]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("LiveGPUUsage[0] = %v", got)
	}
	samples := state.GPUUsageTracking.Samples["2026-01-02"]["2026-01-02T09:00"][0]
	if samples["alice"] != 1 {
		t.Errorf("samples[alice] = %d, want 1", samples["alice"])
	}
}

func TestIngestTelemetry_SkewWarning(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Date(2026, 1, 2, 9, 15, 0, 0, e.cal.Zone())
	e.clock = fixedClock(now)
	stale := now.Add(-10 * time.Minute)

	warning, err := e.IngestTelemetry(TelemetryPayload{Timestamp: &stale, Usage: map[int][]string{0: {"alice"}}})
	if err != nil {
		t.Fatalf("IngestTelemetry: %v", err)
	}
	if warning == nil {
		t.Fatal("expected skew warning")
	}
}

// TestUpdateSystemState_FinalizesPastGPUSlots covers scenario S4: once a
// slot's hour has closed, UpdateSystemState (the entry point every
// externally triggered request runs first) must write actual_user from
// telemetry samples without requiring another telemetry poll to land
// afterward.
func TestUpdateSystemState_FinalizesPastGPUSlots(t *testing.T) {
	e, state := newTestEngine(t)
	day := state.Days["2026-01-02"]
	day.Status = domain.DayExecuting

	state.GPUUsageTracking.Samples["2026-01-02"] = map[string]map[int]map[string]int{
		"2026-01-02T09:00": {0: {"alice": 3, "bob": 1}},
	}
	e.clock = fixedClock(time.Date(2026, 1, 2, 11, 0, 0, 0, e.cal.Zone()))

	if err := e.UpdateSystemState(); err != nil {
		t.Fatalf("UpdateSystemState: %v", err)
	}
	entry := day.Slots["2026-01-02T09:00"].GpuPrices[0]
	if entry.ActualUser == nil || *entry.ActualUser != "alice" {
		t.Fatalf("ActualUser = %v, want alice", entry.ActualUser)
	}
}

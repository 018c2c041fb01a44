package engine

import (
	"sort"
	"strconv"
	"time"

	"github.com/gpuauction/auctiond/internal/domain"
)

// DaySummary is one entry in the Overview day list.
type DaySummary struct {
	DayKey           string
	Status           domain.DayStatus
	OpenAt, CloseAt  time.Time
	HasNotifications bool
}

// Overview is the top-level dashboard projection.
type Overview struct {
	Days    []DaySummary
	Balance int
	Policy  domain.Policy
}

// Overview returns the current day plus the six open days, annotated for
// username.
func (e *Engine) Overview(username string) (Overview, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()

	u, err := e.userLocked(username)
	if err != nil {
		return Overview{}, err
	}

	var days []*domain.Day
	for _, d := range e.state.Days {
		if d.Status == domain.DayExecuting || d.Status == domain.DayOpen {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].DayStart < days[j].DayStart })

	out := Overview{Policy: e.state.Policy, Balance: u.FloorBalance()}
	for _, d := range days {
		openAt, _ := e.cal.DayStart(d.DayStart, e.state.Config.TransitionHour)
		closeAt, _ := e.cal.DayClose(d.DayStart, e.state.Config.TransitionHour)
		hasNotice := false
		prefix := d.DayStart + "|"
		for _, n := range u.OutbidQueue {
			if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
				hasNotice = true
				break
			}
		}
		out.Days = append(out.Days, DaySummary{
			DayKey: d.DayStart, Status: d.Status, OpenAt: openAt, CloseAt: closeAt,
			HasNotifications: hasNotice,
		})
	}
	return out, nil
}

// GridRow is one slot's row of the day grid, one cell per GPU.
type GridRow struct {
	SlotKey string
	Entries [domain.NumGPUs]GridCell
}

// GridCell is one (slot, gpu) cell of the day grid.
type GridCell struct {
	Price                int
	Winner               *string
	ActualUser           *string
	Status               string // open | locked | reserved
	IsMine               bool
	HasBid               bool
	CanRelease           bool
	LiveUsers            []string
	MostFrequentUser     *string
	MostFrequentNonOwner *string
	IsCurrentHour        bool
}

// DayGrid returns the 24-row, NumGPUs-wide projection of one day.
func (e *Engine) DayGrid(username, dayKey string) ([]GridRow, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()

	day, err := e.dayLocked(dayKey)
	if err != nil {
		return nil, err
	}

	keys, err := e.cal.SlotKeysForDay(dayKey, e.state.Config.TransitionHour)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	flooredHour := now.Truncate(time.Hour)
	samples := e.state.GPUUsageTracking.Samples[dayKey]

	rows := make([]GridRow, len(keys))
	for i, slotKey := range keys {
		rows[i].SlotKey = slotKey
		slot, ok := day.Slots[slotKey]
		slotStart, _ := time.ParseInLocation("2006-01-02T15:04", slotKey, e.cal.Zone())
		isCurrentHour := slotStart.Equal(flooredHour)

		for gpu := 0; gpu < domain.NumGPUs; gpu++ {
			cell := GridCell{IsCurrentHour: isCurrentHour}
			if !ok {
				rows[i].Entries[gpu] = cell
				continue
			}
			entry := slot.GpuPrices[gpu]
			cell.Price = entry.Price
			cell.Winner = entry.Winner
			cell.ActualUser = entry.ActualUser
			cell.IsMine = entry.Winner != nil && *entry.Winner == username
			for _, b := range entry.Bids {
				if b.Username == username {
					cell.HasBid = true
					break
				}
			}

			switch {
			case e.state.Policy.IsReserved(dayKey, slotKey, gpu):
				cell.Status = "reserved"
			case day.Status != domain.DayOpen:
				cell.Status = "locked"
			default:
				cell.Status = "open"
			}

			cell.CanRelease = cell.IsMine && day.Status == domain.DayExecuting &&
				e.checkReleasable(day, ReleaseInput{Day: dayKey, Slot: slotKey, Gpu: gpu}) == nil

			if isCurrentHour {
				cell.LiveUsers = e.state.GPUUsageTracking.LiveGPUUsage[gpu]
			}
			if counts, ok := samples[slotKey]; ok {
				if c, ok := counts[gpu]; ok {
					mf := argmaxFirstSeen(c, entry.Bids)
					if mf != "" {
						cell.MostFrequentUser = &mf
					}
					mfNonOwner := argmaxExcluding(c, entry.Bids, entry.Winner)
					if mfNonOwner != "" {
						cell.MostFrequentNonOwner = &mfNonOwner
					}
				}
			}
			rows[i].Entries[gpu] = cell
		}
	}
	return rows, nil
}

func argmaxExcluding(counts map[string]int, bids []domain.BidRecord, exclude *string) string {
	filtered := make(map[string]int, len(counts))
	for u, c := range counts {
		if exclude != nil && u == *exclude {
			continue
		}
		filtered[u] = c
	}
	if len(filtered) == 0 {
		return ""
	}
	return argmaxFirstSeen(filtered, bids)
}

// WonEntry is one won slot surfaced in MySummary.
type WonEntry struct {
	Day, Slot string
	Gpu       int
	Price     int
}

// MySummary lists every entry username currently holds across the
// executing day and all open days.
func (e *Engine) MySummary(username string) ([]WonEntry, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()

	var out []WonEntry
	for _, day := range e.state.Days {
		if day.Status != domain.DayExecuting && day.Status != domain.DayOpen {
			continue
		}
		for slotKey, slot := range day.Slots {
			for gpu, entry := range slot.GpuPrices {
				if entry.Winner != nil && *entry.Winner == username {
					out = append(out, WonEntry{Day: day.DayStart, Slot: slotKey, Gpu: gpu, Price: entry.Price})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}

// BidHistoryEntry annotates a bid log row with the entry's current outcome.
type BidHistoryEntry struct {
	domain.BidLogEntry
	Outcome string // leading | lost | open
}

// MyBids returns the most recent limit bid-log entries placed by username,
// newest first, annotated with their current outcome.
func (e *Engine) MyBids(username string, limit int) ([]BidHistoryEntry, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()

	var mine []domain.BidLogEntry
	for _, b := range e.state.BidLog {
		if b.Username == username {
			mine = append(mine, b)
		}
	}
	for i, j := 0, len(mine)-1; i < j; i, j = i+1, j-1 {
		mine[i], mine[j] = mine[j], mine[i]
	}
	if limit > 0 && len(mine) > limit {
		mine = mine[:limit]
	}

	out := make([]BidHistoryEntry, len(mine))
	for i, b := range mine {
		outcome := "lost"
		if day, ok := e.state.Days[b.Day]; ok {
			if slot, ok := day.Slots[b.Slot]; ok && b.Gpu >= 0 && b.Gpu < domain.NumGPUs {
				entry := slot.GpuPrices[b.Gpu]
				switch {
				case entry.Winner != nil && *entry.Winner == username:
					outcome = "leading"
				case day.Status == domain.DayOpen:
					outcome = "open"
				}
			}
		}
		out[i] = BidHistoryEntry{BidLogEntry: b, Outcome: outcome}
	}
	return out, nil
}

// ScheduleRow is one CSV row of the admin schedule export.
type ScheduleRow struct {
	SlotID   string
	GpuIndex int
	StartUTC time.Time
	EndUTC   time.Time
	Winner   string
	Price    int
}

// ExportSchedule returns every (slot, gpu) entry of dayKey as schedule-export
// rows, in slot/gpu order. Formatting the rows into CSV text is the
// transport layer's job (internal/api); this only produces the data.
func (e *Engine) ExportSchedule(dayKey string) ([]ScheduleRow, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()

	day, err := e.dayLocked(dayKey)
	if err != nil {
		return nil, err
	}
	keys, err := e.cal.SlotKeysForDay(dayKey, e.state.Config.TransitionHour)
	if err != nil {
		return nil, err
	}

	var out []ScheduleRow
	for _, slotKey := range keys {
		slot, ok := day.Slots[slotKey]
		if !ok {
			continue
		}
		start, err := time.ParseInLocation("2006-01-02T15:04", slotKey, e.cal.Zone())
		if err != nil {
			continue
		}
		for gpu := 0; gpu < domain.NumGPUs; gpu++ {
			entry := slot.GpuPrices[gpu]
			winner := ""
			if entry.Winner != nil {
				winner = *entry.Winner
			}
			out = append(out, ScheduleRow{
				SlotID:   slotKey + "_gpu" + strconv.Itoa(gpu),
				GpuIndex: gpu,
				StartUTC: start.UTC(),
				EndUTC:   start.Add(time.Hour).UTC(),
				Winner:   winner,
				Price:    entry.Price,
			})
		}
	}
	return out, nil
}

// MatchStatus classifies how a slot's winner compares to its telemetry-
// derived actual user.
type MatchStatus string

const (
	MatchEmpty    MatchStatus = "empty"    // nobody bid, nobody used it
	MatchSquatter MatchStatus = "squatter" // nobody bid, but usage was observed
	MatchNoShow   MatchStatus = "no_show"  // someone won, but no usage was observed
	MatchMatch    MatchStatus = "match"    // winner used the slot they won
	MatchMismatch MatchStatus = "mismatch" // someone else used the slot
)

// UsageRow is one CSV row of the admin usage export.
type UsageRow struct {
	ScheduleRow
	ActualUser  string
	MatchStatus MatchStatus
}

// ExportUsage returns ExportSchedule's rows annotated with each entry's
// telemetry-derived actual_user and match_status.
func (e *Engine) ExportUsage(dayKey string) ([]UsageRow, error) {
	e.locks.State.Lock()
	day, err := e.dayLocked(dayKey)
	if err != nil {
		e.locks.State.Unlock()
		return nil, err
	}
	actualUsers := make(map[string]*string, len(day.Slots)*domain.NumGPUs)
	for slotKey, slot := range day.Slots {
		for gpu := 0; gpu < domain.NumGPUs; gpu++ {
			key := slotKey + "_gpu" + strconv.Itoa(gpu)
			actualUsers[key] = slot.GpuPrices[gpu].ActualUser
		}
	}
	e.locks.State.Unlock()

	rows, err := e.ExportSchedule(dayKey)
	if err != nil {
		return nil, err
	}
	out := make([]UsageRow, len(rows))
	for i, r := range rows {
		actual := actualUsers[r.SlotID]
		actualStr := ""
		if actual != nil {
			actualStr = *actual
		}
		var status MatchStatus
		switch {
		case r.Winner == "" && actual == nil:
			status = MatchEmpty
		case r.Winner == "" && actual != nil:
			status = MatchSquatter
		case r.Winner != "" && actual == nil:
			status = MatchNoShow
		case r.Winner == actualStr:
			status = MatchMatch
		default:
			status = MatchMismatch
		}
		out[i] = UsageRow{ScheduleRow: r, ActualUser: actualStr, MatchStatus: status}
	}
	return out, nil
}

// HistoryDay is one final-status day in the History view.
type HistoryDay struct {
	DayKey string
	Grid   []GridRow
}

// History returns every final-status day and its day-grid.
func (e *Engine) History(username string) ([]HistoryDay, error) {
	e.locks.State.Lock()
	var finalKeys []string
	for key, d := range e.state.Days {
		if d.Status == domain.DayFinal {
			finalKeys = append(finalKeys, key)
		}
	}
	e.locks.State.Unlock()
	sort.Strings(finalKeys)

	out := make([]HistoryDay, 0, len(finalKeys))
	for _, key := range finalKeys {
		grid, err := e.DayGrid(username, key)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryDay{DayKey: key, Grid: grid})
	}
	return out, nil
}

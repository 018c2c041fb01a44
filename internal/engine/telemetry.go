package engine

import (
	"sort"
	"time"

	"github.com/gpuauction/auctiond/internal/calendar"
	"github.com/gpuauction/auctiond/internal/domain"
)

// MaxClockSkew is the threshold past which a telemetry payload's own
// timestamp disagrees enough with the server clock to warrant a log
// warning. It never rejects a payload — the server's own clock is always
// authoritative for bucketing.
const MaxClockSkew = 300 * time.Second

// SampleRetention bounds how far back finalizePastGPUSlotsLocked keeps sample
// histograms: a day's samples are dropped once the day starts more than this
// long before now, whether or not its slots have finalized.
const SampleRetention = 7 * 24 * time.Hour

// TelemetryPayload is one poll from the monitoring daemon.
type TelemetryPayload struct {
	Timestamp *time.Time
	Usage     map[int][]string // gpu index -> usernames observed using it
}

// SkewWarning is returned (alongside a nil error) when a payload's
// self-reported timestamp disagrees with server time by more than
// MaxClockSkew. It never blocks ingestion.
type SkewWarning struct {
	ServerNow, PayloadTime time.Time
	Delta                  time.Duration
}

// IngestTelemetry authenticates (at the transport layer) having already
// happened; this records a poll's live usage and increments per-hour
// sample counters for the (day, slot) the server's current time maps to.
func (e *Engine) IngestTelemetry(payload TelemetryPayload) (*SkewWarning, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return e.ingestTelemetryLocked(payload)
}

func (e *Engine) ingestTelemetryLocked(payload TelemetryPayload) (*SkewWarning, error) {
	now := e.clock.Now()
	var warning *SkewWarning
	if payload.Timestamp != nil {
		delta := now.Sub(*payload.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta > MaxClockSkew {
			warning = &SkewWarning{ServerNow: now, PayloadTime: *payload.Timestamp, Delta: delta}
		}
	}

	filtered := make(map[int][]string, len(payload.Usage))
	for gpu, users := range payload.Usage {
		var nonEmpty []string
		for _, u := range users {
			if u != "" {
				nonEmpty = append(nonEmpty, u)
			}
		}
		filtered[gpu] = nonEmpty
	}
	e.state.GPUUsageTracking.LiveGPUUsage = filtered
	t := now
	e.state.GPUUsageTracking.LiveTimestamp = &t

	dayKey := e.cal.DayKeyFor(now, e.state.Config.TransitionHour)
	local := now.In(e.cal.Zone())
	slotKey, err := e.cal.SlotKey(dayKey, e.state.Config.TransitionHour, currentLogicalHour(e.state.Config.TransitionHour, local))
	if err != nil {
		return warning, err
	}

	samples := e.state.GPUUsageTracking.Samples
	if samples[dayKey] == nil {
		samples[dayKey] = make(map[string]map[int]map[string]int)
	}
	if samples[dayKey][slotKey] == nil {
		samples[dayKey][slotKey] = make(map[int]map[string]int)
	}
	for gpu, users := range filtered {
		if len(users) == 0 {
			continue
		}
		if samples[dayKey][slotKey][gpu] == nil {
			samples[dayKey][slotKey][gpu] = make(map[string]int)
		}
		for _, u := range users {
			samples[dayKey][slotKey][gpu][u]++
		}
	}

	e.finalizePastGPUSlotsLocked()
	if err := e.persistLocked(); err != nil {
		return warning, err
	}
	return warning, nil
}

// LiveStatus returns the most recent telemetry poll's usage map and the
// instant it was recorded, for the unauthenticated /api/gpu-live-status
// view.
func (e *Engine) LiveStatus() (usage map[int][]string, ts *time.Time) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	out := make(map[int][]string, len(e.state.GPUUsageTracking.LiveGPUUsage))
	for gpu, users := range e.state.GPUUsageTracking.LiveGPUUsage {
		out[gpu] = append([]string(nil), users...)
	}
	return out, e.state.GPUUsageTracking.LiveTimestamp
}

// currentLogicalHour returns the logical hour (0..23) containing local,
// which must already be expressed in the calendar's zone.
func currentLogicalHour(transitionHour int, local time.Time) int {
	calHour := local.Hour()
	onCurrentDay := calHour >= transitionHour
	return calendar.CalendarToLogical(transitionHour, calHour, onCurrentDay)
}

// finalizePastGPUSlotsLocked writes actual_user for every GPU entry whose
// slot has fully elapsed and not yet been finalized, then prunes sample
// history older than SampleRetention. Reports whether anything was written.
func (e *Engine) finalizePastGPUSlotsLocked() (wrote bool) {
	now := e.clock.Now()
	flooredHour := now.Truncate(time.Hour)

	for dayKey, day := range e.state.Days {
		if day.Status != domain.DayExecuting && day.Status != domain.DayFinal {
			continue
		}
		for slotKey, slot := range day.Slots {
			slotStart, err := time.ParseInLocation("2006-01-02T15:04", slotKey, e.cal.Zone())
			if err != nil {
				continue
			}
			slotEnd := slotStart.Add(time.Hour)
			if slotEnd.After(flooredHour) {
				continue
			}
			samplesForSlot := e.state.GPUUsageTracking.Samples[dayKey][slotKey]
			for gpu := range slot.GpuPrices {
				entry := &slot.GpuPrices[gpu]
				if entry.ActualUser != nil {
					continue
				}
				counts, ok := samplesForSlot[gpu]
				if !ok || len(counts) == 0 {
					continue
				}
				winner := argmaxFirstSeen(counts, slot.GpuPrices[gpu].Bids)
				if winner != "" {
					entry.ActualUser = &winner
					wrote = true
				}
			}
		}
	}

	cutoff := now.Add(-SampleRetention)
	for dayKey := range e.state.GPUUsageTracking.Samples {
		dayTime, err := time.ParseInLocation(time.DateOnly, dayKey, e.cal.Zone())
		if err != nil {
			continue
		}
		if dayTime.Before(cutoff) {
			delete(e.state.GPUUsageTracking.Samples, dayKey)
			wrote = true
		}
	}

	return wrote
}

// argmaxFirstSeen returns the username with the highest sample count,
// breaking ties by first-seen order in bids (the order usernames were
// first observed for this entry). Users never seen in bids are ordered
// lexicographically so the result is stable across restarts — the sample
// histogram itself does not preserve observation order.
func argmaxFirstSeen(counts map[string]int, bids []domain.BidRecord) string {
	order := make([]string, 0, len(counts))
	seen := make(map[string]bool)
	for _, b := range bids {
		if counts[b.Username] > 0 && !seen[b.Username] {
			order = append(order, b.Username)
			seen[b.Username] = true
		}
	}
	rest := make([]string, 0, len(counts))
	for u := range counts {
		if !seen[u] {
			rest = append(rest, u)
			seen[u] = true
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	best := ""
	bestCount := -1
	for _, u := range order {
		if counts[u] > bestCount {
			best = u
			bestCount = counts[u]
		}
	}
	return best
}

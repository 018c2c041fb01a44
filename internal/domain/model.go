// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"strconv"
	"time"
)

// NumGPUs is the fixed size of the GPU pool scheduled by every slot.
const NumGPUs = 8

// Role distinguishes administrative users from ordinary bidders.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DayStatus is the lifecycle stage of a Day.
type DayStatus string

const (
	DayFuture    DayStatus = "future"
	DayOpen      DayStatus = "open"
	DayExecuting DayStatus = "executing"
	DayFinal     DayStatus = "final"
)

// OpenDayWindow is the number of open days maintained past the executing day.
const OpenDayWindow = 6

// BidLogCapacity bounds the global ring buffer of recent bids.
const BidLogCapacity = 500

// User holds one account's credentials, role, and credit state.
//
// LastRefillWeek and RolloverApplied are retained for backward compatibility
// with a prior weekly-rollover scheme; the daily-budget rule never
// reads them.
type User struct {
	Username        string    `json:"username"`
	PasswordSalt    string    `json:"password_salt"`
	PasswordHash    string    `json:"password_hash"`
	Role            Role      `json:"role"`
	DailyBudget     int       `json:"daily_budget"`
	Balance         float64   `json:"balance"`
	Enabled         bool      `json:"enabled"`
	LastLogin       time.Time `json:"last_login,omitempty"`
	OutbidQueue     []string  `json:"outbid_notification_queue"`
	LastRefillWeek  string    `json:"last_refill_week,omitempty"`
	RolloverApplied bool      `json:"rollover_applied,omitempty"`
}

// QueueOutbidNotice appends triple to the user's FIFO if not already present.
func (u *User) QueueOutbidNotice(triple string) {
	for _, t := range u.OutbidQueue {
		if t == triple {
			return
		}
	}
	u.OutbidQueue = append(u.OutbidQueue, triple)
}

// DismissOutbidByDay removes every queued triple whose day prefix matches dayKey.
func (u *User) DismissOutbidByDay(dayKey string) {
	prefix := dayKey + "|"
	out := u.OutbidQueue[:0]
	for _, t := range u.OutbidQueue {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			continue
		}
		out = append(out, t)
	}
	u.OutbidQueue = out
}

// FloorBalance returns the public, integer-floored balance.
func (u *User) FloorBalance() int {
	return int(u.Balance)
}

// BidRecord is one append-only entry in a GpuEntry's bid history.
type BidRecord struct {
	Username  string    `json:"username"`
	Price     int       `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// GpuEntry is one GPU within one Slot.
type GpuEntry struct {
	Gpu        int         `json:"gpu"`
	Price      int         `json:"price"`
	Winner     *string     `json:"winner,omitempty"`
	Bids       []BidRecord `json:"bids"`
	ActualUser *string     `json:"actual_user,omitempty"`
}

// Slot is one (logical day, calendar hour) pair, keyed "YYYY-MM-DDTHH:00".
type Slot struct {
	GpuPrices [NumGPUs]GpuEntry `json:"gpu_prices"`
}

// NewSlot returns a Slot with all GPU entries initialized to price 0, no winner.
func NewSlot() *Slot {
	s := &Slot{}
	for i := 0; i < NumGPUs; i++ {
		s.GpuPrices[i] = GpuEntry{Gpu: i}
	}
	return s
}

// Day is one 24-hour logical day, keyed by its start date "YYYY-MM-DD".
type Day struct {
	DayStart    string           `json:"day_start"`
	Status      DayStatus        `json:"status"`
	FinalizedAt *time.Time       `json:"finalized_at,omitempty"`
	Slots       map[string]*Slot `json:"slots"`
}

// BidLogEntry is one record in the global ring buffer of recent bids.
type BidLogEntry struct {
	Username  string    `json:"username"`
	Day       string    `json:"day"`
	Slot      string    `json:"slot"`
	Gpu       int       `json:"gpu"`
	Price     int       `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Policy holds admin-controlled bidding restrictions.
//
// HourlyGPUCap is persisted and editable via the admin API but is never
// enforced during bid admission; it is reserved for future use.
type Policy struct {
	HourlyGPUCap  *int                       `json:"hourly_gpu_cap,omitempty"`
	ReservedSlots map[string]map[string]bool `json:"reserved_slots"`
}

// IsReserved reports whether "<slotKey>_gpu<N>" is reserved on dayKey.
func (p *Policy) IsReserved(dayKey, slotKey string, gpu int) bool {
	if p.ReservedSlots == nil {
		return false
	}
	set, ok := p.ReservedSlots[dayKey]
	if !ok {
		return false
	}
	return set[ReservedKey(slotKey, gpu)]
}

// ReservedKey formats the reserved-slot set member for a (slot, gpu) pair.
func ReservedKey(slotKey string, gpu int) string {
	return slotKey + "_gpu" + strconv.Itoa(gpu)
}

// TelemetryState holds the monitoring-daemon ingestion state.
//
// LiveGPUUsage and LiveTimestamp are volatile — they represent only the
// in-progress current wall-clock hour and are never persisted. Samples is
// the derived, persisted per-hour histogram used to compute ActualUser:
// day key -> slot key -> gpu index -> username -> sample count. Go's JSON
// encoder renders the integer gpu-index map level as string keys on its
// own, matching the stringified-index shape the snapshot is expected to
// round-trip.
type TelemetryState struct {
	LiveGPUUsage  map[int][]string                             `json:"-"`
	LiveTimestamp *time.Time                                   `json:"-"`
	Samples       map[string]map[string]map[int]map[string]int `json:"samples"`
}

// NewTelemetryState returns an empty, initialized telemetry state.
func NewTelemetryState() TelemetryState {
	return TelemetryState{
		LiveGPUUsage: make(map[int][]string),
		Samples:      make(map[string]map[string]map[int]map[string]int),
	}
}

// Config holds the mutable, admin-editable system configuration.
type Config struct {
	TransitionHour int `json:"transition_hour"`
}

// DefaultConfig returns the default system configuration.
func DefaultConfig() Config {
	return Config{TransitionHour: 0}
}

// State is the whole authoritative, durable snapshot of the system.
type State struct {
	Users            map[string]*User `json:"users"`
	Days             map[string]*Day  `json:"days"`
	BidLog           []BidLogEntry    `json:"bid_log"`
	Policy           Policy           `json:"policy"`
	GPUUsageTracking TelemetryState   `json:"gpu_usage_tracking"`
	Config           Config           `json:"config"`
}

// NewState returns an empty, initialized State.
func NewState() *State {
	return &State{
		Users:            make(map[string]*User),
		Days:             make(map[string]*Day),
		Policy:           Policy{ReservedSlots: make(map[string]map[string]bool)},
		GPUUsageTracking: NewTelemetryState(),
		Config:           DefaultConfig(),
	}
}

// AppendBidLog appends a record, truncating to the most recent BidLogCapacity.
func (s *State) AppendBidLog(e BidLogEntry) {
	s.BidLog = append(s.BidLog, e)
	if len(s.BidLog) > BidLogCapacity {
		s.BidLog = s.BidLog[len(s.BidLog)-BidLogCapacity:]
	}
}

// Committed returns the sum of prices across all entries the user has won
// across every open day.
func (s *State) Committed(username string) int {
	total := 0
	for _, day := range s.Days {
		if day.Status != DayOpen {
			continue
		}
		for _, slot := range day.Slots {
			for _, entry := range slot.GpuPrices {
				if entry.Winner != nil && *entry.Winner == username {
					total += entry.Price
				}
			}
		}
	}
	return total
}

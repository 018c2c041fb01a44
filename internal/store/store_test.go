package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gpuauction/auctiond/internal/domain"
)

func TestLoad_MissingFileReturnsFreshState(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Users == nil || state.Days == nil {
		t.Fatal("fresh state has nil maps")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	original := domain.NewState()
	original.Users["alice"] = &domain.User{Username: "alice", Balance: 42, DailyBudget: 50, Enabled: true}
	day := &domain.Day{DayStart: "2026-01-02", Status: domain.DayOpen, Slots: map[string]*domain.Slot{}}
	slot := domain.NewSlot()
	winner := "alice"
	slot.GpuPrices[3].Winner = &winner
	slot.GpuPrices[3].Price = 7
	day.Slots["2026-01-02T09:00"] = slot
	original.Days["2026-01-02"] = day
	original.GPUUsageTracking.Samples["2026-01-02"] = map[string]map[int]map[string]int{
		"2026-01-02T09:00": {3: {"alice": 12}},
	}

	if err := s.Save(original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Users["alice"].Balance != 42 {
		t.Errorf("Balance = %v, want 42", loaded.Users["alice"].Balance)
	}
	if got := loaded.Days["2026-01-02"].Slots["2026-01-02T09:00"].GpuPrices[3].Price; got != 7 {
		t.Errorf("Price = %d, want 7", got)
	}
	if got := loaded.GPUUsageTracking.Samples["2026-01-02"]["2026-01-02T09:00"][3]["alice"]; got != 12 {
		t.Errorf("Samples round-trip = %d, want 12", got)
	}
}

func TestSave_WritesNoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"))
	if err := s.Save(domain.NewState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("directory contains %v, want exactly [state.json]", entries)
	}
}

func TestLoad_MigratesWeeksToDays(t *testing.T) {
	legacy := []byte(`{
		"users": {},
		"weeks": {
			"2026-01-02": {
				"week_start": "2026-01-02",
				"status": "open",
				"slots": {}
			}
		},
		"bid_log": [],
		"policy": {"reserved_slots": {}},
		"gpu_usage_tracking": {"samples": {}},
		"config": {"transition_hour": 0}
	}`)
	path := filepath.Join(t.TempDir(), "legacy.json")
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := New(path)
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	day, ok := state.Days["2026-01-02"]
	if !ok {
		t.Fatal("migrated state missing day 2026-01-02")
	}
	if day.DayStart != "2026-01-02" {
		t.Errorf("DayStart = %q, want 2026-01-02 (week_start not renamed)", day.DayStart)
	}
}

func TestLoad_RejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := New(path)
	if _, err := s.Load(); err == nil {
		t.Fatal("expected error loading malformed snapshot")
	}
}

func TestMigrate_PassesThroughCurrentSchema(t *testing.T) {
	current := []byte(`{"users":{},"days":{"2026-01-02":{"day_start":"2026-01-02","status":"open","slots":{}}},"bid_log":[],"policy":{"reserved_slots":{}},"gpu_usage_tracking":{"samples":{}},"config":{"transition_hour":0}}`)
	out, err := migrate(current)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var got, want map[string]json.RawMessage
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if err := json.Unmarshal(current, &want); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if _, ok := got["days"]; !ok {
		t.Error("pass-through result missing days field")
	}
	if _, ok := got["weeks"]; ok {
		t.Error("pass-through result unexpectedly has weeks field")
	}
}

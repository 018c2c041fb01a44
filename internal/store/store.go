// Package store implements the whole-state durable snapshot: atomic
// write-temp-then-rename persistence plus the one-time weeks->days schema
// migration on load.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gpuauction/auctiond/internal/domain"
)

// Store owns the on-disk JSON snapshot at Path.
type Store struct {
	Path string
}

// New returns a Store writing its snapshot to path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Load reads the snapshot at Path, migrating it forward if it uses the
// legacy "weeks" field naming. If Path does not exist, Load returns a fresh
// domain.NewState() and a nil error — the daemon seeds a new installation
// this way rather than requiring an operator to prime an empty file.
func (s *Store) Load() (*domain.State, error) {
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return domain.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.Path, err)
	}

	migrated, err := migrate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreCorrupted, err)
	}

	var state domain.State
	if err := json.Unmarshal(migrated, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreCorrupted, err)
	}
	if state.Users == nil {
		state.Users = make(map[string]*domain.User)
	}
	if state.Days == nil {
		state.Days = make(map[string]*domain.Day)
	}
	if state.Policy.ReservedSlots == nil {
		state.Policy.ReservedSlots = make(map[string]map[string]bool)
	}
	if state.GPUUsageTracking.Samples == nil {
		state.GPUUsageTracking.Samples = make(map[string]map[string]map[int]map[string]int)
	}
	state.GPUUsageTracking.LiveGPUUsage = make(map[int][]string)
	return &state, nil
}

// Save serializes state to a temp file in Path's directory and renames it
// over Path, so readers never observe a partially written snapshot.
func (s *Store) Save(state *domain.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("store: rename temp file into place: %w", err)
	}
	return nil
}

// migrate rewrites a legacy snapshot (top-level "weeks" instead of "days",
// per-day "week_start" instead of "day_start") into the current schema. A
// snapshot already using "days" passes through untouched.
func migrate(raw []byte) ([]byte, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	weeks, hasWeeks := generic["weeks"]
	_, hasDays := generic["days"]
	if !hasWeeks || hasDays {
		return raw, nil
	}

	var days map[string]json.RawMessage
	if err := json.Unmarshal(weeks, &days); err != nil {
		return nil, fmt.Errorf("unmarshal legacy weeks field: %w", err)
	}
	for key, entry := range days {
		rewritten, err := renameWeekStart(entry)
		if err != nil {
			return nil, fmt.Errorf("migrate day %q: %w", key, err)
		}
		days[key] = rewritten
	}

	newDays, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("remarshal migrated days: %w", err)
	}
	delete(generic, "weeks")
	generic["days"] = newDays

	return json.Marshal(generic)
}

// renameWeekStart rewrites a single day object's "week_start" field to
// "day_start", leaving every other field untouched.
func renameWeekStart(entry json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil, err
	}
	if v, ok := fields["week_start"]; ok {
		fields["day_start"] = v
		delete(fields, "week_start")
	}
	return json.Marshal(fields)
}

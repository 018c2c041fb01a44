// Package sqlite is the secondary, long-lived archive for days and bids
// pruned from (or still live in) the JSON durable snapshot. The live state
// is always the store.Store snapshot; this package only ever accumulates a
// history a deployment can query and export after the fact.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gpuauction/auctiond/internal/domain"
)

// DB wraps the archive connection.
type DB struct {
	db *sql.DB
}

// migrations returns the archive schema migration statements. Each string
// is a single SQL statement (SQLite executes one at a time).
func migrations() []string {
	return []string{
		// One row per day ever finalized, snapshotted as the JSON it looked
		// like at finalization time so historical slot/bid detail survives
		// even after the day is pruned from the live state.
		`CREATE TABLE IF NOT EXISTS archived_days (
			day_key      TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			finalized_at TEXT,
			payload_json TEXT NOT NULL,
			archived_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Append-only mirror of the global bid log, unbounded (unlike the
		// in-memory 500-entry ring buffer).
		`CREATE TABLE IF NOT EXISTS archived_bids (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			username   TEXT NOT NULL,
			day_key    TEXT NOT NULL,
			slot_key   TEXT NOT NULL,
			gpu        INTEGER NOT NULL,
			price      INTEGER NOT NULL,
			ts         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_bids_username ON archived_bids(username)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_bids_day ON archived_bids(day_key)`,

		// Append-only credit audit trail: one row per balance-affecting
		// event (charge, daily budget, release refunds).
		`CREATE TABLE IF NOT EXISTS ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			tx_type     TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			account     TEXT NOT NULL,
			amount      REAL NOT NULL,
			day_key     TEXT,
			description TEXT,
			balance     REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger(account)`,
	}
}

// Open opens (creating if necessary) the archive database at path and
// applies any pending schema migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db := &DB{db: conn}
	for _, stmt := range migrations() {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// ArchiveDay upserts a day's full JSON snapshot, implementing
// domain.HistoryArchive. Called once a day transitions to final.
func (db *DB) ArchiveDay(day *domain.Day) error {
	payload, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("sqlite: marshal day %s: %w", day.DayStart, err)
	}
	var finalizedAt *string
	if day.FinalizedAt != nil {
		s := day.FinalizedAt.Format(time.RFC3339)
		finalizedAt = &s
	}
	_, err = db.db.Exec(`
		INSERT INTO archived_days (day_key, status, finalized_at, payload_json, archived_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(day_key) DO UPDATE SET
			status       = excluded.status,
			finalized_at = excluded.finalized_at,
			payload_json = excluded.payload_json,
			archived_at  = datetime('now')
	`, day.DayStart, string(day.Status), finalizedAt, string(payload))
	return err
}

// ArchiveBid appends one bid-log row, implementing domain.HistoryArchive.
func (db *DB) ArchiveBid(e domain.BidLogEntry) error {
	_, err := db.db.Exec(`
		INSERT INTO archived_bids (username, day_key, slot_key, gpu, price, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Username, e.Day, e.Slot, e.Gpu, e.Price, e.Timestamp.Format(time.RFC3339))
	return err
}

// ArchiveLedger appends a batch of credit-ledger rows in one transaction,
// implementing domain.HistoryArchive.
func (db *DB) ArchiveLedger(entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin ledger batch: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO ledger (ts, tx_type, entry_type, account, amount, day_key, description, balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.Timestamp.Format(time.RFC3339), string(e.Type), string(e.EntryType), e.Account, e.Amount, e.DayKey, e.Description, e.Balance); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: insert ledger row: %w", err)
		}
	}
	return tx.Commit()
}

// LedgerForAccount returns the archived credit history for account, most
// recent first, capped at limit rows (0 means unlimited).
func (db *DB) LedgerForAccount(account string, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ts, tx_type, entry_type, account, amount, day_key, description, balance FROM ledger WHERE account = ? ORDER BY id DESC`
	args := []any{account}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query ledger for %s: %w", account, err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts string
		if err := rows.Scan(&ts, &e.Type, &e.EntryType, &e.Account, &e.Amount, &e.DayKey, &e.Description, &e.Balance); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetArchivedDay returns a previously archived day by key, or nil if none
// was ever archived under that key.
func (db *DB) GetArchivedDay(dayKey string) (*domain.Day, error) {
	var payload string
	err := db.db.QueryRow(`SELECT payload_json FROM archived_days WHERE day_key = ?`, dayKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query archived day %s: %w", dayKey, err)
	}
	var day domain.Day
	if err := json.Unmarshal([]byte(payload), &day); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal archived day %s: %w", dayKey, err)
	}
	return &day, nil
}

// BidsForUser returns the archived bid history for username, most recent
// first, capped at limit rows (0 means unlimited).
func (db *DB) BidsForUser(username string, limit int) ([]domain.BidLogEntry, error) {
	query := `SELECT username, day_key, slot_key, gpu, price, ts FROM archived_bids WHERE username = ? ORDER BY id DESC`
	args := []any{username}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query bids for %s: %w", username, err)
	}
	defer rows.Close()

	var out []domain.BidLogEntry
	for rows.Next() {
		var e domain.BidLogEntry
		var ts string
		if err := rows.Scan(&e.Username, &e.Day, &e.Slot, &e.Gpu, &e.Price, &ts); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

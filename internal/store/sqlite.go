package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS run_locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS key_usage (
	day      TEXT NOT NULL,
	key_name TEXT NOT NULL,
	count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, key_name)
);

CREATE TABLE IF NOT EXISTS call_slots (
	name    TEXT PRIMARY KEY,
	slot_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inflight_rows (
	sheet       TEXT NOT NULL,
	row_id      INTEGER NOT NULL,
	prev_status TEXT NOT NULL DEFAULT '',
	marked_ms   INTEGER NOT NULL,
	PRIMARY KEY (sheet, row_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	sheet   TEXT NOT NULL,
	marker  TEXT NOT NULL,
	sent_ms INTEGER NOT NULL,
	PRIMARY KEY (sheet, marker)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	var got string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO run_locks (name, owner, expires_ms) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_ms = excluded.expires_ms
		 WHERE run_locks.expires_ms <= ? OR run_locks.owner = excluded.owner
		 RETURNING owner`,
		name, owner, now+ttl.Milliseconds(), now,
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lock %s", name)
	}
	return got == owner, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE name = ? AND owner = ?`, name, owner,
	)
	return eris.Wrapf(err, "sqlite: release lock %s", name)
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, day, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO key_usage (day, key_name, count) VALUES (?, ?, 1)
		 ON CONFLICT(day, key_name) DO UPDATE SET count = key_usage.count + 1
		 RETURNING count`,
		day, key,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment usage %s", key)
	}
	return n, nil
}

func (s *SQLiteStore) Usage(ctx context.Context, day, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM key_usage WHERE day = ? AND key_name = ?`, day, key,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: usage %s", key)
	}
	return n, nil
}

func (s *SQLiteStore) ListUsage(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_name, count FROM key_usage WHERE day = ? ORDER BY key_name`, day,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		out[key] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate usage")
}

func (s *SQLiteStore) ReserveCallSlot(ctx context.Context, name string, interval time.Duration, now time.Time) (time.Time, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO call_slots (name, slot_ms) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET slot_ms = max(excluded.slot_ms, call_slots.slot_ms + ?)
		 RETURNING slot_ms`,
		name, now.UnixMilli(), interval.Milliseconds(),
	).Scan(&slot)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: reserve call slot %s", name)
	}
	return time.UnixMilli(slot), nil
}

func (s *SQLiteStore) SaveInFlight(ctx context.Context, entry InFlightEntry) error {
	marked := entry.MarkedAt
	if marked.IsZero() {
		marked = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inflight_rows (sheet, row_id, prev_status, marked_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sheet, row_id) DO UPDATE SET prev_status = excluded.prev_status, marked_ms = excluded.marked_ms`,
		entry.Sheet, entry.RowID, entry.PrevStatus, marked.UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: save in-flight %s!%d", entry.Sheet, entry.RowID)
}

func (s *SQLiteStore) InFlight(ctx context.Context, sheet string, rowID int) (*InFlightEntry, error) {
	e := InFlightEntry{Sheet: sheet, RowID: rowID}
	var marked int64
	err := s.db.QueryRowContext(ctx,
		`SELECT prev_status, marked_ms FROM inflight_rows WHERE sheet = ? AND row_id = ?`,
		sheet, rowID,
	).Scan(&e.PrevStatus, &marked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get in-flight %s!%d", sheet, rowID)
	}
	e.MarkedAt = time.UnixMilli(marked)
	return &e, nil
}

func (s *SQLiteStore) ClearInFlight(ctx context.Context, sheet string, rowID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inflight_rows WHERE sheet = ? AND row_id = ?`, sheet, rowID,
	)
	return eris.Wrapf(err, "sqlite: clear in-flight %s!%d", sheet, rowID)
}

func (s *SQLiteStore) HasNotified(ctx context.Context, sheet, marker string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notifications WHERE sheet = ? AND marker = ?`, sheet, marker,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has notified %s", sheet)
	}
	return true, nil
}

func (s *SQLiteStore) RecordNotified(ctx context.Context, sheet, marker string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (sheet, marker, sent_ms) VALUES (?, ?, ?)
		 ON CONFLICT(sheet, marker) DO NOTHING`,
		sheet, marker, time.Now().UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: record notified %s", sheet)
}

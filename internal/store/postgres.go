package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments where
// several schedulers share one run state.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS run_locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS key_usage (
	day      TEXT NOT NULL,
	key_name TEXT NOT NULL,
	count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, key_name)
);

CREATE TABLE IF NOT EXISTS call_slots (
	name    TEXT PRIMARY KEY,
	slot_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS inflight_rows (
	sheet       TEXT NOT NULL,
	row_id      INTEGER NOT NULL,
	prev_status TEXT NOT NULL DEFAULT '',
	marked_ms   BIGINT NOT NULL,
	PRIMARY KEY (sheet, row_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	sheet   TEXT NOT NULL,
	marker  TEXT NOT NULL,
	sent_ms BIGINT NOT NULL,
	PRIMARY KEY (sheet, marker)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	var got string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_locks (name, owner, expires_ms) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_ms = EXCLUDED.expires_ms
		 WHERE run_locks.expires_ms <= $4 OR run_locks.owner = EXCLUDED.owner
		 RETURNING owner`,
		name, owner, now+ttl.Milliseconds(), now,
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lock %s", name)
	}
	return got == owner, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM run_locks WHERE name = $1 AND owner = $2`, name, owner,
	)
	return eris.Wrapf(err, "postgres: release lock %s", name)
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, day, key string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO key_usage (day, key_name, count) VALUES ($1, $2, 1)
		 ON CONFLICT (day, key_name) DO UPDATE SET count = key_usage.count + 1
		 RETURNING count`,
		day, key,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: increment usage %s", key)
	}
	return n, nil
}

func (s *PostgresStore) Usage(ctx context.Context, day, key string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM key_usage WHERE day = $1 AND key_name = $2`, day, key,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: usage %s", key)
	}
	return n, nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key_name, count FROM key_usage WHERE day = $1 ORDER BY key_name`, day,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		out[key] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate usage")
}

func (s *PostgresStore) ReserveCallSlot(ctx context.Context, name string, interval time.Duration, now time.Time) (time.Time, error) {
	var slot int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO call_slots (name, slot_ms) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET slot_ms = GREATEST(EXCLUDED.slot_ms, call_slots.slot_ms + $3)
		 RETURNING slot_ms`,
		name, now.UnixMilli(), interval.Milliseconds(),
	).Scan(&slot)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "postgres: reserve call slot %s", name)
	}
	return time.UnixMilli(slot), nil
}

func (s *PostgresStore) SaveInFlight(ctx context.Context, entry InFlightEntry) error {
	marked := entry.MarkedAt
	if marked.IsZero() {
		marked = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inflight_rows (sheet, row_id, prev_status, marked_ms) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sheet, row_id) DO UPDATE SET prev_status = EXCLUDED.prev_status, marked_ms = EXCLUDED.marked_ms`,
		entry.Sheet, entry.RowID, entry.PrevStatus, marked.UnixMilli(),
	)
	return eris.Wrapf(err, "postgres: save in-flight %s!%d", entry.Sheet, entry.RowID)
}

func (s *PostgresStore) InFlight(ctx context.Context, sheet string, rowID int) (*InFlightEntry, error) {
	e := InFlightEntry{Sheet: sheet, RowID: rowID}
	var marked int64
	err := s.pool.QueryRow(ctx,
		`SELECT prev_status, marked_ms FROM inflight_rows WHERE sheet = $1 AND row_id = $2`,
		sheet, rowID,
	).Scan(&e.PrevStatus, &marked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get in-flight %s!%d", sheet, rowID)
	}
	e.MarkedAt = time.UnixMilli(marked)
	return &e, nil
}

func (s *PostgresStore) ClearInFlight(ctx context.Context, sheet string, rowID int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM inflight_rows WHERE sheet = $1 AND row_id = $2`, sheet, rowID,
	)
	return eris.Wrapf(err, "postgres: clear in-flight %s!%d", sheet, rowID)
}

func (s *PostgresStore) HasNotified(ctx context.Context, sheet, marker string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM notifications WHERE sheet = $1 AND marker = $2`, sheet, marker,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: has notified %s", sheet)
	}
	return true, nil
}

func (s *PostgresStore) RecordNotified(ctx context.Context, sheet, marker string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (sheet, marker, sent_ms) VALUES ($1, $2, $3)
		 ON CONFLICT (sheet, marker) DO NOTHING`,
		sheet, marker, time.Now().UnixMilli(),
	)
	return eris.Wrapf(err, "postgres: record notified %s", sheet)
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS run_locks`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLock_Acquired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO run_locks .* ON CONFLICT \(name\) DO UPDATE .* RETURNING owner`).
		WithArgs("run", "owner-a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"owner"}).AddRow("owner-a"))

	ok, err := s.AcquireLock(context.Background(), "run", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLock_Held(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO run_locks`).
		WithArgs("run", "owner-b", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	ok, err := s.AcquireLock(context.Background(), "run", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLock_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO run_locks`).
		WithArgs("run", "owner-a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))

	_, err := s.AcquireLock(context.Background(), "run", "owner-a", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM run_locks WHERE name = \$1 AND owner = \$2`).
		WithArgs("run", "owner-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.ReleaseLock(context.Background(), "run", "owner-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO key_usage .* RETURNING count`).
		WithArgs("2026-10-17", "GEMINI_API_KEY_BBC").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.IncrementUsage(context.Background(), "2026-10-17", "GEMINI_API_KEY_BBC")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Usage_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count FROM key_usage`).
		WithArgs("2026-10-17", "GEMINI_API_KEY_DVB").
		WillReturnError(pgx.ErrNoRows)

	n, err := s.Usage(context.Background(), "2026-10-17", "GEMINI_API_KEY_DVB")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key_name, count FROM key_usage WHERE day = \$1`).
		WithArgs("2026-10-17").
		WillReturnRows(pgxmock.NewRows([]string{"key_name", "count"}).
			AddRow("GEMINI_API_KEY_BBC", 3).
			AddRow("OPENAI_API_KEY", 1))

	got, err := s.ListUsage(context.Background(), "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"GEMINI_API_KEY_BBC": 3, "OPENAI_API_KEY": 1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReserveCallSlot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	mock.ExpectQuery(`(?s)INSERT INTO call_slots .* GREATEST`).
		WithArgs("provider", now.UnixMilli(), int64(4000)).
		WillReturnRows(pgxmock.NewRows([]string{"slot_ms"}).AddRow(now.UnixMilli() + 4000))

	slot, err := s.ReserveCallSlot(context.Background(), "provider", 4*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(4*time.Second), slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InFlight_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT prev_status, marked_ms FROM inflight_rows`).
		WithArgs("prod", 12).
		WillReturnError(pgx.ErrNoRows)

	e, err := s.InFlight(context.Background(), "prod", 12)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InFlight_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT prev_status, marked_ms FROM inflight_rows`).
		WithArgs("prod", 12).
		WillReturnRows(pgxmock.NewRows([]string{"prev_status", "marked_ms"}).AddRow("NG(1)", int64(1_700_000_000_000)))

	e, err := s.InFlight(context.Background(), "prod", 12)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "NG(1)", e.PrevStatus)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), e.MarkedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAndClearInFlight(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO inflight_rows .* ON CONFLICT`).
		WithArgs("prod", 12, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM inflight_rows`).
		WithArgs("prod", 12).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.SaveInFlight(context.Background(), InFlightEntry{Sheet: "prod", RowID: 12}))
	require.NoError(t, s.ClearInFlight(context.Background(), "prod", 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Notifications(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM notifications`).
		WithArgs("prod", "prod|42|10").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`(?s)INSERT INTO notifications .* DO NOTHING`).
		WithArgs("prod", "prod|42|10", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT 1 FROM notifications`).
		WithArgs("prod", "prod|42|10").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	ctx := context.Background()
	ok, err := s.HasNotified(ctx, "prod", "prod|42|10")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordNotified(ctx, "prod", "prod|42|10"))

	ok, err = s.HasNotified(ctx, "prod", "prod|42|10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// InFlightEntry records the status a row carried before it was marked
// in flight, so an abandoned row can be recovered with the right counter.
type InFlightEntry struct {
	Sheet      string
	RowID      int
	PrevStatus string
	MarkedAt   time.Time
}

// Store defines the persistence interface for shared run state. Row content
// itself lives in the workbook; the store holds only coordination data.
type Store interface {
	// Run lock
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error

	// Credential usage, scoped by calendar day
	IncrementUsage(ctx context.Context, day, key string) (int, error)
	Usage(ctx context.Context, day, key string) (int, error)
	ListUsage(ctx context.Context, day string) (map[string]int, error)

	// Global provider-call throttle
	ReserveCallSlot(ctx context.Context, name string, interval time.Duration, now time.Time) (time.Time, error)

	// In-flight ledger
	SaveInFlight(ctx context.Context, entry InFlightEntry) error
	InFlight(ctx context.Context, sheet string, rowID int) (*InFlightEntry, error)
	ClearInFlight(ctx context.Context, sheet string, rowID int) error

	// Completion notifications
	HasNotified(ctx context.Context, sheet, marker string) (bool, error)
	RecordNotified(ctx context.Context, sheet, marker string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver ("sqlite" or "postgres") and runs
// its migration.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

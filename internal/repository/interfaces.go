package repository

import (
	"context"
	"time"

	"dimload/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx the repositories execute against; it is
// satisfied by both *pgxpool.Pool and pgx.Tx, so a repository can be rebound
// to a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CustomerRepository defines the operations the transition engine needs
// against the dimension table.
type CustomerRepository interface {
	// GetCurrent returns the single is_current version for a business key,
	// ErrNotFound when none exists, or ErrMultipleCurrent when the
	// one-current-version invariant is already violated in the store.
	GetCurrent(ctx context.Context, businessKey string) (domain.CustomerVersion, error)
	// InsertVersion opens a new current version with the record's values and
	// returns its surrogate id.
	InsertVersion(ctx context.Context, record domain.SourceRecord, validFrom time.Time) (int64, error)
	// CloseVersion marks one version historical: valid_until set, is_current
	// cleared. It fails if the row is not the current version.
	CloseVersion(ctx context.Context, surrogateID int64, validUntil time.Time) error
	// UpdateInPlace overwrites the in-place attributes of one version
	// without touching its validity window or currency flag.
	UpdateInPlace(ctx context.Context, surrogateID int64, record domain.SourceRecord) error
	// ListVersions returns every version ordered by business key and
	// valid_from, for state inspection.
	ListVersions(ctx context.Context) ([]domain.CustomerVersion, error)
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx pgx.Tx) CustomerRepository
}

// LoadLogRepository persists per-row rejects and failures for replay.
type LoadLogRepository interface {
	Record(ctx context.Context, entry domain.LoadLogEntry) error
	List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.LoadLogEntry, error)
}

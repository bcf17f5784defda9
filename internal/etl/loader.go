package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dimload/internal/domain"
	"dimload/internal/repository"
	"dimload/internal/source"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// CommitPolicy controls the transaction boundary of a load run.
type CommitPolicy string

const (
	// CommitBatch runs the whole batch in one transaction; any store failure
	// rolls back every change from the run.
	CommitBatch CommitPolicy = "batch"
	// CommitRecord commits each record in its own transaction; a failed
	// record is logged and skipped while the rest of the batch proceeds.
	CommitRecord CommitPolicy = "record"
)

// ParseCommitPolicy validates a configured policy name.
func ParseCommitPolicy(value string) (CommitPolicy, error) {
	switch policy := CommitPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case CommitBatch, CommitRecord:
		return policy, nil
	case "":
		return CommitBatch, nil
	default:
		return "", fmt.Errorf("unknown commit policy %q (want %q or %q)", value, CommitBatch, CommitRecord)
	}
}

// ErrBatchAborted marks a run that was rolled back under the batch commit
// policy. The summary still reports the failure that caused it.
var ErrBatchAborted = errors.New("batch aborted, all changes rolled back")

// Transactor runs a function inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Failure describes one record the run could not apply.
type Failure struct {
	BusinessKey string `json:"business_key"`
	Transition  string `json:"transition"`
	Reason      string `json:"reason"`
}

// Summary reports the outcome of one load run.
type Summary struct {
	RunID     uuid.UUID    `json:"run_id"`
	LoadTime  time.Time    `json:"load_time"`
	Policy    CommitPolicy `json:"commit_policy"`
	Inserted  int          `json:"inserted"`
	Versioned int          `json:"versioned"`
	InPlace   int          `json:"updated_in_place"`
	Unchanged int          `json:"unchanged"`
	Rejected  int          `json:"rejected"`
	Failed    int          `json:"failed"`
	Failures  []Failure    `json:"failures,omitempty"`
}

// Processed returns how many records reached the store successfully.
func (s Summary) Processed() int {
	return s.Inserted + s.Versioned + s.InPlace + s.Unchanged
}

// Loader coordinates a batch run: it classifies each record against the
// current dimension state and applies the matching transition inside a
// transaction chosen by the commit policy.
type Loader struct {
	customers repository.CustomerRepository
	loadLog   repository.LoadLogRepository
	tx        Transactor
	roles     domain.FieldRoles
	policy    CommitPolicy
	logger    *zap.SugaredLogger
}

// NewLoader wires a loader. The load-log repository must be bound to the
// pool, not a transaction, so failure records survive a rolled-back batch.
func NewLoader(
	customers repository.CustomerRepository,
	loadLog repository.LoadLogRepository,
	tx Transactor,
	roles domain.FieldRoles,
	policy CommitPolicy,
	logger *zap.SugaredLogger,
) *Loader {
	return &Loader{
		customers: customers,
		loadLog:   loadLog,
		tx:        tx,
		roles:     roles,
		policy:    policy,
		logger:    logger,
	}
}

// Load applies one batch at loadTime. Every version opened or closed by the
// run carries the same loadTime, so reloading an identical batch is a no-op.
// Records are processed in file order; when a business key repeats within the
// batch, the later record sees the state left by the earlier one.
func (l *Loader) Load(ctx context.Context, batch source.Batch, loadTime time.Time) (Summary, error) {
	summary := Summary{
		RunID:    uuid.New(),
		LoadTime: loadTime,
		Policy:   l.policy,
	}

	for _, reject := range batch.Rejects {
		summary.Rejected++
		rowNumber := reject.RowNumber
		l.logRun(ctx, domain.LoadLogEntry{
			RunID:        summary.RunID,
			RowNumber:    &rowNumber,
			Transition:   "REJECTED",
			ErrorMessage: reject.Reason,
		})
	}

	l.logger.Infow("starting load run",
		"run_id", summary.RunID,
		"load_time", loadTime,
		"policy", l.policy,
		"records", len(batch.Records),
		"rejects", summary.Rejected,
	)

	var err error
	switch l.policy {
	case CommitRecord:
		err = l.loadPerRecord(ctx, batch.Records, loadTime, &summary)
	default:
		err = l.loadSingleTx(ctx, batch.Records, loadTime, &summary)
	}
	if err != nil {
		return summary, err
	}

	l.logger.Infow("load run finished",
		"run_id", summary.RunID,
		"inserted", summary.Inserted,
		"versioned", summary.Versioned,
		"updated_in_place", summary.InPlace,
		"unchanged", summary.Unchanged,
		"rejected", summary.Rejected,
		"failed", summary.Failed,
	)
	return summary, nil
}

// loadSingleTx applies the whole batch inside one transaction. The first
// store failure rolls everything back: Postgres aborts the transaction on
// error, so there is no salvaging the earlier records.
func (l *Loader) loadSingleTx(ctx context.Context, records []domain.SourceRecord, loadTime time.Time, summary *Summary) error {
	staged := Summary{}
	var failed *Failure

	txErr := l.tx.WithTx(ctx, func(tx pgx.Tx) error {
		repo := l.customers.WithTx(tx)
		for _, record := range records {
			kind, err := l.apply(ctx, repo, record, loadTime)
			if err != nil {
				failed = &Failure{
					BusinessKey: record.Get(l.roles.BusinessKey),
					Transition:  string(kind),
					Reason:      err.Error(),
				}
				return err
			}
			staged.count(kind)
		}
		return nil
	})

	if txErr != nil {
		summary.Failed++
		if failed != nil {
			summary.Failures = append(summary.Failures, *failed)
			l.logRun(ctx, domain.LoadLogEntry{
				RunID:        summary.RunID,
				BusinessKey:  failed.BusinessKey,
				Transition:   failed.Transition,
				ErrorMessage: failed.Reason,
			})
		}
		l.logger.Errorw("batch rolled back", "run_id", summary.RunID, "error", txErr)
		return fmt.Errorf("%w: %w", ErrBatchAborted, txErr)
	}

	summary.Inserted += staged.Inserted
	summary.Versioned += staged.Versioned
	summary.InPlace += staged.InPlace
	summary.Unchanged += staged.Unchanged
	return nil
}

// loadPerRecord commits each record on its own. Record-level failures are
// logged and skipped; a connectivity failure halts the run, because every
// remaining record would fail the same way.
func (l *Loader) loadPerRecord(ctx context.Context, records []domain.SourceRecord, loadTime time.Time, summary *Summary) error {
	for _, record := range records {
		var kind domain.ChangeKind

		err := l.tx.WithTx(ctx, func(tx pgx.Tx) error {
			var applyErr error
			kind, applyErr = l.apply(ctx, l.customers.WithTx(tx), record, loadTime)
			return applyErr
		})
		if err == nil {
			summary.count(kind)
			continue
		}

		if isConnectivityErr(err) {
			l.logger.Errorw("database unreachable, halting run", "run_id", summary.RunID, "error", err)
			return fmt.Errorf("connectivity failure: %w", err)
		}

		key := record.Get(l.roles.BusinessKey)
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{
			BusinessKey: key,
			Transition:  string(kind),
			Reason:      err.Error(),
		})
		l.logRun(ctx, domain.LoadLogEntry{
			RunID:        summary.RunID,
			BusinessKey:  key,
			Transition:   string(kind),
			ErrorMessage: err.Error(),
		})
		l.logger.Warnw("record failed, continuing", "run_id", summary.RunID, "business_key", key, "error", err)
	}
	return nil
}

// apply runs one record through the transition engine: look up the current
// version, classify, then perform the matching store operation. For a
// versioned change, closing the old version and opening the new one happen on
// the same repository binding, which the caller has scoped to a transaction.
func (l *Loader) apply(ctx context.Context, repo repository.CustomerRepository, record domain.SourceRecord, loadTime time.Time) (domain.ChangeKind, error) {
	key := record.Get(l.roles.BusinessKey)

	var current *domain.CustomerVersion
	existing, err := repo.GetCurrent(ctx, key)
	switch {
	case err == nil:
		current = &existing
	case errors.Is(err, repository.ErrNotFound):
	default:
		return "", err
	}

	kind := domain.Classify(record, current, l.roles)
	l.logger.Debugw("classified record", "business_key", key, "change", kind)

	switch kind {
	case domain.ChangeNew:
		if _, err := repo.InsertVersion(ctx, record, loadTime); err != nil {
			return kind, err
		}
	case domain.ChangeVersioned:
		if err := repo.CloseVersion(ctx, current.SurrogateID, loadTime); err != nil {
			return kind, err
		}
		if _, err := repo.InsertVersion(ctx, record, loadTime); err != nil {
			return kind, err
		}
	case domain.ChangeInPlace:
		if err := repo.UpdateInPlace(ctx, current.SurrogateID, record); err != nil {
			return kind, err
		}
	case domain.ChangeNone:
	}

	return kind, nil
}

func (s *Summary) count(kind domain.ChangeKind) {
	switch kind {
	case domain.ChangeNew:
		s.Inserted++
	case domain.ChangeVersioned:
		s.Versioned++
	case domain.ChangeInPlace:
		s.InPlace++
	case domain.ChangeNone:
		s.Unchanged++
	}
}

// logRun writes an audit entry outside the batch transaction. A failing
// audit write must not take the run down with it.
func (l *Loader) logRun(ctx context.Context, entry domain.LoadLogEntry) {
	if l.loadLog == nil {
		return
	}
	if err := l.loadLog.Record(ctx, entry); err != nil {
		l.logger.Warnw("failed to record load log entry", "run_id", entry.RunID, "error", err)
	}
}

// isConnectivityErr reports whether err means the database itself is
// unreachable rather than a record being unprocessable.
func isConnectivityErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 is "connection exception".
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return false
}

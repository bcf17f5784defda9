package repository

import (
	"context"
	"fmt"

	"dimload/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type loadLogRepository struct {
	db DBTX
}

// NewLoadLogRepository wires a load-log repository backed by pgx. It is
// intentionally bound to the pool rather than a batch transaction so that
// failure records survive a rolled-back batch.
func NewLoadLogRepository(db DBTX) LoadLogRepository {
	return &loadLogRepository{db: db}
}

func (r *loadLogRepository) Record(ctx context.Context, entry domain.LoadLogEntry) error {
	if r.db == nil {
		return fmt.Errorf("load log repository not initialized")
	}

	var rowNumber any
	if entry.RowNumber != nil {
		rowNumber = *entry.RowNumber
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO etl_load_log (run_id, business_key, row_number, transition, error_message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.RunID,
		entry.BusinessKey,
		rowNumber,
		entry.Transition,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record load log entry: %w", err)
	}

	return nil
}

func (r *loadLogRepository) List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.LoadLogEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("load log repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, run_id, business_key, row_number, transition, error_message, created_at
		 FROM etl_load_log
		 WHERE run_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		runID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list load log entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.LoadLogEntry{}
	for rows.Next() {
		var (
			entry     domain.LoadLogEntry
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.BusinessKey,
			&rowNumber,
			&entry.Transition,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan load log entry: %w", scanErr)
		}

		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate load log entries: %w", rowsErr)
	}

	return entries, nil
}

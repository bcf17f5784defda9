package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dimload/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	// ErrNotFound means no current version exists for the business key.
	ErrNotFound = errors.New("no current version for business key")
	// ErrMultipleCurrent means the store already holds more than one current
	// version for a business key. This is a data-quality condition; callers
	// must surface it rather than pick a row.
	ErrMultipleCurrent = errors.New("multiple current versions for business key")
)

// QuoteIdentifier quotes a PostgreSQL identifier to handle case-sensitive or
// reserved names. Dotted names are quoted per part.
func QuoteIdentifier(identifier string) string {
	parts := strings.Split(identifier, ".")
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = fmt.Sprintf(`"%s"`, part)
	}
	return strings.Join(quoted, ".")
}

type customerRepository struct {
	db    DBTX
	table string
	roles domain.FieldRoles

	selectCurrentSQL string
	insertSQL        string
	closeSQL         string
	updateSQL        string
	listSQL          string
}

// NewCustomerRepository builds a repository for the given dimension table
// and field roles. Role names are validated at configuration time, so the
// generated statements only ever contain vetted identifiers.
func NewCustomerRepository(db DBTX, table string, roles domain.FieldRoles) CustomerRepository {
	r := &customerRepository{db: db, table: table, roles: roles}
	r.buildStatements()
	return r
}

// WithTx returns a repository bound to the given transaction.
func (r *customerRepository) WithTx(tx pgx.Tx) CustomerRepository {
	bound := *r
	bound.db = tx
	return &bound
}

func (r *customerRepository) buildStatements() {
	table := QuoteIdentifier(r.table)
	key := QuoteIdentifier(r.roles.BusinessKey)

	attrCols := r.roles.AttributeColumns()
	quotedAttrs := make([]string, len(attrCols))
	for i, col := range attrCols {
		quotedAttrs[i] = QuoteIdentifier(col)
	}
	attrList := strings.Join(quotedAttrs, ", ")

	r.selectCurrentSQL = fmt.Sprintf(
		`SELECT surrogate_id, %s, %s, valid_from, valid_until, is_current, created_at, updated_at
		 FROM %s
		 WHERE %s = $1 AND is_current = TRUE`,
		key, attrList, table, key,
	)

	placeholders := make([]string, 0, len(attrCols)+2)
	for i := 0; i < len(attrCols)+2; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	r.insertSQL = fmt.Sprintf(
		`INSERT INTO %s (%s, %s, valid_from, valid_until, is_current)
		 VALUES (%s, NULL, TRUE)
		 RETURNING surrogate_id`,
		table, key, attrList, strings.Join(placeholders, ", "),
	)

	r.closeSQL = fmt.Sprintf(
		`UPDATE %s
		 SET valid_until = $1, is_current = FALSE, updated_at = NOW()
		 WHERE surrogate_id = $2 AND is_current = TRUE`,
		table,
	)

	assignments := make([]string, len(r.roles.InPlace))
	for i, col := range r.roles.InPlace {
		assignments[i] = fmt.Sprintf("%s = $%d", QuoteIdentifier(col), i+1)
	}
	r.updateSQL = fmt.Sprintf(
		`UPDATE %s
		 SET %s, updated_at = NOW()
		 WHERE surrogate_id = $%d`,
		table, strings.Join(assignments, ", "), len(r.roles.InPlace)+1,
	)

	r.listSQL = fmt.Sprintf(
		`SELECT surrogate_id, %s, %s, valid_from, valid_until, is_current, created_at, updated_at
		 FROM %s
		 ORDER BY %s, valid_from`,
		key, attrList, table, key,
	)
}

// GetCurrent retrieves the active version for a business key.
func (r *customerRepository) GetCurrent(ctx context.Context, businessKey string) (domain.CustomerVersion, error) {
	rows, err := r.db.Query(ctx, r.selectCurrentSQL, businessKey)
	if err != nil {
		return domain.CustomerVersion{}, fmt.Errorf("failed to query current version: %w", err)
	}
	defer rows.Close()

	versions, err := r.scanVersions(rows)
	if err != nil {
		return domain.CustomerVersion{}, err
	}

	switch len(versions) {
	case 0:
		return domain.CustomerVersion{}, fmt.Errorf("%w: %s", ErrNotFound, businessKey)
	case 1:
		return versions[0], nil
	default:
		return domain.CustomerVersion{}, fmt.Errorf("%w: %s has %d rows", ErrMultipleCurrent, businessKey, len(versions))
	}
}

// InsertVersion opens a new current version from the record's values.
func (r *customerRepository) InsertVersion(ctx context.Context, record domain.SourceRecord, validFrom time.Time) (int64, error) {
	args := make([]any, 0, len(r.roles.AttributeColumns())+2)
	args = append(args, record.Get(r.roles.BusinessKey))
	for _, col := range r.roles.AttributeColumns() {
		args = append(args, record.Get(col))
	}
	args = append(args, validFrom)

	var surrogateID int64
	if err := r.db.QueryRow(ctx, r.insertSQL, args...).Scan(&surrogateID); err != nil {
		return 0, fmt.Errorf("failed to insert version: %w", err)
	}
	return surrogateID, nil
}

// CloseVersion expires a current version at validUntil.
func (r *customerRepository) CloseVersion(ctx context.Context, surrogateID int64, validUntil time.Time) error {
	tag, err := r.db.Exec(ctx, r.closeSQL, validUntil, surrogateID)
	if err != nil {
		return fmt.Errorf("failed to close version %d: %w", surrogateID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("close version %d affected %d rows, want 1", surrogateID, tag.RowsAffected())
	}
	return nil
}

// UpdateInPlace overwrites the in-place attributes of one version.
func (r *customerRepository) UpdateInPlace(ctx context.Context, surrogateID int64, record domain.SourceRecord) error {
	args := make([]any, 0, len(r.roles.InPlace)+1)
	for _, col := range r.roles.InPlace {
		args = append(args, record.Get(col))
	}
	args = append(args, surrogateID)

	tag, err := r.db.Exec(ctx, r.updateSQL, args...)
	if err != nil {
		return fmt.Errorf("failed to update version %d in place: %w", surrogateID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("in-place update of version %d affected %d rows, want 1", surrogateID, tag.RowsAffected())
	}
	return nil
}

// ListVersions returns the full dimension table ordered by business key and
// validity start.
func (r *customerRepository) ListVersions(ctx context.Context) ([]domain.CustomerVersion, error) {
	rows, err := r.db.Query(ctx, r.listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	return r.scanVersions(rows)
}

func (r *customerRepository) scanVersions(rows pgx.Rows) ([]domain.CustomerVersion, error) {
	attrCols := r.roles.AttributeColumns()
	versions := []domain.CustomerVersion{}

	for rows.Next() {
		var (
			version    domain.CustomerVersion
			attrs      = make([]pgtype.Text, len(attrCols))
			validUntil pgtype.Timestamptz
		)

		dest := make([]any, 0, len(attrCols)+7)
		dest = append(dest, &version.SurrogateID, &version.BusinessKey)
		for i := range attrs {
			dest = append(dest, &attrs[i])
		}
		dest = append(dest, &version.ValidFrom, &validUntil, &version.IsCurrent, &version.CreatedAt, &version.UpdatedAt)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		version.Attributes = make(map[string]string, len(attrCols))
		for i, col := range attrCols {
			if attrs[i].Valid {
				version.Attributes[col] = attrs[i].String
			} else {
				version.Attributes[col] = ""
			}
		}
		if validUntil.Valid {
			until := validUntil.Time
			version.ValidUntil = &until
		}

		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}

	return versions, nil
}

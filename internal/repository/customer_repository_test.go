package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"dimload/internal/domain"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoRoles() domain.FieldRoles {
	return domain.FieldRoles{
		BusinessKey: "customer_id",
		Tracked:     []string{"company_name"},
		InPlace:     []string{"email"},
	}
}

func versionColumns() []string {
	return []string{
		"surrogate_id", "customer_id", "company_name", "email",
		"valid_from", "valid_until", "is_current", "created_at", "updated_at",
	}
}

func TestCustomerRepositoryGetCurrent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantKey   string
	}{
		{
			name: "single current version",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(versionColumns()).
					AddRow(int64(7), "C001", "Old Co", "a@x.com", now, nil, true, now, now)
				mock.ExpectQuery(`SELECT surrogate_id, "customer_id", "company_name", "email"`).
					WithArgs("C001").
					WillReturnRows(rows)
			},
			wantKey: "C001",
		},
		{
			name: "no current version",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT surrogate_id`).
					WithArgs("C001").
					WillReturnRows(pgxmock.NewRows(versionColumns()))
			},
			wantErr: ErrNotFound,
		},
		{
			name: "duplicate current versions surface as data-quality error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(versionColumns()).
					AddRow(int64(7), "C001", "Old Co", "a@x.com", now, nil, true, now, now).
					AddRow(int64(9), "C001", "New Co", "a@x.com", now, nil, true, now, now)
				mock.ExpectQuery(`SELECT surrogate_id`).
					WithArgs("C001").
					WillReturnRows(rows)
			},
			wantErr: ErrMultipleCurrent,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setupMock(mock)

			repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
			version, err := repo.GetCurrent(context.Background(), "C001")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantKey, version.BusinessKey)
				assert.Equal(t, int64(7), version.SurrogateID)
				assert.Equal(t, "Old Co", version.Attribute("company_name"))
				assert.True(t, version.IsCurrent)
				assert.Nil(t, version.ValidUntil)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCustomerRepositoryInsertVersion(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	loadTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO "dim_customer"`).
		WithArgs("C999", "Test Co", "t@x.com", loadTime).
		WillReturnRows(pgxmock.NewRows([]string{"surrogate_id"}).AddRow(int64(42)))

	repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
	record := domain.SourceRecord{"customer_id": "C999", "company_name": "Test Co", "email": "t@x.com"}

	id, err := repo.InsertVersion(context.Background(), record, loadTime)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepositoryCloseVersion(t *testing.T) {
	t.Parallel()

	validUntil := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("closes exactly one row", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE "dim_customer"`).
			WithArgs(validUntil, int64(7)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
		require.NoError(t, repo.CloseVersion(context.Background(), 7, validUntil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when the row is no longer current", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE "dim_customer"`).
			WithArgs(validUntil, int64(7)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
		err = repo.CloseVersion(context.Background(), 7, validUntil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "affected 0 rows")
	})
}

func TestCustomerRepositoryUpdateInPlace(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE "dim_customer"`).
		WithArgs("b@x.com", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
	record := domain.SourceRecord{"customer_id": "C001", "company_name": "Old Co", "email": "b@x.com"}

	require.NoError(t, repo.UpdateInPlace(context.Background(), 7, record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepositoryListVersions(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	closed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(versionColumns()).
		AddRow(int64(1), "C001", "Old Co", "a@x.com", start, closed, false, start, closed).
		AddRow(int64(2), "C001", "New Co", "a@x.com", closed, nil, true, closed, closed)
	mock.ExpectQuery(`ORDER BY "customer_id", valid_from`).WillReturnRows(rows)

	repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
	versions, err := repo.ListVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 2)

	assert.False(t, versions[0].IsCurrent)
	require.NotNil(t, versions[0].ValidUntil)
	assert.Equal(t, closed, *versions[0].ValidUntil)
	assert.True(t, versions[1].IsCurrent)
	assert.Nil(t, versions[1].ValidUntil)
}

func TestCustomerRepositoryQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT surrogate_id`).
		WithArgs("C001").
		WillReturnError(errors.New("connection refused"))

	repo := NewCustomerRepository(mock, "dim_customer", repoRoles())
	_, err = repo.GetCurrent(context.Background(), "C001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

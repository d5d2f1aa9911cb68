package sqlstore

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/conduit-lang/deltapatch/internal/store"
)

func TestConvertDBError(t *testing.T) {
	plain := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, store.ErrUniqueViolation},
		{"pgx foreign key", &pgconn.PgError{Code: "23503"}, store.ErrForeignKeyViolation},
		{"pgx check", &pgconn.PgError{Code: "23514"}, store.ErrCheckViolation},
		{"pgx not null", &pgconn.PgError{Code: "23502", ColumnName: "email"}, store.ErrNotNullViolation},
		{"pq unique", &pq.Error{Code: "23505"}, store.ErrUniqueViolation},
		{"pq not null", &pq.Error{Code: "23502", Column: "email"}, store.ErrNotNullViolation},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, store.ErrUniqueViolation},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, store.ErrUniqueViolation},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, store.ErrForeignKeyViolation},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, store.ErrNotNullViolation},
		{"sqlite check", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, store.ErrCheckViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ConvertDBError(tt.err), tt.want)
		})
	}

	assert.Nil(t, ConvertDBError(nil))
	assert.Equal(t, plain, ConvertDBError(plain))
	pgOther := &pgconn.PgError{Code: "40001"}
	assert.Equal(t, error(pgOther), ConvertDBError(pgOther))
	assert.Contains(t, ConvertDBError(&pgconn.PgError{Code: "23502", ColumnName: "email"}).Error(), "column email")
}

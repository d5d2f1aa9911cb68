package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/deltapatch/internal/store"
)

// PostgreSQL integrity constraint violation codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

// ConvertDBError converts driver errors to store errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	// pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return convertCode(err, pgErr.Code, pgErr.Detail, pgErr.ColumnName)
	}

	// lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return convertCode(err, string(pqErr.Code), pqErr.Detail, pqErr.Column)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", store.ErrForeignKeyViolation, liteErr.Error())
		case sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %s", store.ErrNotNullViolation, liteErr.Error())
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", store.ErrCheckViolation, liteErr.Error())
		}
	}

	return err
}

func convertCode(err error, code, detail, column string) error {
	switch code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, detail)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrForeignKeyViolation, detail)
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", store.ErrCheckViolation, detail)
	case pgNotNullViolation:
		return fmt.Errorf("%w: column %s", store.ErrNotNullViolation, column)
	}
	return err
}

// IsUniqueViolation returns true if the error is a unique violation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, store.ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, store.ErrForeignKeyViolation)
}

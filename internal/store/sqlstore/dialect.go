package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"               // registers the "postgres" driver
	_ "github.com/mattn/go-sqlite3"     // registers the "sqlite3" driver

	"github.com/conduit-lang/deltapatch/internal/orm/query"
)

// Dialect describes the SQL flavour of a database/sql driver
type Dialect struct {
	Name        string // sqlite or postgres
	Driver      string // database/sql driver name
	Placeholder query.Placeholder
}

var (
	// SQLite uses mattn/go-sqlite3
	SQLite = Dialect{Name: "sqlite", Driver: "sqlite3", Placeholder: query.Question}

	// Postgres uses the pgx stdlib driver
	Postgres = Dialect{Name: "postgres", Driver: "pgx", Placeholder: query.Dollar}

	// PostgresPQ uses lib/pq
	PostgresPQ = Dialect{Name: "postgres", Driver: "postgres", Placeholder: query.Dollar}
)

// DialectFor returns the dialect for a configured driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "pq", "lib/pq":
		return PostgresPQ, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql driver: %s", driver)
	}
}

// IsPostgres reports whether the dialect targets PostgreSQL
func (d Dialect) IsPostgres() bool {
	return d.Name == "postgres"
}

// Open opens a database for the named driver. SQLite databases are limited to
// a single connection so that in-memory databases are shared.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.Name == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}

package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a test database with a test table
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE test_records (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			value INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		t.Fatalf("failed to create test table: %v", err)
	}

	return db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_records").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestManager_Begin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db, Default)
	ctx := context.Background()

	tx, err := mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if tx.IsolationLevel() != Default {
		t.Errorf("expected Default isolation level, got %v", tx.IsolationLevel())
	}

	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback failed: %v", err)
	}
	if !tx.IsRolledBack() || !tx.Done() {
		t.Error("expected transaction to be rolled back")
	}
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db, Default)
	ctx := context.Background()

	tx, err := mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "kept"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !errors.Is(tx.Commit(), ErrAlreadyCommitted) {
		t.Error("expected ErrAlreadyCommitted on second commit")
	}
	if !errors.Is(tx.Rollback(), ErrAlreadyCommitted) {
		t.Error("expected ErrAlreadyCommitted on rollback after commit")
	}

	tx, err = mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "dropped"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var name string
	if err := tx.QueryRowContext(ctx, "SELECT name FROM test_records WHERE name = ?", "dropped").Scan(&name); err != nil {
		t.Fatalf("query in transaction failed: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("second Rollback should be a no-op, got %v", err)
	}
	if !errors.Is(tx.Commit(), ErrAlreadyRolledBack) {
		t.Error("expected ErrAlreadyRolledBack")
	}

	if n := countRecords(t, db); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestManager_WithTransaction(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db, Default)
	ctx := context.Background()

	err := mgr.WithTransaction(ctx, func(tx *Transaction) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "a")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	boom := errors.New("boom")
	err = mgr.WithTransaction(ctx, func(tx *Transaction) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "b"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if n := countRecords(t, db); n != 1 {
		t.Errorf("expected 1 record after rollback, got %d", n)
	}
}

func TestManager_WithTransactionPanic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	mgr := NewManager(db, Default)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = mgr.WithTransaction(ctx, func(tx *Transaction) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "p"); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if n := countRecords(t, db); n != 0 {
		t.Errorf("expected rollback after panic, got %d records", n)
	}
}

func TestIsolationLevel(t *testing.T) {
	tests := []struct {
		in       string
		level    IsolationLevel
		expected sql.IsolationLevel
	}{
		{"", Default, sql.LevelDefault},
		{"read_committed", ReadCommitted, sql.LevelReadCommitted},
		{"Repeatable Read", RepeatableRead, sql.LevelRepeatableRead},
		{"serializable", Serializable, sql.LevelSerializable},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, err := ParseIsolationLevel(tt.in)
			if err != nil {
				t.Fatalf("ParseIsolationLevel failed: %v", err)
			}
			if level != tt.level {
				t.Errorf("got %v, want %v", level, tt.level)
			}
			if opts := level.ToSQLOptions(); opts.Isolation != tt.expected {
				t.Errorf("ToSQLOptions() = %v, want %v", opts.Isolation, tt.expected)
			}
		})
	}

	if _, err := ParseIsolationLevel("chaos"); err == nil {
		t.Error("expected error for unknown level")
	}
	if Serializable.String() != "SERIALIZABLE" {
		t.Errorf("unexpected String(): %s", Serializable.String())
	}
}

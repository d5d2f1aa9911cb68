// Package sqlstore stores records in SQL tables through database/sql. Reads
// run inside the transaction; inserts and updates are buffered and executed
// in order on Commit.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/orm/transaction"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// Store is a store over a SQL database
type Store struct {
	txm      *transaction.Manager
	dialect  Dialect
	registry *schema.Registry
	logger   *zap.Logger
	allowed  map[string]bool // nil allows every registered model
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for statement tracing
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithModels restricts the store to the named models
func WithModels(models ...string) Option {
	return func(s *Store) {
		s.allowed = make(map[string]bool, len(models))
		for _, name := range models {
			s.allowed[strings.ToLower(name)] = true
		}
	}
}

// WithIsolation sets the isolation level of patch transactions
func WithIsolation(level transaction.IsolationLevel) Option {
	return func(s *Store) {
		s.txm = transaction.NewManager(s.txm.DB(), level)
	}
}

// New creates a store over db
func New(db *sql.DB, dialect Dialect, reg *schema.Registry, opts ...Option) *Store {
	s := &Store{
		txm:      transaction.NewManager(db, transaction.Default),
		dialect:  dialect,
		registry: reg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.txm.DB()
}

// Dialect returns the SQL dialect of the store
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Supports reports whether the model is registered and allowed
func (s *Store) Supports(model string) bool {
	if !s.registry.Exists(model) {
		return false
	}
	return s.allowed == nil || s.allowed[strings.ToLower(model)]
}

// Migrate creates the tables of the given models, or of every supported
// model, when they do not exist yet. It returns the executed statements.
func (s *Store) Migrate(ctx context.Context, models ...string) ([]string, error) {
	var targets []*schema.Model
	if len(models) == 0 {
		for _, m := range s.registry.Models() {
			if s.Supports(m.Name) && m.Valid() {
				targets = append(targets, m)
			}
		}
	} else {
		for _, name := range models {
			m, err := s.registry.Lookup(name)
			if err != nil {
				return nil, err
			}
			targets = append(targets, m)
		}
	}

	statements, err := CreateTables(s.dialect, targets)
	if err != nil {
		return nil, err
	}

	err = s.txm.WithRetry(ctx, func(tx *transaction.Transaction) error {
		for _, ddl := range statements {
			s.logger.Debug("migrate", zap.String("sql", ddl))
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statements, nil
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{store: s, tx: tx}, nil
}

// Tx is a SQL transaction with buffered writes
type Tx struct {
	store  *Store
	tx     *transaction.Transaction
	writes []statement
	high   map[string]int64 // model.field -> highest staged integer key
	done   bool
	mu     sync.Mutex
}

// statement is a buffered write
type statement struct {
	model  string
	sql    string
	args   []interface{}
	update bool
}

// FindOne queries each predicate group in order and returns the first row
// found
func (tx *Tx) FindOne(ctx context.Context, m *schema.Model, pred *query.Predicate) (schema.Record, error) {
	if err := tx.usable(m); err != nil {
		return nil, err
	}

	fields := m.Scalars()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = QuoteIdentifier(f.Column)
	}

	for _, group := range pred.Groups {
		paramCounter := 1
		var args []interface{}
		where, err := group.ToSQL(tx.store.dialect.Placeholder, &paramCounter, &args)
		if err != nil {
			return nil, err
		}
		if where == "" {
			continue
		}

		q := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1",
			strings.Join(columns, ", "), QuoteIdentifier(m.Table), where)
		tx.store.logger.Debug("find", zap.String("sql", q), zap.Int("args", len(args)))

		rec, err := scanRecord(tx.tx.QueryRowContext(ctx, q, args...), fields)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, ConvertDBError(err)
		}
		return rec, nil
	}
	return nil, nil
}

// StageInsert buffers an INSERT of every scalar field
func (tx *Tx) StageInsert(ctx context.Context, m *schema.Model, rec schema.Record) error {
	if err := tx.usable(m); err != nil {
		return err
	}

	fields := m.Scalars()
	columns := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		columns[i] = QuoteIdentifier(f.Column)
		placeholders[i] = tx.store.dialect.Placeholder(i + 1)
		args[i] = rec[f.Name]
	}
	tx.trackKeys(m, rec)

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(m.Table), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	tx.push(statement{model: m.Name, sql: q, args: args})
	return nil
}

// NextKey returns one more than the highest value of the column, counting
// the keys staged in this transaction
func (tx *Tx) NextKey(ctx context.Context, m *schema.Model, field string) (int64, error) {
	if err := tx.usable(m); err != nil {
		return 0, err
	}
	f, ok := m.Field(field)
	if !ok || !f.IsScalar() {
		return 0, fmt.Errorf("model %s has no column for %s", m.Name, field)
	}

	q := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", QuoteIdentifier(f.Column), QuoteIdentifier(m.Table))
	tx.store.logger.Debug("next key", zap.String("sql", q))

	var high int64
	if err := tx.tx.QueryRowContext(ctx, q).Scan(&high); err != nil {
		return 0, ConvertDBError(err)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	name := highKey(m, f.Name)
	if staged := tx.high[name]; staged > high {
		high = staged
	}
	if tx.high == nil {
		tx.high = make(map[string]int64)
	}
	tx.high[name] = high + 1
	return high + 1, nil
}

// trackKeys remembers the integer key values of a staged insert
func (tx *Tx) trackKeys(m *schema.Model, rec schema.Record) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, f := range m.KeyFields() {
		if f.Type != schema.TypeInt && f.Type != schema.TypeBigInt {
			continue
		}
		n, ok := rec[f.Name].(int64)
		if !ok {
			continue
		}
		if tx.high == nil {
			tx.high = make(map[string]int64)
		}
		if name := highKey(m, f.Name); n > tx.high[name] {
			tx.high[name] = n
		}
	}
}

func highKey(m *schema.Model, field string) string {
	return strings.ToLower(m.Name + "." + field)
}

// StageUpdate buffers an UPDATE of the changed columns. The row is located
// by the primary key values of original.
func (tx *Tx) StageUpdate(ctx context.Context, m *schema.Model, original, updated schema.Record, changed []string) error {
	if err := tx.usable(m); err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	if len(m.KeySets) == 0 {
		return fmt.Errorf("model %s has no key", m.Name)
	}

	ph := tx.store.dialect.Placeholder
	n := 1
	sets := make([]string, 0, len(changed))
	args := make([]interface{}, 0, len(changed)+len(m.KeySets[0].Fields))
	for _, name := range changed {
		f, ok := m.Field(name)
		if !ok || !f.IsScalar() {
			return fmt.Errorf("model %s has no column for %s", m.Name, name)
		}
		sets = append(sets, fmt.Sprintf("%s = %s", QuoteIdentifier(f.Column), ph(n)))
		args = append(args, updated[f.Name])
		n++
	}

	where := make([]string, 0, len(m.KeySets[0].Fields))
	for _, name := range m.KeySets[0].Fields {
		f, _ := m.Field(name)
		where = append(where, fmt.Sprintf("%s = %s", QuoteIdentifier(f.Column), ph(n)))
		args = append(args, original[f.Name])
		n++
	}

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		QuoteIdentifier(m.Table), strings.Join(sets, ", "), strings.Join(where, " AND "))
	tx.push(statement{model: m.Name, sql: q, args: args, update: true})
	return nil
}

// Commit executes the buffered writes in order and commits. Any failure
// rolls the transaction back.
func (tx *Tx) Commit(ctx context.Context) (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return 0, store.ErrTxDone
	}
	tx.done = true

	rows := 0
	for _, w := range tx.writes {
		tx.store.logger.Debug("exec", zap.String("model", w.model), zap.String("sql", w.sql))

		res, err := tx.tx.ExecContext(ctx, w.sql, w.args...)
		if err != nil {
			tx.abort()
			return 0, fmt.Errorf("%s: %w", w.model, ConvertDBError(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.abort()
			return 0, fmt.Errorf("%s: %w", w.model, err)
		}
		if w.update && n == 0 {
			tx.abort()
			return 0, fmt.Errorf("%s: %w", w.model, store.ErrNotFound)
		}
		rows += int(n)
	}

	if err := tx.tx.Commit(); err != nil {
		tx.abort()
		return 0, ConvertDBError(err)
	}
	return rows, nil
}

// Rollback discards the transaction
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil
	}
	tx.done = true
	tx.writes = nil
	return tx.tx.Rollback()
}

func (tx *Tx) abort() {
	if err := tx.tx.Rollback(); err != nil {
		tx.store.logger.Warn("rollback after failed commit", zap.Error(err))
	}
}

func (tx *Tx) push(w statement) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, w)
}

func (tx *Tx) usable(m *schema.Model) error {
	tx.mu.Lock()
	done := tx.done
	tx.mu.Unlock()
	if done {
		return store.ErrTxDone
	}
	if !tx.store.Supports(m.Name) {
		return fmt.Errorf("%w: %s", store.ErrUnsupportedModel, m.Name)
	}
	return nil
}

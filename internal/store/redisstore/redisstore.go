// Package redisstore stores records as JSON strings in Redis. Rows live under
// <prefix><table>:row:<first key set values> and every other key set keeps an
// index entry <prefix><table>:ix:<key set>:<values> pointing at the row.
// Integer keys are numbered from <prefix><table>:seq:<field>.
// Writes are buffered and applied in one MULTI/EXEC on Commit, guarded by
// WATCH on every key they touch.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// ErrConflict is returned when a watched key changed before Commit
var ErrConflict = errors.New("concurrent modification")

// Config holds Redis connection settings
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix is prepended to every key
	Prefix string
}

// DefaultConfig returns a default Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: "deltapatch:",
	}
}

// Connect creates a client and checks the connection
func Connect(ctx context.Context, config Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}
	return client, nil
}

// Store is a store over Redis
type Store struct {
	client   redis.UniversalClient
	registry *schema.Registry
	prefix   string
	logger   *zap.Logger
	allowed  map[string]bool // nil allows every registered model
}

// Option configures a Store
type Option func(*Store)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLogger sets the logger
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

// New creates a store over client
func New(client redis.UniversalClient, reg *schema.Registry, opts ...Option) *Store {
	s := &Store{
		client:   client,
		registry: reg,
		prefix:   DefaultConfig().Prefix,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supports reports whether the model is registered and allowed
func (s *Store) Supports(model string) bool {
	m, ok := s.registry.Get(model)
	if !ok {
		return false
	}
	return s.allowed == nil || s.allowed[strings.ToLower(m.Name)]
}

// Begin starts a transaction. Nothing is sent to Redis until Commit.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) rowKey(m *schema.Model, pk string) string {
	return s.prefix + m.Table + ":row:" + pk
}

func (s *Store) indexKey(m *schema.Model, ks schema.KeySet, values string) string {
	return s.prefix + m.Table + ":ix:" + ks.Name + ":" + values
}

// Tx buffers writes until Commit
type Tx struct {
	store  *Store
	writes []write
	done   bool
	mu     sync.Mutex
}

type write struct {
	model    *schema.Model
	original schema.Record // nil for inserts
	record   schema.Record
	changed  []string
}

// FindOne looks each predicate group up by key, in order
func (tx *Tx) FindOne(ctx context.Context, m *schema.Model, pred *query.Predicate) (schema.Record, error) {
	if err := tx.usable(ctx, m); err != nil {
		return nil, err
	}
	s := tx.store

	for _, group := range pred.Groups {
		ks, ok := keySet(m, group.Name)
		if !ok {
			return nil, fmt.Errorf("model %s has no key set %s", m.Name, group.Name)
		}
		values, ok := encodeKey(ks, schema.Record(group.Values()))
		if !ok {
			continue
		}

		pk := values
		if !isRowKey(m, ks) {
			var err error
			pk, err = s.client.Get(ctx, s.indexKey(m, ks, values)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		data, err := s.client.Get(ctx, s.rowKey(m, pk)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return decodeRecord(m, data)
	}
	return nil, nil
}

// NextKey increments the sequence of the field. A missing sequence is
// seeded from the highest stored value first.
func (tx *Tx) NextKey(ctx context.Context, m *schema.Model, field string) (int64, error) {
	if err := tx.usable(ctx, m); err != nil {
		return 0, err
	}
	s := tx.store
	seq := s.prefix + m.Table + ":seq:" + field

	exists, err := s.client.Exists(ctx, seq).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		high, err := s.maxKey(ctx, m, field)
		if err != nil {
			return 0, err
		}
		if err := s.client.SetNX(ctx, seq, high, 0).Err(); err != nil {
			return 0, err
		}
	}
	return s.client.Incr(ctx, seq).Result()
}

// maxKey scans the rows of a model for the highest value of an integer field
func (s *Store) maxKey(ctx context.Context, m *schema.Model, field string) (int64, error) {
	var high int64
	iter := s.client.Scan(ctx, 0, s.prefix+m.Table+":row:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, err
		}
		rec, err := decodeRecord(m, data)
		if err != nil {
			return 0, err
		}
		if n, err := cast.ToInt64E(rec[field]); err == nil && n > high {
			high = n
		}
	}
	return high, iter.Err()
}

// StageInsert buffers a new record
func (tx *Tx) StageInsert(ctx context.Context, m *schema.Model, rec schema.Record) error {
	if err := tx.usable(ctx, m); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, write{model: m, record: rec.Clone()})
	return nil
}

// StageUpdate buffers the changed fields of a stored record
func (tx *Tx) StageUpdate(ctx context.Context, m *schema.Model, original, updated schema.Record, changed []string) error {
	if err := tx.usable(ctx, m); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, write{
		model:    m,
		original: original.Clone(),
		record:   updated.Clone(),
		changed:  append([]string(nil), changed...),
	})
	return nil
}

// Commit applies the buffered writes atomically and returns their count
func (tx *Tx) Commit(ctx context.Context) (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return 0, store.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx.done = true
	if len(tx.writes) == 0 {
		return 0, nil
	}

	s := tx.store
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		b := &batch{ctx: ctx, store: s, rtx: rtx, values: make(map[string]*string)}
		for _, w := range tx.writes {
			var err error
			if w.original == nil {
				err = b.insert(w.model, w.record)
			} else {
				err = b.update(w.model, w.original, w.record, w.changed)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", w.model.Name, err)
			}
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range b.order {
				if v := b.values[key]; v != nil {
					pipe.Set(ctx, key, *v, 0)
				} else {
					pipe.Del(ctx, key)
				}
			}
			return nil
		})
		return err
	}, tx.watchKeys()...)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return 0, err
	}

	s.logger.Debug("redis commit", zap.Int("writes", len(tx.writes)))
	return len(tx.writes), nil
}

// Rollback discards the buffered writes
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.writes = nil
	return nil
}

// watchKeys returns every key the buffered writes may read or replace
func (tx *Tx) watchKeys() []string {
	s := tx.store
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, w := range tx.writes {
		for _, rec := range []schema.Record{w.original, w.record} {
			if rec == nil {
				continue
			}
			for _, ks := range w.model.KeySets {
				values, ok := encodeKey(ks, rec)
				if !ok {
					continue
				}
				if isRowKey(w.model, ks) {
					add(s.rowKey(w.model, values))
				} else {
					add(s.indexKey(w.model, ks, values))
				}
			}
		}
	}
	return keys
}

func (tx *Tx) usable(ctx context.Context, m *schema.Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.mu.Lock()
	done := tx.done
	tx.mu.Unlock()
	if done {
		return store.ErrTxDone
	}
	if !tx.store.Supports(m.Name) {
		return fmt.Errorf("%w: %s", store.ErrUnsupportedModel, m.Name)
	}
	if !m.Valid() {
		return fmt.Errorf("%w: %s has no key", store.ErrUnsupportedModel, m.Name)
	}
	return nil
}

// batch reads through the pending writes of one commit
type batch struct {
	ctx    context.Context
	store  *Store
	rtx    *redis.Tx
	values map[string]*string // nil deletes the key
	order  []string
}

func (b *batch) get(key string) (string, bool, error) {
	if v, ok := b.values[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	v, err := b.rtx.Get(b.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *batch) set(key, value string) {
	if _, ok := b.values[key]; !ok {
		b.order = append(b.order, key)
	}
	b.values[key] = &value
}

func (b *batch) del(key string) {
	if _, ok := b.values[key]; !ok {
		b.order = append(b.order, key)
	}
	b.values[key] = nil
}

// claim points an index entry at pk unless another row holds it
func (b *batch) claim(m *schema.Model, ks schema.KeySet, rec schema.Record, pk string) error {
	values, ok := encodeKey(ks, rec)
	if !ok {
		return nil
	}
	key := b.store.indexKey(m, ks, values)
	holder, exists, err := b.get(key)
	if err != nil {
		return err
	}
	if exists && holder != pk {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, ks.Name)
	}
	b.set(key, pk)
	return nil
}

func (b *batch) insert(m *schema.Model, rec schema.Record) error {
	pk, ok := encodeKey(m.KeySets[0], rec)
	if !ok {
		return fmt.Errorf("%w: key set %s", store.ErrNotNullViolation, m.KeySets[0].Name)
	}
	rowKey := b.store.rowKey(m, pk)
	if _, exists, err := b.get(rowKey); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, m.KeySets[0].Name)
	}

	for _, ks := range m.KeySets[1:] {
		if err := b.claim(m, ks, rec, pk); err != nil {
			return err
		}
	}

	data, err := encodeRecord(m, rec)
	if err != nil {
		return err
	}
	b.set(rowKey, data)
	return nil
}

func (b *batch) update(m *schema.Model, original, updated schema.Record, changed []string) error {
	oldPK, ok := encodeKey(m.KeySets[0], original)
	if !ok {
		return store.ErrNotFound
	}
	oldKey := b.store.rowKey(m, oldPK)
	data, exists, err := b.get(oldKey)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	current, err := decodeRecord(m, data)
	if err != nil {
		return err
	}
	next := current.Clone()
	for _, name := range changed {
		next[name] = updated[name]
	}

	newPK, ok := encodeKey(m.KeySets[0], next)
	if !ok {
		return fmt.Errorf("%w: key set %s", store.ErrNotNullViolation, m.KeySets[0].Name)
	}
	if newPK != oldPK {
		if _, taken, err := b.get(b.store.rowKey(m, newPK)); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, m.KeySets[0].Name)
		}
		b.del(oldKey)
	}

	for _, ks := range m.KeySets[1:] {
		oldValues, hadOld := encodeKey(ks, current)
		newValues, hasNew := encodeKey(ks, next)
		if hadOld && (!hasNew || oldValues != newValues) {
			b.del(b.store.indexKey(m, ks, oldValues))
		}
		if err := b.claim(m, ks, next, newPK); err != nil {
			return err
		}
	}

	out, err := encodeRecord(m, next)
	if err != nil {
		return err
	}
	b.set(b.store.rowKey(m, newPK), out)
	return nil
}

func keySet(m *schema.Model, name string) (schema.KeySet, bool) {
	for _, ks := range m.KeySets {
		if ks.Name == name {
			return ks, true
		}
	}
	return schema.KeySet{}, false
}

// isRowKey reports whether ks addresses the row itself. The first key set
// does, whether it is a primary key or a unique index; the others are index
// entries pointing at it.
func isRowKey(m *schema.Model, ks schema.KeySet) bool {
	return len(m.KeySets) > 0 && m.KeySets[0].Name == ks.Name
}

// encodeKey renders the key set values of rec. It reports false when any
// value is nil.
func encodeKey(ks schema.KeySet, rec schema.Record) (string, bool) {
	parts := make([]string, len(ks.Fields))
	for i, name := range ks.Fields {
		v := rec[name]
		if v == nil {
			return "", false
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case uuid.UUID:
			s = val.String()
		case time.Time:
			s = val.UTC().Format(time.RFC3339Nano)
		default:
			s = fmt.Sprint(val)
		}
		parts[i] = url.QueryEscape(s)
	}
	return strings.Join(parts, ":"), true
}

func encodeRecord(m *schema.Model, rec schema.Record) (string, error) {
	row := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Scalars() {
		row[f.Name] = rec[f.Name]
	}
	data, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", m.Name, err)
	}
	return string(data), nil
}

func decodeRecord(m *schema.Model, data string) (schema.Record, error) {
	dec := json.NewDecoder(bytes.NewBufferString(data))
	dec.UseNumber()

	var row map[string]interface{}
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Name, err)
	}

	rec := make(schema.Record, len(m.Fields))
	for _, f := range m.Scalars() {
		raw, ok := row[f.Name]
		if !ok {
			// field added after the row was written
			rec[f.Name] = f.Zero()
			continue
		}
		v, err := schema.Coerce(f, raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.Name, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}

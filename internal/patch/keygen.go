package patch

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// KeyGenerator produces values for primary key fields of new records
type KeyGenerator interface {
	Create(f *schema.Field) (interface{}, error)
}

// UUIDv7Generator creates time-ordered version 7 UUIDs. String fields receive
// the canonical text form.
type UUIDv7Generator struct{}

// Create returns a new version 7 UUID for the field
func (UUIDv7Generator) Create(f *schema.Field) (interface{}, error) {
	return uuidKey(f, uuid.NewV7)
}

// UUIDv4Generator creates random version 4 UUIDs
type UUIDv4Generator struct{}

// Create returns a new random UUID for the field
func (UUIDv4Generator) Create(f *schema.Field) (interface{}, error) {
	return uuidKey(f, uuid.NewRandom)
}

func uuidKey(f *schema.Field, next func() (uuid.UUID, error)) (interface{}, error) {
	switch f.Type {
	case schema.TypeUUID, schema.TypeString, schema.TypeText:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedKey, f.Name, f.Type)
	}

	id, err := next()
	if err != nil {
		return nil, fmt.Errorf("generate key for %s: %w", f.Name, err)
	}
	if f.Type == schema.TypeUUID {
		return id, nil
	}
	return id.String(), nil
}

// SequentialGenerator hands out increasing numbers. Integer fields receive
// the number, text fields the prefixed number and UUID fields a name-based
// UUID derived from it. Useful for tests and single-process stores.
type SequentialGenerator struct {
	prefix  string
	counter uint64
}

// NewSequentialGenerator creates a sequential generator
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Create returns the next value for the field
func (g *SequentialGenerator) Create(f *schema.Field) (interface{}, error) {
	n := atomic.AddUint64(&g.counter, 1)
	switch f.Type {
	case schema.TypeInt, schema.TypeBigInt:
		return int64(n), nil
	case schema.TypeString, schema.TypeText:
		return g.prefix + strconv.FormatUint(n, 10), nil
	case schema.TypeUUID:
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(g.prefix+strconv.FormatUint(n, 10))), nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedKey, f.Name, f.Type)
	}
}

// Reset restarts the sequence
func (g *SequentialGenerator) Reset() {
	atomic.StoreUint64(&g.counter, 0)
}

// NewKeyGenerator returns the generator registered under name. The empty
// name selects version 7 UUIDs.
func NewKeyGenerator(name string) (KeyGenerator, error) {
	switch strings.ToLower(name) {
	case "", "uuid7", "uuidv7":
		return UUIDv7Generator{}, nil
	case "uuid", "uuid4", "uuidv4":
		return UUIDv4Generator{}, nil
	case "sequential", "seq":
		return NewSequentialGenerator(""), nil
	default:
		return nil, fmt.Errorf("unknown key generator %q", name)
	}
}

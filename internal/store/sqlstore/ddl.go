package sqlstore

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// TypeMapper maps field types to column types of a dialect
type TypeMapper struct {
	dialect Dialect
}

// NewTypeMapper creates a type mapper for the dialect
func NewTypeMapper(dialect Dialect) *TypeMapper {
	return &TypeMapper{dialect: dialect}
}

// MapType converts a field type to a column type
func (tm *TypeMapper) MapType(f *schema.Field) (string, error) {
	if f.Collection {
		return "", fmt.Errorf("collection %s has no column", f.Name)
	}
	if tm.dialect.IsPostgres() {
		return tm.postgresType(f.Type)
	}
	return tm.sqliteType(f.Type)
}

func (tm *TypeMapper) postgresType(t schema.FieldType) (string, error) {
	switch t {
	case schema.TypeString, schema.TypeEnum:
		return "VARCHAR(255)", nil
	case schema.TypeText:
		return "TEXT", nil
	case schema.TypeInt:
		return "INTEGER", nil
	case schema.TypeBigInt:
		return "BIGINT", nil
	case schema.TypeFloat:
		return "DOUBLE PRECISION", nil
	case schema.TypeBool:
		return "BOOLEAN", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP WITH TIME ZONE", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeUUID:
		return "UUID", nil
	default:
		return "", fmt.Errorf("unsupported type: %s", t)
	}
}

// sqliteType uses declared types that go-sqlite3 converts back on scan
func (tm *TypeMapper) sqliteType(t schema.FieldType) (string, error) {
	switch t {
	case schema.TypeString, schema.TypeText, schema.TypeEnum, schema.TypeUUID:
		return "TEXT", nil
	case schema.TypeInt, schema.TypeBigInt:
		return "INTEGER", nil
	case schema.TypeFloat:
		return "REAL", nil
	case schema.TypeBool:
		return "BOOLEAN", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP", nil
	case schema.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("unsupported type: %s", t)
	}
}

// MapNullability returns the NULL/NOT NULL constraint for a field
func (tm *TypeMapper) MapNullability(f *schema.Field) string {
	if f.Nullable {
		return "NULL"
	}
	return "NOT NULL"
}

// CreateTable generates a CREATE TABLE IF NOT EXISTS statement. The primary
// key set becomes the primary key, every other key set a named unique
// constraint and enum fields a check constraint.
func CreateTable(dialect Dialect, m *schema.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("model cannot be nil")
	}
	tm := NewTypeMapper(dialect)

	var defs []string
	for _, f := range m.Scalars() {
		columnType, err := tm.MapType(f)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		def := fmt.Sprintf("%s %s %s", QuoteIdentifier(f.Column), columnType, tm.MapNullability(f))
		if f.Type == schema.TypeEnum && len(f.EnumValues) > 0 {
			def += " " + enumCheck(f)
		}
		defs = append(defs, def)
	}

	for _, ks := range m.KeySets {
		columns, err := keyColumns(m, ks)
		if err != nil {
			return "", err
		}
		if ks.Primary {
			defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", columns))
			continue
		}
		name := fmt.Sprintf("%s_%s", m.Table, ks.Name)
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", QuoteIdentifier(name), columns))
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdentifier(m.Table)))
	for i, def := range defs {
		b.WriteString("  ")
		b.WriteString(def)
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")

	return b.String(), nil
}

// CreateTables generates the CREATE TABLE statements of models in order
func CreateTables(dialect Dialect, models []*schema.Model) ([]string, error) {
	statements := make([]string, 0, len(models))
	for _, m := range models {
		ddl, err := CreateTable(dialect, m)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		statements = append(statements, ddl)
	}
	return statements, nil
}

// DropTable generates a DROP TABLE statement
func DropTable(m *schema.Model) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", QuoteIdentifier(m.Table))
}

func keyColumns(m *schema.Model, ks schema.KeySet) (string, error) {
	cols := make([]string, 0, len(ks.Fields))
	for _, name := range ks.Fields {
		f, ok := m.Field(name)
		if !ok {
			return "", fmt.Errorf("key set %s references unknown field %s", ks.Name, name)
		}
		cols = append(cols, QuoteIdentifier(f.Column))
	}
	return strings.Join(cols, ", "), nil
}

func enumCheck(f *schema.Field) string {
	quoted := make([]string, len(f.EnumValues))
	for i, v := range f.EnumValues {
		// Escape single quotes by doubling them
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprintf("CHECK (%s IN (%s))", QuoteIdentifier(f.Column), strings.Join(quoted, ", "))
}

// QuoteIdentifier quotes an identifier for both SQLite and PostgreSQL
func QuoteIdentifier(identifier string) string {
	// Escape internal double quotes by doubling them
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

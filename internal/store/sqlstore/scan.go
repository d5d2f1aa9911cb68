package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// scanRecord scans a row selected with the given fields, in order
func scanRecord(row *sql.Row, fields []*schema.Field) (schema.Record, error) {
	// Create value holders for each column
	values := make([]interface{}, len(fields))
	valuePtrs := make([]interface{}, len(fields))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := row.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	rec := make(schema.Record, len(fields))
	for i, f := range fields {
		v, err := fromColumn(f, values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Column, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}

// fromColumn normalizes a scanned value to the field's record type. Text
// columns may come back as bytes depending on the driver.
func fromColumn(f *schema.Field, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok && f.Type != schema.TypeUUID {
		raw = string(b)
	}
	return schema.Coerce(f, raw)
}

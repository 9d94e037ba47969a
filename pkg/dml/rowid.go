package dml

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/filter"
)

// RowidExtractor converts the engine's per-row rowid value (a scalar Go
// value for a single-column PK, or a []interface{} of per-key-ordinal
// values for a composite PK) into the filter.Value shape UPDATE/DELETE/
// INSERT-OUTPUT use for PK addressing and filter.RowidMapping.
type RowidExtractor struct {
	pkColumns []string
	pkTypes   []engine.LogicalType
}

// NewRowidExtractor builds an extractor from a table's catalog entry,
// ordering PK columns by their declared KeyOrdinal.
func NewRowidExtractor(table engine.TableEntry) *RowidExtractor {
	cols := table.Columns()
	ordinals := table.PrimaryKeyOrdinals()

	names := make([]string, len(ordinals))
	types := make([]engine.LogicalType, len(ordinals))
	for _, idx := range ordinals {
		c := cols[idx]
		pos := c.KeyOrdinal
		if pos < 0 || pos >= len(ordinals) {
			pos = 0
		}
		names[pos] = c.Name
		types[pos] = c.Type
	}
	return &RowidExtractor{pkColumns: names, pkTypes: types}
}

// Composite reports whether the primary key spans more than one column.
func (r *RowidExtractor) Composite() bool { return len(r.pkColumns) > 1 }

// Mapping returns the filter.RowidMapping this extractor drives.
func (r *RowidExtractor) Mapping() filter.RowidMapping {
	return filter.RowidMapping{PKColumns: r.pkColumns}
}

// PKColumns returns the primary key column names in key-ordinal order.
func (r *RowidExtractor) PKColumns() []string { return r.pkColumns }

// Extract converts one row's rowid value into a filter.Value: a single
// scalar literal for a simple PK, or a ValueStruct whose Fields align
// with PKColumns for a composite one.
func (r *RowidExtractor) Extract(rowid interface{}) (filter.Value, error) {
	if !r.Composite() {
		return scalarToValue(rowid, r.pkTypes[0])
	}

	parts, ok := rowid.([]interface{})
	if !ok || len(parts) != len(r.pkColumns) {
		return filter.Value{}, fmt.Errorf("dml: composite rowid expected %d fields, got %v", len(r.pkColumns), rowid)
	}
	fields := make([]filter.Value, len(parts))
	for i, p := range parts {
		v, err := scalarToValue(p, r.pkTypes[i])
		if err != nil {
			return filter.Value{}, err
		}
		fields[i] = v
	}
	return filter.StructValue(fields...), nil
}

func scalarToValue(raw interface{}, lt engine.LogicalType) (filter.Value, error) {
	if raw == nil {
		return filter.NullValue(), nil
	}
	switch v := raw.(type) {
	case bool:
		return filter.BoolValue(v), nil
	case int8:
		return filter.IntValue(int64(v)), nil
	case int16:
		return filter.IntValue(int64(v)), nil
	case int32:
		return filter.IntValue(int64(v)), nil
	case int64:
		return filter.IntValue(v), nil
	case int:
		return filter.IntValue(int64(v)), nil
	case uint64:
		return filter.UintValue(v), nil
	case float32:
		return filter.FloatValue(float64(v)), nil
	case float64:
		return filter.FloatValue(v), nil
	case decimal.Decimal:
		return filter.DecimalValue(v), nil
	case string:
		return filter.StringValue(v), nil
	case []byte:
		return filter.BytesValue(v), nil
	case uuid.UUID:
		return filter.UUIDValue(v), nil
	case time.Time:
		if lt.ID == engine.TypeDate {
			return filter.DateValue(v), nil
		}
		return filter.DateTimeValue(v), nil
	default:
		return filter.Value{}, fmt.Errorf("dml: unsupported rowid scalar type %T", raw)
	}
}

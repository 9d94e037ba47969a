package dml

import (
	"fmt"
	"strings"

	"github.com/ha1tch/mssqlengine/pkg/filter"
)

// UpdateExecutor batches row updates into VALUES-join UPDATE statements
// addressed by primary key (scalar or composite), avoiding a
// round-trip per row.
type UpdateExecutor struct {
	runner *Runner
	cfg    Config

	schema, table string
	pkColumns     []string
	setColumns    []string

	effectiveBatch int
	pending        [][]filter.Value // pk fields..., then set fields...

	batchesTotal int
	rowsTotal    uint64
}

// NewUpdateExecutor prepares updates of setColumns on schema.table,
// addressed by the primary key columns in rowid.PKColumns() order.
func NewUpdateExecutor(runner *Runner, cfg Config, schema, table string, rowid *RowidExtractor, setColumns []string) *UpdateExecutor {
	cfg = cfg.normalized()
	paramsPerRow := len(rowid.PKColumns()) + len(setColumns)
	return &UpdateExecutor{
		runner:         runner,
		cfg:            cfg,
		schema:         schema,
		table:          table,
		pkColumns:      rowid.PKColumns(),
		setColumns:     setColumns,
		effectiveBatch: cfg.EffectiveBatchSize(paramsPerRow),
	}
}

// Add buffers one row: pk is the rowid value for the row being updated
// (scalar or a ValueStruct for a composite key), values are the new
// column values in setColumns order.
func (ex *UpdateExecutor) Add(pk filter.Value, values []filter.Value) error {
	if len(values) != len(ex.setColumns) {
		return fmt.Errorf("dml: update row has %d values, want %d columns", len(values), len(ex.setColumns))
	}
	pkFields, err := flattenPK(pk, len(ex.pkColumns))
	if err != nil {
		return err
	}

	row := append(append([]filter.Value{}, pkFields...), values...)

	if !ex.runner.Pinned() && len(ex.pending) >= ex.effectiveBatch {
		if err := ex.flush(); err != nil {
			return err
		}
	}
	ex.pending = append(ex.pending, row)
	return nil
}

func flattenPK(pk filter.Value, nPK int) ([]filter.Value, error) {
	if nPK <= 1 {
		return []filter.Value{pk}, nil
	}
	if pk.Kind != filter.ValueStruct || len(pk.Fields) != nPK {
		return nil, fmt.Errorf("dml: composite pk expects %d fields, got %v", nPK, pk)
	}
	return pk.Fields, nil
}

func (ex *UpdateExecutor) flush() error {
	if len(ex.pending) == 0 {
		return nil
	}
	sqlText, err := ex.buildSQL(ex.pending)
	if err != nil {
		return err
	}
	ex.batchesTotal++
	outcome, err := ex.runner.ExecuteBatch("UPDATE", ex.batchesTotal, ex.batchesTotal, sqlText, false)
	ex.pending = ex.pending[:0]
	if err != nil {
		return err
	}
	ex.rowsTotal += outcome.RowsAffected
	return nil
}

func (ex *UpdateExecutor) buildSQL(rows [][]filter.Value) (string, error) {
	var b strings.Builder
	b.WriteString("UPDATE t SET ")
	for i, c := range ex.setColumns {
		if i > 0 {
			b.WriteByte(',')
		}
		id := filter.EscapeIdentifier(c)
		b.WriteString("t.")
		b.WriteString(id)
		b.WriteString(" = v.")
		b.WriteString(id)
	}
	b.WriteString("\nFROM ")
	b.WriteString(filter.EscapeIdentifier(ex.schema))
	b.WriteByte('.')
	b.WriteString(filter.EscapeIdentifier(ex.table))
	b.WriteString(" AS t\nJOIN (VALUES ")

	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		parts := make([]string, len(row))
		for j, v := range row {
			s, err := filter.SerializeValue(v)
			if err != nil {
				return "", err
			}
			parts[j] = s
		}
		b.WriteString("(" + strings.Join(parts, ",") + ")")
	}

	b.WriteString(") AS v(")
	allCols := append(append([]string{}, ex.pkColumns...), ex.setColumns...)
	for i, c := range allCols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(filter.EscapeIdentifier(c))
	}
	b.WriteString(")\nON ")
	for i, c := range ex.pkColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		id := filter.EscapeIdentifier(c)
		b.WriteString("t.")
		b.WriteString(id)
		b.WriteString(" = v.")
		b.WriteString(id)
	}
	b.WriteString(";")
	return b.String(), nil
}

// Finalize flushes remaining rows and releases the runner's connection.
func (ex *UpdateExecutor) Finalize() (uint64, error) {
	if err := ex.flush(); err != nil {
		ex.runner.Finalize()
		return ex.rowsTotal, err
	}
	ex.runner.Finalize()
	return ex.rowsTotal, nil
}

package dml

import (
	"strings"

	"github.com/ha1tch/mssqlengine/pkg/filter"
)

// DeleteExecutor batches row deletions into VALUES-join DELETE
// statements addressed by primary key (scalar or composite).
type DeleteExecutor struct {
	runner *Runner
	cfg    Config

	schema, table string
	pkColumns     []string

	effectiveBatch int
	pending        [][]filter.Value

	batchesTotal int
	rowsTotal    uint64
}

// NewDeleteExecutor prepares deletes from schema.table, addressed by
// the primary key columns in rowid.PKColumns() order.
func NewDeleteExecutor(runner *Runner, cfg Config, schema, table string, rowid *RowidExtractor) *DeleteExecutor {
	cfg = cfg.normalized()
	return &DeleteExecutor{
		runner:         runner,
		cfg:            cfg,
		schema:         schema,
		table:          table,
		pkColumns:      rowid.PKColumns(),
		effectiveBatch: cfg.EffectiveBatchSize(len(rowid.PKColumns())),
	}
}

// Add buffers one row's rowid for deletion.
func (ex *DeleteExecutor) Add(pk filter.Value) error {
	pkFields, err := flattenPK(pk, len(ex.pkColumns))
	if err != nil {
		return err
	}
	if !ex.runner.Pinned() && len(ex.pending) >= ex.effectiveBatch {
		if err := ex.flush(); err != nil {
			return err
		}
	}
	ex.pending = append(ex.pending, pkFields)
	return nil
}

func (ex *DeleteExecutor) flush() error {
	if len(ex.pending) == 0 {
		return nil
	}
	sqlText, err := ex.buildSQL(ex.pending)
	if err != nil {
		return err
	}
	ex.batchesTotal++
	outcome, err := ex.runner.ExecuteBatch("DELETE", ex.batchesTotal, ex.batchesTotal, sqlText, false)
	ex.pending = ex.pending[:0]
	if err != nil {
		return err
	}
	ex.rowsTotal += outcome.RowsAffected
	return nil
}

func (ex *DeleteExecutor) buildSQL(rows [][]filter.Value) (string, error) {
	var b strings.Builder
	b.WriteString("DELETE t FROM ")
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
	for i, c := range ex.pkColumns {
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
func (ex *DeleteExecutor) Finalize() (uint64, error) {
	if err := ex.flush(); err != nil {
		ex.runner.Finalize()
		return ex.rowsTotal, err
	}
	ex.runner.Finalize()
	return ex.rowsTotal, nil
}

package dml

import (
	"fmt"
	"strings"

	"github.com/ha1tch/mssqlengine/pkg/filter"
)

// InsertExecutor batches rows into multi-row VALUES INSERT statements,
// optionally decoding an OUTPUT INSERTED clause into ResultRows.
type InsertExecutor struct {
	runner *Runner
	cfg    Config

	schema, table string
	columns       []string
	returning     bool

	effectiveBatch int
	pending        [][]filter.Value
	pendingSQLLen  int

	batchesTotal int
	rowsTotal    uint64
	returned     []ResultRow
}

// NewInsertExecutor prepares an insert into schema.table over columns.
// When returning is true, every flush appends its OUTPUT rows (in
// COLMETADATA order) to the accumulated Returned() result.
func NewInsertExecutor(runner *Runner, cfg Config, schema, table string, columns []string, returning bool) *InsertExecutor {
	cfg = cfg.normalized()
	return &InsertExecutor{
		runner:         runner,
		cfg:            cfg,
		schema:         schema,
		table:          table,
		columns:        columns,
		returning:      returning,
		effectiveBatch: cfg.EffectiveBatchSize(len(columns)),
	}
}

// Add buffers one row's literal values, flushing first if the runner is
// not transaction-pinned and the effective batch size or SQL byte cap
// would otherwise be exceeded.
func (ex *InsertExecutor) Add(row []filter.Value) error {
	if len(row) != len(ex.columns) {
		return fmt.Errorf("dml: insert row has %d values, want %d columns", len(row), len(ex.columns))
	}

	rowSQL, err := ex.rowValuesSQL(row)
	if err != nil {
		return err
	}

	if !ex.runner.Pinned() && len(ex.pending) > 0 {
		wouldExceedRows := len(ex.pending)+1 > ex.effectiveBatch
		wouldExceedBytes := ex.pendingSQLLen+len(rowSQL)+2 > ex.cfg.MaxSQLBytes
		if wouldExceedRows || wouldExceedBytes {
			if err := ex.flush(); err != nil {
				return err
			}
		}
	}

	ex.pending = append(ex.pending, row)
	ex.pendingSQLLen += len(rowSQL) + 2
	return nil
}

func (ex *InsertExecutor) rowValuesSQL(row []filter.Value) (string, error) {
	parts := make([]string, len(row))
	for i, v := range row {
		s, err := filter.SerializeValue(v)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

func (ex *InsertExecutor) flush() error {
	if len(ex.pending) == 0 {
		return nil
	}
	sqlText, err := ex.buildSQL(ex.pending)
	if err != nil {
		return err
	}
	ex.batchesTotal++
	outcome, err := ex.runner.ExecuteBatch("INSERT", ex.batchesTotal, ex.batchesTotal, sqlText, ex.returning)
	ex.pending = ex.pending[:0]
	ex.pendingSQLLen = 0
	if err != nil {
		return err
	}
	ex.rowsTotal += outcome.RowsAffected
	if ex.returning {
		ex.returned = append(ex.returned, outcome.Returned...)
	}
	return nil
}

func (ex *InsertExecutor) buildSQL(rows [][]filter.Value) (string, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(filter.EscapeIdentifier(ex.schema))
	b.WriteByte('.')
	b.WriteString(filter.EscapeIdentifier(ex.table))
	b.WriteString(" (")
	for i, c := range ex.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(filter.EscapeIdentifier(c))
	}
	b.WriteString(")\n")

	if ex.returning {
		b.WriteString("OUTPUT ")
		for i, c := range ex.columns {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString("INSERTED.")
			b.WriteString(filter.EscapeIdentifier(c))
		}
		b.WriteString("\n")
	}

	b.WriteString("VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		rowSQL, err := ex.rowValuesSQL(row)
		if err != nil {
			return "", err
		}
		b.WriteString(rowSQL)
	}
	b.WriteString(";")
	return b.String(), nil
}

// FlushPending flushes any buffered rows without releasing the
// runner's connection, for callers (CTAS) that need to keep driving
// the same connection afterward.
func (ex *InsertExecutor) FlushPending() (uint64, []ResultRow, error) {
	if err := ex.flush(); err != nil {
		return ex.rowsTotal, ex.returned, err
	}
	return ex.rowsTotal, ex.returned, nil
}

// Finalize flushes any buffered rows and releases the runner's
// connection. Returns the cumulative row count and, if returning was
// requested, every decoded OUTPUT row across all batches.
func (ex *InsertExecutor) Finalize() (uint64, []ResultRow, error) {
	rows, returned, err := ex.FlushPending()
	ex.runner.Finalize()
	return rows, returned, err
}

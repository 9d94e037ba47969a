package dml

import (
	"fmt"
	"strings"

	"github.com/ha1tch/mssqlengine/pkg/connection"
	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/filter"
)

// CTASOutcome is the result of a CreateTableAs run: the row count
// inserted, and, if phase 2 failed, both the original error and the
// outcome of the best-effort cleanup DROP (kept separate so the
// original error remains the primary failure reason).
type CTASOutcome struct {
	RowsInserted uint64
	CleanupErr   error // non-nil only if phase 2 failed and cleanup was attempted
}

// ColumnDDL renders one column's T-SQL type from its logical type.
func ColumnDDL(c engine.ColumnEntry) (string, error) {
	sqlType, err := logicalTypeSQL(c.Type)
	if err != nil {
		return "", fmt.Errorf("dml: column %q: %w", c.Name, err)
	}
	def := filter.EscapeIdentifier(c.Name) + " " + sqlType
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

func logicalTypeSQL(lt engine.LogicalType) (string, error) {
	switch lt.ID {
	case engine.TypeBoolean:
		return "BIT", nil
	case engine.TypeTinyInt:
		return "TINYINT", nil
	case engine.TypeSmallInt:
		return "SMALLINT", nil
	case engine.TypeInteger:
		return "INT", nil
	case engine.TypeBigInt:
		return "BIGINT", nil
	case engine.TypeFloat:
		return "REAL", nil
	case engine.TypeDouble:
		return "FLOAT", nil
	case engine.TypeDecimal:
		w, s := lt.Width, lt.Scale
		if w <= 0 {
			w = 38
		}
		return fmt.Sprintf("DECIMAL(%d,%d)", w, s), nil
	case engine.TypeVarchar:
		if lt.Width <= 0 || lt.Width > 4000 {
			return "NVARCHAR(MAX)", nil
		}
		return fmt.Sprintf("NVARCHAR(%d)", lt.Width), nil
	case engine.TypeBlob:
		return "VARBINARY(MAX)", nil
	case engine.TypeUUID:
		return "UNIQUEIDENTIFIER", nil
	case engine.TypeDate:
		return "DATE", nil
	case engine.TypeTime:
		return "TIME(7)", nil
	case engine.TypeTimestamp:
		return "DATETIME2(7)", nil
	case engine.TypeTimestampTZ:
		return "DATETIMEOFFSET(7)", nil
	default:
		return "", fmt.Errorf("unsupported logical type id %d for CREATE TABLE", lt.ID)
	}
}

// BuildCreateTableSQL renders the DDL for CTAS phase 1. orReplace
// prepends a DROP TABLE IF EXISTS when the target may already exist.
func BuildCreateTableSQL(schema, table string, columns []engine.ColumnEntry, orReplace bool) (string, error) {
	var b strings.Builder
	if orReplace {
		b.WriteString("DROP TABLE IF EXISTS ")
		b.WriteString(filter.EscapeIdentifier(schema))
		b.WriteByte('.')
		b.WriteString(filter.EscapeIdentifier(table))
		b.WriteString(";\n")
	}

	b.WriteString("CREATE TABLE ")
	b.WriteString(filter.EscapeIdentifier(schema))
	b.WriteByte('.')
	b.WriteString(filter.EscapeIdentifier(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		def, err := ColumnDDL(c)
		if err != nil {
			return "", err
		}
		b.WriteString(def)
	}
	b.WriteString(");")
	return b.String(), nil
}

func dropTableSQL(schema, table string) string {
	return "DROP TABLE " + filter.EscapeIdentifier(schema) + "." + filter.EscapeIdentifier(table) + ";"
}

// CTAS drives the two-phase CREATE TABLE + INSERT: phase 1 issues DDL
// directly on runner's connection (outside any batching), phase 2 hands
// rows to an InsertExecutor built over the same runner. rowsFn supplies
// producer rows one chunk at a time; it returns (rows, done).
func CTAS(runner *Runner, cfg Config, schema, table string, columns []engine.ColumnEntry, orReplace bool, rowsFn func() ([][]filter.Value, bool, error)) (CTASOutcome, error) {
	conn := runner.Conn()

	ddl, err := BuildCreateTableSQL(schema, table, columns, orReplace)
	if err != nil {
		runner.Finalize()
		return CTASOutcome{}, err
	}
	if err := connQuick(conn, ddl); err != nil {
		runner.Finalize()
		return CTASOutcome{}, fmt.Errorf("dml: CTAS phase 1 (CREATE TABLE) failed: %w", err)
	}

	colNames := make([]string, len(columns))
	for i, c := range columns {
		colNames[i] = c.Name
	}
	ins := NewInsertExecutor(runner, cfg, schema, table, colNames, false)

	for {
		rows, done, err := rowsFn()
		if err != nil {
			return ctasCleanup(conn, runner, schema, table, err)
		}
		failed := false
		for _, row := range rows {
			if addErr := ins.Add(row); addErr != nil {
				err = addErr
				failed = true
				break
			}
		}
		if failed {
			return ctasCleanup(conn, runner, schema, table, err)
		}
		if done {
			break
		}
	}

	rowsInserted, _, err := ins.FlushPending()
	if err != nil {
		return ctasCleanup(conn, runner, schema, table, err)
	}
	runner.Finalize()
	return CTASOutcome{RowsInserted: rowsInserted}, nil
}

// ctasCleanup runs the best-effort DROP TABLE on conn before the
// runner's connection is released, then finalizes the runner.
func ctasCleanup(conn *connection.Connection, runner *Runner, schema, table string, cause error) (CTASOutcome, error) {
	cleanupErr := connQuick(conn, dropTableSQL(schema, table))
	runner.Finalize()
	return CTASOutcome{CleanupErr: cleanupErr}, fmt.Errorf("dml: CTAS phase 2 (INSERT) failed: %w", cause)
}

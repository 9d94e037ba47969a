// Package dml implements the batched INSERT/UPDATE/DELETE/CTAS
// executors that drive DML statements over a pooled connection.
package dml

import (
	"context"
	"fmt"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/connection"
	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/errors"
	"github.com/ha1tch/mssqlengine/pkg/log"
	"github.com/ha1tch/mssqlengine/pkg/pool"
	"github.com/ha1tch/mssqlengine/pkg/tds"
)

// Config controls batching thresholds shared by every executor, per
// spec.md §6's dml_batch_size/dml_max_parameters/insert_*/ keys.
type Config struct {
	BatchSize      int // configured rows per batch (dml_batch_size / insert_batch_size)
	MaxParameters  int // per-statement cap (dml_max_parameters), default 2000
	MaxSQLBytes    int // projected SQL size cap (insert_max_sql_bytes), default 8 MiB
}

const (
	defaultMaxParameters = 2000
	defaultMaxSQLBytes   = 8 * 1024 * 1024
	minMaxSQLBytes       = 1024
)

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxParameters <= 0 {
		c.MaxParameters = defaultMaxParameters
	}
	if c.MaxSQLBytes < minMaxSQLBytes {
		c.MaxSQLBytes = defaultMaxSQLBytes
	}
	return c
}

// EffectiveBatchSize implements spec.md §4.10's formula:
// min(configured_batch_size, max_parameters / params_per_row).
func (c Config) EffectiveBatchSize(paramsPerRow int) int {
	c = c.normalized()
	if paramsPerRow <= 0 {
		return c.BatchSize
	}
	byParams := c.MaxParameters / paramsPerRow
	if byParams < 1 {
		byParams = 1
	}
	if byParams < c.BatchSize {
		return byParams
	}
	return c.BatchSize
}

// BatchOutcome is the result of executing one flushed batch: either a
// row count or a decoded OUTPUT/RETURNING result set.
type BatchOutcome struct {
	RowsAffected uint64
	Returned     []ResultRow // only for INSERT ... OUTPUT
}

// ResultRow is one decoded OUTPUT/RETURNING row, column values in
// COLMETADATA order.
type ResultRow []interface{}

// Stats accumulates counters across every batch of one statement.
type Stats struct {
	BatchesSent  int
	RowsAffected uint64
}

// Runner drives batches of SQL text over a pool handle: it owns exactly
// one connection for the statement's lifetime (buffer-all for
// transaction-pinned statements, eager flush otherwise) and accumulates
// Stats as batches complete.
type Runner struct {
	pool    *pool.Pool
	handle  *pool.Handle
	txKey   string
	pinned  bool

	stats Stats
}

// Acquire checks out a connection for the statement, pinning it to the
// client context's transaction when one is open so later statements in
// the same transaction reuse it (spec.md §4.10's transaction-pinning
// rule: executors buffer all rows and flush only from Finalize while
// pinned).
func Acquire(ctx context.Context, p *pool.Pool, clientCtx engine.ClientContext) (*Runner, error) {
	txKey := ""
	pinned := false
	if clientCtx != nil && clientCtx.InTransaction() {
		txKey = clientCtx.TransactionKey()
		pinned = true
	}
	h, err := p.Acquire(ctx, txKey)
	if err != nil {
		return nil, err
	}
	return &Runner{pool: p, handle: h, txKey: txKey, pinned: pinned}, nil
}

// Conn exposes the runner's underlying connection for callers (CTAS)
// that must issue a bare DDL statement outside the batch/flush path.
func (r *Runner) Conn() *connection.Connection { return r.handle.Conn() }

// Pinned reports whether this runner's connection is transaction-pinned
// (so callers must buffer rows across the whole statement and flush
// only from Finalize).
func (r *Runner) Pinned() bool { return r.pinned }

// ExecuteBatch sends sqlText as a single SQL_BATCH, sums DONE.RowCount
// across the response (a batch may contain multiple statements, each
// producing its own DONE), and decodes any OUTPUT/RETURNING result set
// produced by wantsReturning.
func (r *Runner) ExecuteBatch(op string, batchN, batchM int, sqlText string, wantsReturning bool) (BatchOutcome, error) {
	conn := r.handle.Conn()
	if err := conn.BeginExecute(sqlText); err != nil {
		return BatchOutcome{}, err
	}
	reader := tds.NewMessageReader(conn.Transport(), 30*time.Second)
	parser := tds.NewTokenParser(reader)

	var outcome BatchOutcome
	var cols []tds.Column

	for {
		tok, err := parser.Next()
		if err != nil {
			return outcome, err
		}
		switch tok.Type {
		case tds.TokColMetadata:
			cols = tok.Columns
		case tds.TokRow:
			if wantsReturning {
				outcome.Returned = append(outcome.Returned, ResultRow(tok.Row))
			}
			_ = cols
		case tds.TokError:
			conn.EndExecute()
			return outcome, errors.DMLBatch(op, batchN, batchM, tok.Error.Message).
				WithField("sql_error_number", tok.Error.Number).Build()
		case tds.TokInfo:
			log.Default().DML().Info(tok.Info.Message, "op", op, "batch", batchN)
		case tds.TokDone, tds.TokDoneProc, tds.TokDoneInProc:
			outcome.RowsAffected += tok.Done.RowCount
			if !tok.Done.More() {
				conn.EndExecute()
				r.stats.BatchesSent++
				r.stats.RowsAffected += outcome.RowsAffected
				return outcome, nil
			}
		}
	}
}

// Finalize releases the runner's connection back to its pool (or
// unpins and releases, for a pinned transaction connection).
func (r *Runner) Finalize() {
	if r.pinned {
		r.handle.ReleaseTx()
		return
	}
	r.handle.Release()
}

// Stats returns the accumulated counters for this runner's statement.
func (r *Runner) Stats() Stats { return r.stats }

// connQuick is a helper for callers (CTAS) that need a bare DDL
// statement executed with no row decoding expected.
func connQuick(conn *connection.Connection, sqlText string) error {
	if err := conn.BeginExecute(sqlText); err != nil {
		return err
	}
	reader := tds.NewMessageReader(conn.Transport(), 30*time.Second)
	parser := tds.NewTokenParser(reader)
	for {
		tok, err := parser.Next()
		if err != nil {
			return err
		}
		switch tok.Type {
		case tds.TokError:
			conn.EndExecute()
			return fmt.Errorf("MSSQL DDL failed: %s", tok.Error.Message)
		case tds.TokDone, tds.TokDoneProc, tds.TokDoneInProc:
			if !tok.Done.More() {
				conn.EndExecute()
				return nil
			}
		}
	}
}

// Package query implements statement execution against a pooled
// connection and the columnar result stream the host pulls rows from.
package query

import (
	"fmt"
	"io"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/connection"
	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/errors"
	"github.com/ha1tch/mssqlengine/pkg/log"
	"github.com/ha1tch/mssqlengine/pkg/pool"
	"github.com/ha1tch/mssqlengine/pkg/tds"
)

// State is where a ResultStream sits in its lifecycle.
type State int

const (
	StateInitializing State = iota
	StateStreaming
	StateDraining
	StateComplete
	StateError
)

// defaultCancelDeadline bounds how long cancel() waits for the server's
// DONE(ATTN) acknowledgment before giving up and closing the connection.
const defaultCancelDeadline = 5 * time.Second

// Projection tells fill_chunk how SQL result columns map onto chunk
// columns. A nil Positions means identity (SQL column i -> chunk column
// i). Len(Positions) must equal the number of SQL result columns when
// non-nil; Positions[i] is the destination chunk column for SQL column i,
// or -1 to drop that column (used when a rowid column is consumed by the
// caller directly rather than materialized into the chunk).
type Projection struct {
	Positions []int
}

func (p Projection) dest(sqlCol int) int {
	if p.Positions == nil {
		return sqlCol
	}
	if sqlCol < 0 || sqlCol >= len(p.Positions) {
		return -1
	}
	return p.Positions[sqlCol]
}

// ResultStream owns a pooled connection for the lifetime of one query
// and pulls its token stream into host DataChunks. It must be closed
// (via Close, directly or through a final fill_chunk/cancel) so its
// connection is returned to or evicted from the pool.
type ResultStream struct {
	handle *pool.Handle
	conn   *connection.Connection

	clientCtx engine.ClientContext
	proj      Projection

	state   State
	columns []tds.Column
	parser  *tds.TokenParser
	reader  *tds.MessageReader

	warnings []string
	lastErr  error

	cancelDeadline time.Duration
}

// New constructs a ResultStream bound to handle; the caller must not use
// handle directly once ownership passes here.
func New(handle *pool.Handle, clientCtx engine.ClientContext, proj Projection) *ResultStream {
	return &ResultStream{
		handle:         handle,
		conn:           handle.Conn(),
		clientCtx:      clientCtx,
		proj:           proj,
		state:          StateInitializing,
		cancelDeadline: defaultCancelDeadline,
	}
}

// State returns the stream's current lifecycle state.
func (s *ResultStream) State() State { return s.state }

// Columns returns the SQL result's column metadata, valid once
// Initialize has returned successfully.
func (s *ResultStream) Columns() []tds.Column { return s.columns }

// Warnings returns accumulated INFO messages seen so far.
func (s *ResultStream) Warnings() []string { return s.warnings }

// Initialize sends the batch and reads tokens until COLMETADATA is seen
// or the response completes empty. It reports whether any column schema
// was produced (false for e.g. a bare DML statement with no result set).
func (s *ResultStream) Initialize(sqlText string) (bool, error) {
	if err := s.conn.BeginExecute(sqlText); err != nil {
		s.state = StateError
		s.lastErr = err
		return false, err
	}
	s.reader = tds.NewMessageReader(s.conn.Transport(), 30*time.Second)
	s.parser = tds.NewTokenParser(s.reader)

	for {
		tok, err := s.parser.Next()
		if err != nil {
			s.fail(err)
			return false, err
		}
		switch tok.Type {
		case tds.TokColMetadata:
			s.columns = tok.Columns
			s.state = StateStreaming
			return true, nil
		case tds.TokInfo:
			s.warnings = append(s.warnings, tok.Info.Message)
		case tds.TokError:
			s.finishError(tok.Error)
			return false, s.lastErr
		case tds.TokDone, tds.TokDoneProc, tds.TokDoneInProc:
			if !tok.Done.More() {
				s.complete()
				return false, nil
			}
		}
	}
}

// FillChunk decodes rows into chunk's columns until the chunk is full, a
// final DONE is reached (0 rows, nil error, stream Complete), or
// cooperative cancellation fires (cancel() is invoked and its error, if
// any, is returned).
func (s *ResultStream) FillChunk(chunk engine.DataChunk) (int, error) {
	if s.state == StateComplete {
		return 0, nil
	}
	if s.state == StateError {
		return 0, s.lastErr
	}
	if s.state != StateStreaming {
		return 0, fmt.Errorf("query: FillChunk called in state %d", s.state)
	}

	cap := chunk.Capacity()
	nCols := len(s.columns)
	buffers := make([][]interface{}, nCols)
	rows := 0

	for rows < cap {
		if s.clientCtx != nil && s.clientCtx.Interrupted() {
			s.flushBuffers(chunk, buffers, rows)
			return rows, s.Cancel()
		}

		tok, err := s.parser.Next()
		if err != nil {
			s.flushBuffers(chunk, buffers, rows)
			s.fail(err)
			return rows, err
		}

		switch tok.Type {
		case tds.TokRow:
			for sqlCol, v := range tok.Row {
				dest := s.proj.dest(sqlCol)
				if dest < 0 {
					continue
				}
				if buffers[dest] == nil {
					buffers[dest] = make([]interface{}, 0, cap)
				}
				buffers[dest] = append(buffers[dest], v)
			}
			rows++

		case tds.TokInfo:
			s.warnings = append(s.warnings, tok.Info.Message)

		case tds.TokError:
			s.flushBuffers(chunk, buffers, rows)
			s.finishError(tok.Error)
			return rows, s.lastErr

		case tds.TokDone, tds.TokDoneProc, tds.TokDoneInProc:
			if !tok.Done.More() {
				s.flushBuffers(chunk, buffers, rows)
				s.complete()
				return rows, nil
			}
		}
	}

	s.flushBuffers(chunk, buffers, rows)
	return rows, nil
}

func (s *ResultStream) flushBuffers(chunk engine.DataChunk, buffers [][]interface{}, rows int) {
	if rows == 0 {
		return
	}
	for col, vals := range buffers {
		if vals == nil {
			continue
		}
		if err := chunk.FillColumn(col, vals); err != nil {
			log.Default().Query().Error("chunk fill failed", err, "column", col)
		}
	}
	chunk.SetLen(rows)
}

// Cancel sends ATTENTION and drains the acknowledgment within
// cancelDeadline. It is idempotent: calling it again once the stream is
// Draining, Complete, or Error is a no-op. If the ATTENTION is not
// acknowledged in time, the underlying connection is closed rather than
// released to the pool.
func (s *ResultStream) Cancel() error {
	if s.state == StateDraining || s.state == StateComplete || s.state == StateError {
		return s.lastErr
	}
	s.state = StateDraining

	if err := s.conn.Cancel(); err != nil {
		s.conn.EndDrain(false)
		s.handle.Release()
		s.state = StateError
		s.lastErr = errors.Cancelled("query").WithField("reason", err.Error()).Build()
		return s.lastErr
	}

	// Drain through s.parser/s.reader rather than opening a fresh reader
	// on the transport: the original reader may already have pulled a
	// full physical packet's worth of buffered rows into memory ahead of
	// where Initialize/FillChunk had read up to, and those bytes would be
	// invisible (and unrecoverable) to a reader started from scratch.
	s.reader.SetTimeout(s.cancelDeadline)
	err := tds.DrainAttentionAckParser(s.parser)
	if err != nil {
		s.conn.EndDrain(false)
		s.handle.Release()
		s.state = StateError
		s.lastErr = errors.Cancelled("query").WithField("reason", err.Error()).Build()
		return s.lastErr
	}

	s.conn.EndDrain(true)
	s.handle.Release()
	s.state = StateComplete
	s.lastErr = errors.Cancelled("query").Build()
	return s.lastErr
}

func (s *ResultStream) complete() {
	s.conn.EndExecute()
	s.handle.Release()
	s.state = StateComplete
}

func (s *ResultStream) finishError(e *tds.ErrorInfo) {
	s.conn.EndExecute()
	s.handle.Release()
	s.state = StateError
	s.lastErr = errors.Newf(errors.ErrCodeServerError, "MSSQL error %d: %s", e.Number, e.Message).
		WithField("number", e.Number).
		WithField("severity", e.Severity).
		WithField("state", e.State).
		Build()
}

func (s *ResultStream) fail(err error) {
	s.state = StateError
	if err == io.EOF {
		s.lastErr = errors.New(errors.ErrCodePeerClosed, "server closed connection mid-stream").Build()
	} else {
		s.lastErr = err
	}
	s.handle.Release()
}

// Close releases the stream's connection if it has not already been
// released by completion, error, or cancellation.
func (s *ResultStream) Close() {
	if s.state != StateComplete && s.state != StateError {
		s.Cancel()
	}
}

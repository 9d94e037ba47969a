package query

import (
	"context"
	"fmt"

	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/errors"
	"github.com/ha1tch/mssqlengine/pkg/log"
	"github.com/ha1tch/mssqlengine/pkg/pool"
)

// Executor runs statements against the pool registered for a catalog
// context, handing back a ResultStream per call.
type Executor struct {
	manager *pool.Manager
}

// NewExecutor wraps an already-populated pool.Manager.
func NewExecutor(manager *pool.Manager) *Executor {
	return &Executor{manager: manager}
}

// Execute looks up the pool for catalogName, acquires a connection
// (transaction-pinned when clientCtx reports an open transaction),
// constructs a ResultStream, and initializes it. The returned bool
// reports whether the statement produced a column schema; a statement
// with no result set (e.g. a bare DDL/DML batch) returns false with a
// nil error and an already-Complete stream.
func (ex *Executor) Execute(ctx context.Context, catalogName, sqlText string, clientCtx engine.ClientContext, proj Projection) (*ResultStream, bool, error) {
	p, ok := ex.manager.Get(catalogName)
	if !ok {
		return nil, false, errors.New(errors.ErrCodeConfigMissing,
			fmt.Sprintf("no connection pool registered for catalog %q", catalogName)).Build()
	}

	txKey := ""
	if clientCtx != nil && clientCtx.InTransaction() {
		txKey = clientCtx.TransactionKey()
	}

	handle, err := p.Acquire(ctx, txKey)
	if err != nil {
		log.Default().Query().Error("acquire failed", err, "catalog", catalogName)
		return nil, false, err
	}

	stream := New(handle, clientCtx, proj)
	hasSchema, err := stream.Initialize(sqlText)
	if err != nil {
		return stream, false, err
	}
	return stream, hasSchema, nil
}

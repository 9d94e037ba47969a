// Package engine declares the small interfaces the host analytical query
// engine must implement to use this module. The host's catalog, its
// DataChunk containers, its logical type system, its client-context
// settings, and its secret store are all external collaborators: this
// package models their call shape only, so pkg/connection, pkg/pool,
// pkg/query, pkg/filter, and pkg/dml can be written against stable Go
// interfaces without importing the host at all.
package engine

import "context"

// LogicalTypeID names the host's column type system in terms this module
// can map SQL Server types onto. The host is expected to have a richer
// type system of its own; this is the subset the type converter targets.
type LogicalTypeID int

const (
	TypeInvalid LogicalTypeID = iota
	TypeBoolean
	TypeTinyInt
	TypeSmallInt
	TypeInteger
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeDecimal
	TypeVarchar
	TypeBlob
	TypeUUID
	TypeDate
	TypeTime
	TypeTimestamp
	TypeTimestampTZ
	TypeStruct // composite rowid over multiple PK columns
)

// LogicalType is a host column type: an ID plus the parameters that
// matter for DECIMAL (width/scale) and STRUCT (child types).
type LogicalType struct {
	ID       LogicalTypeID
	Width    int // DECIMAL precision; VARCHAR length
	Scale    int // DECIMAL scale
	Children []StructField
}

// StructField names one field of a composite rowid's struct type.
type StructField struct {
	Name string
	Type LogicalType
}

// ColumnEntry describes one column of a TableEntry as the host catalog
// would expose it.
type ColumnEntry struct {
	Name       string
	Type       LogicalType
	Nullable   bool
	Collation  string
	PrimaryKey bool
	KeyOrdinal int // 0-based position within a composite primary key
}

// TableEntry is the host's view of one remote table: its columns, in
// catalog order, and its primary key (if any) expressed as PK column
// ordinals into Columns.
type TableEntry interface {
	Schema() string
	Name() string
	Columns() []ColumnEntry
	PrimaryKeyOrdinals() []int
}

// Catalog resolves table entries for a single attached remote database
// (one Catalog per pool, per spec.md's "per attached catalog" pooling
// model).
type Catalog interface {
	Name() string
	Lookup(ctx context.Context, schema, table string) (TableEntry, error)
}

// DataChunk is the host's columnar output container. FillColumn receives
// already-decoded Go values (one per row, nil for SQL NULL) for chunk
// column index col; the host is responsible for the actual vector
// encoding. Capacity reports how many rows the chunk can still accept
// before it must be flushed.
type DataChunk interface {
	Capacity() int
	Len() int
	FillColumn(col int, values []interface{}) error
	SetLen(n int)
	Reset()
}

// ClientContext carries per-session/per-statement state the host tracks:
// whether a transaction is open (so the pool should pin a connection),
// and a cooperative interrupt flag the engine sets to request
// cancellation of a long-running scan.
type ClientContext interface {
	InTransaction() bool
	TransactionKey() string // stable key while InTransaction() is true
	Interrupted() bool
}

// Secret is the provider-agnostic connection/credential record the host's
// secret store resolves by name, per spec.md §6's secret schema.
type Secret struct {
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	UseEncrypt    bool
	AzureSecret   string
	AzureTenantID string

	// Azure-specific fields, populated when Provider != "".
	Provider     string // service_principal | credential_chain | managed_identity
	TenantID     string
	ClientID     string
	ClientSecret string
	Chain        string // e.g. "env;cli;interactive"
}

// SecretStore resolves named secrets on behalf of the host; credential
// rotation is surfaced by returning a different Secret on a later call,
// not by this module watching anything itself (pkg/config's fsnotify
// watcher is what triggers the re-read).
type SecretStore interface {
	Resolve(ctx context.Context, name string) (*Secret, error)
}

// Package filter translates engine filter expressions into pushed-down
// T-SQL WHERE fragments, and serializes literal values and identifiers
// for both filter and DML use.
package filter

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RowidColumnID is the virtual column id the engine uses to reference
// the synthetic rowid. Per spec.md §4.9, any column id at or above this
// threshold is virtual; rowid is the only supported one.
const RowidColumnID = uint64(1) << 63

// Op is a comparison or logical operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpGt
	OpLte
	OpGte
)

func (o Op) sql() string {
	switch o {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLte:
		return "<="
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// Value is a literal carried by a filter expression or a DML parameter.
// Exactly one field beyond Kind is meaningful, per ValueKind.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueUint
	ValueFloat
	ValueDecimal
	ValueString
	ValueBytes
	ValueDate
	ValueDateTime
	ValueUUID
	ValueStruct // composite rowid literal; see Value.Fields
)

type Value struct {
	Kind ValueKind

	Bool    bool
	Int     int64
	Uint    uint64
	Float   float64
	Decimal decimal.Decimal
	String  string
	Bytes   []byte
	Time    time.Time
	UUID    uuid.UUID

	// Fields holds a composite rowid literal's per-PK-column values, in
	// declared key ordinal order. Only meaningful when Kind == ValueStruct.
	Fields []Value
}

func NullValue() Value                        { return Value{Kind: ValueNull} }
func BoolValue(v bool) Value                   { return Value{Kind: ValueBool, Bool: v} }
func IntValue(v int64) Value                   { return Value{Kind: ValueInt, Int: v} }
func UintValue(v uint64) Value                 { return Value{Kind: ValueUint, Uint: v} }
func FloatValue(v float64) Value               { return Value{Kind: ValueFloat, Float: v} }
func DecimalValue(v decimal.Decimal) Value     { return Value{Kind: ValueDecimal, Decimal: v} }
func StringValue(v string) Value               { return Value{Kind: ValueString, String: v} }
func BytesValue(v []byte) Value                { return Value{Kind: ValueBytes, Bytes: v} }
func DateValue(v time.Time) Value              { return Value{Kind: ValueDate, Time: v} }
func DateTimeValue(v time.Time) Value          { return Value{Kind: ValueDateTime, Time: v} }
func UUIDValue(v uuid.UUID) Value              { return Value{Kind: ValueUUID, UUID: v} }
func StructValue(fields ...Value) Value        { return Value{Kind: ValueStruct, Fields: fields} }

// Expr is an engine filter expression node. Every concrete node type in
// this package implements it; the encoder type-switches rather than
// visiting, matching the small closed grammar of §4.9.
type Expr interface {
	isExpr()
}

// Column references a SQL result column by its ordinal position, or by
// RowidColumnID for the virtual rowid.
type Column struct {
	ID   uint64
	Name string // catalog column name; ignored for the rowid virtual
}

// Literal is a constant value operand.
type Literal struct {
	Value Value
}

// Compare is a binary comparison between a column and a literal.
type Compare struct {
	Col Column
	Op  Op
	Val Literal
}

// InList is `col IN (v1, v2, ...)`.
type InList struct {
	Col    Column
	Values []Literal
}

// IsNull is `col IS NULL` (Negate=false) or `col IS NOT NULL` (Negate=true).
type IsNull struct {
	Col    Column
	Negate bool
}

// Not negates a child expression. A fully pushable child is emitted as
// (NOT ...); a Not over a child that is unsupported or only partly
// pushable falls back to local evaluation.
type Not struct {
	Child Expr
}

// And/Or are N-ary logical combinators.
type And struct{ Children []Expr }
type Or struct{ Children []Expr }

// FuncCall applies a named function (see functions.go) to column/literal
// arguments, compared against a literal.
type FuncCall struct {
	Name string
	Args []Expr // each is a Column or Literal
	Op   Op
	Val  Literal
}

func (Compare) isExpr()  {}
func (InList) isExpr()   {}
func (IsNull) isExpr()   {}
func (Not) isExpr()      {}
func (And) isExpr()      {}
func (Or) isExpr()       {}
func (FuncCall) isExpr() {}
func (Column) isExpr()   {}
func (Literal) isExpr()  {}

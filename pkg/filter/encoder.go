package filter

import (
	"fmt"
	"strings"
)

// maxDepth bounds filter-tree recursion so a pathological expression
// cannot blow the stack; any node beyond this depth fails the whole
// encode with an error (per spec.md §9's "bounded recursion" guidance).
const maxDepth = 100

// RowidMapping tells the encoder how to rewrite the virtual rowid
// column into real primary-key column references. Scalar tables set
// PKColumns to a single name; composite PKs list every key column in
// declared key-ordinal order.
type RowidMapping struct {
	PKColumns []string
}

func (m RowidMapping) composite() bool { return len(m.PKColumns) > 1 }

// Result is the outcome of Encode: the pushed-down WHERE fragment (empty
// if nothing could be pushed) and whether the engine must still
// re-apply the original filter set locally.
type Result struct {
	WhereClause      string
	NeedsLocalFilter bool
}

// Encode translates expr into a T-SQL WHERE fragment. rowid may be the
// zero value if the table being filtered has no rowid column in play.
func Encode(expr Expr, rowid RowidMapping) (Result, error) {
	sql, ok, partial, err := encodeNode(expr, rowid, 0)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{NeedsLocalFilter: true}, nil
	}
	return Result{WhereClause: sql, NeedsLocalFilter: partial}, nil
}

// encodeNode returns (sql, ok, partial, err).
//   - ok=false: this node could not be pushed down at all (soft
//     failure); its caller decides whether that is fatal (OR) or merely
//     drops the child and sets partial (AND).
//   - partial=true: this node did encode, but a descendant was dropped,
//     so the engine must still re-apply the original filter locally.
//   - err: reserved for hard failures (recursion depth exceeded).
func encodeNode(e Expr, rowid RowidMapping, depth int) (string, bool, bool, error) {
	if depth > maxDepth {
		return "", false, false, fmt.Errorf("filter: expression exceeds max recursion depth %d", maxDepth)
	}

	switch n := e.(type) {
	case And:
		return encodeAnd(n.Children, rowid, depth)
	case Or:
		return encodeOr(n.Children, rowid, depth)
	case Not:
		return encodeNot(n.Child, rowid, depth)
	case IsNull:
		sql, ok := encodeIsNull(n)
		return sql, ok, false, nil
	case InList:
		sql, ok := encodeInList(n)
		return sql, ok, false, nil
	case Compare:
		sql, ok := encodeCompare(n, rowid)
		return sql, ok, false, nil
	case FuncCall:
		sql, ok, partial := encodeFuncCall(n, rowid, depth)
		return sql, ok, partial, nil
	default:
		return "", false, false, nil
	}
}

func encodeAnd(children []Expr, rowid RowidMapping, depth int) (string, bool, bool, error) {
	var parts []string
	partial := false
	for _, c := range children {
		sql, ok, childPartial, err := encodeNode(c, rowid, depth+1)
		if err != nil {
			return "", false, false, err
		}
		if !ok {
			partial = true
			continue
		}
		if childPartial {
			partial = true
		}
		parts = append(parts, sql)
	}
	if len(parts) == 0 {
		return "", false, false, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", true, partial, nil
}

func encodeOr(children []Expr, rowid RowidMapping, depth int) (string, bool, bool, error) {
	var parts []string
	for _, c := range children {
		sql, ok, childPartial, err := encodeNode(c, rowid, depth+1)
		if err != nil {
			return "", false, false, err
		}
		if !ok || childPartial {
			// Any unsupported (or only-partially-supported) child aborts
			// the whole disjunction: OR is all-or-nothing.
			return "", false, false, nil
		}
		parts = append(parts, sql)
	}
	if len(parts) == 0 {
		return "", false, false, nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", true, false, nil
}

func encodeNot(child Expr, rowid RowidMapping, depth int) (string, bool, bool, error) {
	if isNull, ok := child.(IsNull); ok {
		sql, ok2 := encodeIsNull(IsNull{Col: isNull.Col, Negate: !isNull.Negate})
		return sql, ok2, false, nil
	}
	sql, ok, partial, err := encodeNode(child, rowid, depth+1)
	if err != nil || !ok || partial {
		return "", false, false, err
	}
	return "(NOT " + sql + ")", true, false, nil
}

func encodeIsNull(n IsNull) (string, bool) {
	col, ok := encodeColumnRef(n.Col, RowidMapping{})
	if !ok {
		return "", false
	}
	if n.Negate {
		return col + " IS NOT NULL", true
	}
	return col + " IS NULL", true
}

func encodeInList(n InList) (string, bool) {
	col, ok := encodeColumnRef(n.Col, RowidMapping{})
	if !ok {
		return "", false
	}
	lits := make([]string, 0, len(n.Values))
	for _, v := range n.Values {
		s, err := SerializeValue(v.Value)
		if err != nil {
			return "", false
		}
		lits = append(lits, s)
	}
	return col + " IN (" + strings.Join(lits, ", ") + ")", true
}

func encodeCompare(n Compare, rowid RowidMapping) (string, bool) {
	if n.Col.ID == RowidColumnID {
		return encodeRowidCompare(n, rowid)
	}
	col, ok := encodeColumnRef(n.Col, rowid)
	if !ok {
		return "", false
	}
	lit, err := SerializeValue(n.Val.Value)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s %s %s", col, n.Op.sql(), lit), true
}

// encodeRowidCompare rewrites `rowid OP v` into real PK column
// comparisons. Composite PKs only support OpEq against a ValueStruct
// literal whose Fields align with rowid.PKColumns in order; any other
// operator on a composite PK is refused (unsupported, per spec.md §4.9).
func encodeRowidCompare(n Compare, rowid RowidMapping) (string, bool) {
	if len(rowid.PKColumns) == 0 {
		return "", false
	}
	if !rowid.composite() {
		lit, err := SerializeValue(n.Val.Value)
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("%s %s %s", EscapeIdentifier(rowid.PKColumns[0]), n.Op.sql(), lit), true
	}

	if n.Op != OpEq || n.Val.Value.Kind != ValueStruct || len(n.Val.Value.Fields) != len(rowid.PKColumns) {
		return "", false
	}
	parts := make([]string, len(rowid.PKColumns))
	for i, col := range rowid.PKColumns {
		lit, err := SerializeValue(n.Val.Value.Fields[i])
		if err != nil {
			return "", false
		}
		parts[i] = fmt.Sprintf("%s = %s", EscapeIdentifier(col), lit)
	}
	return "(" + strings.Join(parts, " AND ") + ")", true
}

func encodeFuncCall(n FuncCall, rowid RowidMapping, depth int) (string, bool, bool) {
	argSQL := make([]string, 0, len(n.Args))
	for _, a := range n.Args {
		s, ok, partial, err := encodeFuncArg(a, rowid, depth+1)
		if err != nil || !ok || partial {
			return "", false, false
		}
		argSQL = append(argSQL, s)
	}
	call, err := EncodeFunctionCall(n.Name, argSQL)
	if err != nil {
		return "", false, false
	}
	lit, err := SerializeValue(n.Val.Value)
	if err != nil {
		return "", false, false
	}
	return fmt.Sprintf("%s %s %s", call, n.Op.sql(), lit), true, false
}

func encodeFuncArg(e Expr, rowid RowidMapping, depth int) (string, bool, bool, error) {
	switch n := e.(type) {
	case Column:
		col, ok := encodeColumnRef(n, rowid)
		return col, ok, false, nil
	case Literal:
		s, err := SerializeValue(n.Value)
		if err != nil {
			return "", false, false, nil
		}
		return s, true, false, nil
	default:
		return encodeNode(e, rowid, depth)
	}
}

// encodeColumnRef resolves a Column to its bracket-quoted SQL reference.
// ok=false for a virtual column other than rowid, or for rowid with no
// (or a composite, single-value-incompatible) mapping configured.
func encodeColumnRef(c Column, rowid RowidMapping) (string, bool) {
	if c.ID >= RowidColumnID {
		if c.ID == RowidColumnID && len(rowid.PKColumns) == 1 {
			return EscapeIdentifier(rowid.PKColumns[0]), true
		}
		return "", false
	}
	return EscapeIdentifier(c.Name), true
}

// SelectColumn renders one SELECT-list entry, applying the VARCHAR ->
// NVARCHAR safe-comparison rewrite when the column's collation is
// non-UTF-8 and the caller has requested it. declaredLen is the
// column's declared max length in characters; 0 (or negative) means MAX.
func SelectColumn(name string, needsUTF8Cast bool, declaredLen int) string {
	id := EscapeIdentifier(name)
	if !needsUTF8Cast {
		return id
	}
	width := "MAX"
	if declaredLen > 0 {
		n := declaredLen
		if n > 4000 {
			n = 4000
		}
		width = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("CAST(%s AS NVARCHAR(%s)) AS %s", id, width, id)
}

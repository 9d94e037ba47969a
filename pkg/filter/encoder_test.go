package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(name string) Column { return Column{Name: name} }
func lit(v Value) Literal    { return Literal{Value: v} }

func TestEncode_SimpleCompare(t *testing.T) {
	expr := Compare{Col: col("Age"), Op: OpGt, Val: lit(IntValue(21))}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.False(t, res.NeedsLocalFilter)
	assert.Equal(t, "[Age] > 21", res.WhereClause)
}

func TestEncode_AndAllSupported(t *testing.T) {
	expr := And{Children: []Expr{
		Compare{Col: col("Age"), Op: OpGte, Val: lit(IntValue(18))},
		Compare{Col: col("Active"), Op: OpEq, Val: lit(BoolValue(true))},
	}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.False(t, res.NeedsLocalFilter)
	assert.Equal(t, "([Age] >= 18 AND [Active] = 1)", res.WhereClause)
}

// unsupportedExpr is a stand-in node the encoder's default branch treats
// as unpushable, letting tests exercise AND's partial-drop and OR's
// all-or-nothing behavior without fabricating a malformed real node.
type unsupportedExpr struct{}

func (unsupportedExpr) isExpr() {}

func TestEncode_AndDropsUnsupportedChild(t *testing.T) {
	expr := And{Children: []Expr{
		Compare{Col: col("Age"), Op: OpGte, Val: lit(IntValue(18))},
		unsupportedExpr{},
	}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
	assert.Equal(t, "([Age] >= 18)", res.WhereClause)
}

func TestEncode_OrAbortsOnUnsupportedChild(t *testing.T) {
	expr := Or{Children: []Expr{
		Compare{Col: col("Age"), Op: OpGte, Val: lit(IntValue(18))},
		unsupportedExpr{},
	}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
	assert.Empty(t, res.WhereClause)
}

func TestEncode_OrAllSupported(t *testing.T) {
	expr := Or{Children: []Expr{
		Compare{Col: col("State"), Op: OpEq, Val: lit(StringValue("WA"))},
		Compare{Col: col("State"), Op: OpEq, Val: lit(StringValue("OR"))},
	}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.False(t, res.NeedsLocalFilter)
	assert.Equal(t, "([State] = N'WA' OR [State] = N'OR')", res.WhereClause)
}

func TestEncode_NestedAndWithinOrPropagatesPartial(t *testing.T) {
	inner := And{Children: []Expr{
		Compare{Col: col("Age"), Op: OpGte, Val: lit(IntValue(18))},
		unsupportedExpr{},
	}}
	expr := Or{Children: []Expr{inner, Compare{Col: col("VIP"), Op: OpEq, Val: lit(BoolValue(true))}}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
	assert.Empty(t, res.WhereClause)
}

func TestEncode_Not(t *testing.T) {
	expr := Not{Child: Compare{Col: col("Active"), Op: OpEq, Val: lit(BoolValue(true))}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.Equal(t, "(NOT [Active] = 1)", res.WhereClause)
}

func TestEncode_NotIsNullFlipsNegate(t *testing.T) {
	expr := Not{Child: IsNull{Col: col("Email")}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.Equal(t, "[Email] IS NOT NULL", res.WhereClause)
}

func TestEncode_IsNull(t *testing.T) {
	res, err := Encode(IsNull{Col: col("Email")}, RowidMapping{})
	require.NoError(t, err)
	assert.Equal(t, "[Email] IS NULL", res.WhereClause)
}

func TestEncode_InList(t *testing.T) {
	expr := InList{Col: col("Status"), Values: []Literal{lit(StringValue("open")), lit(StringValue("pending"))}}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.Equal(t, "[Status] IN (N'open', N'pending')", res.WhereClause)
}

func TestEncode_FuncCall(t *testing.T) {
	expr := FuncCall{
		Name: "year",
		Args: []Expr{col("Created")},
		Op:   OpEq,
		Val:  lit(IntValue(2026)),
	}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.Equal(t, "YEAR([Created]) = 2026", res.WhereClause)
}

func TestEncode_FuncCallUnknownNameUnsupported(t *testing.T) {
	expr := FuncCall{Name: "frobnicate", Args: []Expr{col("X")}, Op: OpEq, Val: lit(IntValue(1))}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
	assert.Empty(t, res.WhereClause)
}

func TestEncode_RowidScalarRewrite(t *testing.T) {
	expr := Compare{Col: Column{ID: RowidColumnID}, Op: OpEq, Val: lit(IntValue(7))}
	res, err := Encode(expr, RowidMapping{PKColumns: []string{"ID"}})
	require.NoError(t, err)
	assert.Equal(t, "[ID] = 7", res.WhereClause)
}

func TestEncode_RowidScalarAnyOperator(t *testing.T) {
	expr := Compare{Col: Column{ID: RowidColumnID}, Op: OpGte, Val: lit(IntValue(100))}
	res, err := Encode(expr, RowidMapping{PKColumns: []string{"ID"}})
	require.NoError(t, err)
	assert.Equal(t, "[ID] >= 100", res.WhereClause)
}

func TestEncode_RowidCompositeEq(t *testing.T) {
	expr := Compare{
		Col: Column{ID: RowidColumnID},
		Op:  OpEq,
		Val: lit(StructValue(IntValue(1), StringValue("2026-07"))),
	}
	res, err := Encode(expr, RowidMapping{PKColumns: []string{"OrgID", "Period"}})
	require.NoError(t, err)
	assert.Equal(t, "([OrgID] = 1 AND [Period] = N'2026-07')", res.WhereClause)
}

func TestEncode_RowidCompositeNonEqUnsupported(t *testing.T) {
	expr := Compare{
		Col: Column{ID: RowidColumnID},
		Op:  OpGt,
		Val: lit(StructValue(IntValue(1), StringValue("2026-07"))),
	}
	res, err := Encode(expr, RowidMapping{PKColumns: []string{"OrgID", "Period"}})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
	assert.Empty(t, res.WhereClause)
}

func TestEncode_RowidNoMappingUnsupported(t *testing.T) {
	expr := Compare{Col: Column{ID: RowidColumnID}, Op: OpEq, Val: lit(IntValue(1))}
	res, err := Encode(expr, RowidMapping{})
	require.NoError(t, err)
	assert.True(t, res.NeedsLocalFilter)
}

func TestEncode_DepthExceededIsHardError(t *testing.T) {
	var expr Expr = Compare{Col: col("X"), Op: OpEq, Val: lit(IntValue(1))}
	for i := 0; i < maxDepth+5; i++ {
		expr = Not{Child: And{Children: []Expr{expr}}}
	}
	_, err := Encode(expr, RowidMapping{})
	require.Error(t, err)
}

func TestSelectColumn_NoCast(t *testing.T) {
	assert.Equal(t, "[Name]", SelectColumn("Name", false, 50))
}

func TestSelectColumn_CastWithDeclaredLength(t *testing.T) {
	got := SelectColumn("Name", true, 50)
	assert.Equal(t, "CAST([Name] AS NVARCHAR(50)) AS [Name]", got)
}

func TestSelectColumn_CastCapsAt4000(t *testing.T) {
	got := SelectColumn("Notes", true, 8000)
	assert.Equal(t, "CAST([Notes] AS NVARCHAR(4000)) AS [Notes]", got)
}

func TestSelectColumn_CastMaxWhenUnbounded(t *testing.T) {
	got := SelectColumn("Notes", true, 0)
	assert.Equal(t, "CAST([Notes] AS NVARCHAR(MAX)) AS [Notes]", got)
}

package dml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/filter"
)

type fakeTable struct {
	schema, name string
	cols         []engine.ColumnEntry
	pkOrdinals   []int
}

func (f fakeTable) Schema() string                { return f.schema }
func (f fakeTable) Name() string                  { return f.name }
func (f fakeTable) Columns() []engine.ColumnEntry { return f.cols }
func (f fakeTable) PrimaryKeyOrdinals() []int     { return f.pkOrdinals }

func TestRowidExtractor_Scalar(t *testing.T) {
	tbl := fakeTable{
		schema: "dbo", name: "Customers",
		cols: []engine.ColumnEntry{
			{Name: "ID", Type: engine.LogicalType{ID: engine.TypeInteger}, PrimaryKey: true, KeyOrdinal: 0},
			{Name: "Name", Type: engine.LogicalType{ID: engine.TypeVarchar}},
		},
		pkOrdinals: []int{0},
	}
	ex := NewRowidExtractor(tbl)
	assert.False(t, ex.Composite())
	assert.Equal(t, []string{"ID"}, ex.PKColumns())

	v, err := ex.Extract(int64(42))
	require.NoError(t, err)
	assert.Equal(t, filter.IntValue(42), v)
}

func TestRowidExtractor_Composite(t *testing.T) {
	tbl := fakeTable{
		schema: "dbo", name: "OrgPeriods",
		cols: []engine.ColumnEntry{
			{Name: "OrgID", Type: engine.LogicalType{ID: engine.TypeInteger}, PrimaryKey: true, KeyOrdinal: 0},
			{Name: "Period", Type: engine.LogicalType{ID: engine.TypeVarchar}, PrimaryKey: true, KeyOrdinal: 1},
		},
		pkOrdinals: []int{0, 1},
	}
	ex := NewRowidExtractor(tbl)
	assert.True(t, ex.Composite())
	assert.Equal(t, []string{"OrgID", "Period"}, ex.PKColumns())

	v, err := ex.Extract([]interface{}{int64(7), "2026-07"})
	require.NoError(t, err)
	assert.Equal(t, filter.ValueStruct, v.Kind)
	require.Len(t, v.Fields, 2)
	assert.Equal(t, filter.IntValue(7), v.Fields[0])
	assert.Equal(t, filter.StringValue("2026-07"), v.Fields[1])
}

func TestRowidExtractor_CompositeWrongArity(t *testing.T) {
	tbl := fakeTable{
		cols: []engine.ColumnEntry{
			{Name: "A", Type: engine.LogicalType{ID: engine.TypeInteger}, KeyOrdinal: 0},
			{Name: "B", Type: engine.LogicalType{ID: engine.TypeInteger}, KeyOrdinal: 1},
		},
		pkOrdinals: []int{0, 1},
	}
	ex := NewRowidExtractor(tbl)
	_, err := ex.Extract([]interface{}{int64(1)})
	require.Error(t, err)
}

func TestRowidExtractor_DateVsDateTime(t *testing.T) {
	tblDate := fakeTable{
		cols:       []engine.ColumnEntry{{Name: "D", Type: engine.LogicalType{ID: engine.TypeDate}, KeyOrdinal: 0}},
		pkOrdinals: []int{0},
	}
	exDate := NewRowidExtractor(tblDate)
	v, err := exDate.Extract(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filter.ValueDate, v.Kind)

	tblTS := fakeTable{
		cols:       []engine.ColumnEntry{{Name: "D", Type: engine.LogicalType{ID: engine.TypeTimestamp}, KeyOrdinal: 0}},
		pkOrdinals: []int{0},
	}
	exTS := NewRowidExtractor(tblTS)
	v2, err := exTS.Extract(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filter.ValueDateTime, v2.Kind)
}

func TestRowidExtractor_NilIsNull(t *testing.T) {
	tbl := fakeTable{
		cols:       []engine.ColumnEntry{{Name: "ID", Type: engine.LogicalType{ID: engine.TypeInteger}, KeyOrdinal: 0}},
		pkOrdinals: []int{0},
	}
	ex := NewRowidExtractor(tbl)
	v, err := ex.Extract(nil)
	require.NoError(t, err)
	assert.Equal(t, filter.ValueNull, v.Kind)
}

func TestRowidExtractor_UnsupportedScalarType(t *testing.T) {
	tbl := fakeTable{
		cols:       []engine.ColumnEntry{{Name: "ID", Type: engine.LogicalType{ID: engine.TypeInteger}, KeyOrdinal: 0}},
		pkOrdinals: []int{0},
	}
	ex := NewRowidExtractor(tbl)
	_, err := ex.Extract(struct{ X int }{1})
	require.Error(t, err)
}

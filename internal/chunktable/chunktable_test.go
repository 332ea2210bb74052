package chunktable_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/ferrors"
)

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64}}, nil)

func newBatch(t *testing.T, values ...float64) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, testSchema)
	defer b.Release()
	fb := b.Field(0).(*array.Float64Builder)
	fb.AppendValues(values, nil)
	return b.NewRecord()
}

func valuesOf(rec arrow.Record) []float64 {
	col := rec.Column(0).(*array.Float64)
	out := make([]float64, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

func TestPushBackAndOffsets(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()

	b1 := newBatch(t, 1, 2, 3)
	defer b1.Release()
	require.NoError(t, tbl.PushBack(b1))
	assert.Equal(t, int64(0), tbl.FirstOffset())
	assert.Equal(t, int64(3), tbl.LastOffset())

	b2 := newBatch(t, 4, 5)
	defer b2.Release()
	require.NoError(t, tbl.PushBack(b2))
	assert.Equal(t, int64(5), tbl.LastOffset())
	assert.Equal(t, 2, tbl.Len())
}

func TestPushBackZeroRowBatchNotStored(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()
	empty := newBatch(t)
	defer empty.Release()
	require.NoError(t, tbl.PushBack(empty))
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, int64(0), tbl.LastOffset())
}

func TestPushBackSchemaMismatch(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()

	other := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, other)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	err := tbl.PushBack(rec)
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeSchemaMismatch))
}

func TestReleaseFrontRetainsStraddlingBatch(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()
	b1 := newBatch(t, 1, 2, 3)
	defer b1.Release()
	b2 := newBatch(t, 4, 5)
	defer b2.Release()
	require.NoError(t, tbl.PushBack(b1))
	require.NoError(t, tbl.PushBack(b2))

	tbl.ReleaseFront(2) // straddles b1 (rows [0,3))
	assert.Equal(t, int64(0), tbl.FirstOffset())
	assert.Equal(t, 2, tbl.Len())

	tbl.ReleaseFront(3) // now exactly drops b1
	assert.Equal(t, int64(3), tbl.FirstOffset())
	assert.Equal(t, 1, tbl.Len())
}

// TestRangeClamp is P7: range(a..b) on a table whose window is [f, l)
// yields exactly range(max(a,f)..min(b,l)).
func TestRangeClamp(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()
	b1 := newBatch(t, 10, 11, 12)
	defer b1.Release()
	b2 := newBatch(t, 20, 21)
	defer b2.Release()
	require.NoError(t, tbl.PushBack(b1))
	require.NoError(t, tbl.PushBack(b2))

	out := tbl.Range(chunktable.Bounds{Start: -100, End: 100})
	var got []float64
	for _, r := range out {
		got = append(got, valuesOf(r)...)
		r.Release()
	}
	assert.Equal(t, []float64{10, 11, 12, 20, 21}, got)

	out2 := tbl.Range(chunktable.Bounds{Start: 2, End: 4})
	var got2 []float64
	for _, r := range out2 {
		got2 = append(got2, valuesOf(r)...)
		r.Release()
	}
	assert.Equal(t, []float64{12, 20}, got2)
}

func TestRangeBelowFirstOffsetYieldsSuffix(t *testing.T) {
	tbl := chunktable.New(testSchema)
	defer tbl.Close()
	b1 := newBatch(t, 1, 2, 3)
	defer b1.Release()
	b2 := newBatch(t, 4, 5)
	defer b2.Release()
	require.NoError(t, tbl.PushBack(b1))
	require.NoError(t, tbl.PushBack(b2))
	tbl.ReleaseFront(3)

	out := tbl.Range(chunktable.Bounds{Start: 0, End: 10})
	var got []float64
	for _, r := range out {
		got = append(got, valuesOf(r)...)
		r.Release()
	}
	assert.Equal(t, []float64{4, 5}, got)
}

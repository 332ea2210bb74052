package inprogress_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/inprogress"
)

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64}}, nil)

func newBatch(t *testing.T, values ...float64) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, testSchema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(values, nil)
	return b.NewRecord()
}

func valuesOf(recs []arrow.Record) []float64 {
	var out []float64
	for _, r := range recs {
		col := r.Column(0).(*array.Float64)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
	}
	return out
}

// TestPushThenAdvancePersistedReleasesDiskRows is P3: after
// advance_persisted, the union of on-disk and in-memory rows is
// unchanged and contains no duplicates.
func TestPushThenAdvancePersistedReleasesDiskRows(t *testing.T) {
	dir := t.TempDir()
	table := inprogress.New(dir, testSchema)
	defer table.Close()

	b1 := newBatch(t, 1, 2, 3)
	defer b1.Release()
	require.NoError(t, table.Push(b1))
	assert.Equal(t, int64(3), table.NumRows())
	assert.Equal(t, int64(0), table.PersistedRows())

	// Nothing finalized on disk yet: a full range read comes entirely
	// from memory.
	all, err := table.Range(chunktable.Bounds{Start: 0, End: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, valuesOf(all))
	for _, r := range all {
		r.Release()
	}

	// Simulate the chunk writer finalizing b1 to disk.
	w := chunkwriter.New(dir, testSchema, chunkwriter.DefaultLimits(), nil)
	b1again := newBatch(t, 1, 2, 3)
	defer b1again.Release()
	require.NoError(t, w.Write(b1again))
	require.NoError(t, w.Commit())

	require.NoError(t, table.AdvancePersisted())
	assert.Equal(t, int64(3), table.PersistedRows())

	b2 := newBatch(t, 4, 5)
	defer b2.Release()
	require.NoError(t, table.Push(b2))

	union, err := table.Range(chunktable.Bounds{Start: 0, End: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, valuesOf(union))
	for _, r := range union {
		r.Release()
	}
}

package reader_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/ferrors"
	"github.com/fricon-project/fricon/internal/reader"
	"github.com/fricon-project/fricon/internal/session"
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

func collect(t *testing.T, recs []arrow.Record) []float64 {
	t.Helper()
	var out []float64
	for _, r := range recs {
		col := r.Column(0).(*array.Float64)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
		r.Release()
	}
	return out
}

func TestOpenCompletedNoChunksIsNoData(t *testing.T) {
	_, err := reader.OpenCompleted(t.TempDir())
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.CodeNoData))
}

// TestOpenCompletedRoundTrip is S1: write two batches (coalesced into
// a single chunk under the default limits), open a Completed reader,
// and verify full-range and partial-range reads.
func TestOpenCompletedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := chunkwriter.New(dir, testSchema, chunkwriter.DefaultLimits(), nil)
	b1 := newBatch(t, 1, 2)
	require.NoError(t, w.Write(b1))
	b1.Release()
	b2 := newBatch(t, 3, 4, 5)
	require.NoError(t, w.Write(b2))
	b2.Release()
	require.NoError(t, w.Commit())

	r, err := reader.OpenCompleted(dir)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(5), r.NumRows())
	assert.True(t, r.Schema().Equal(testSchema))

	all, err := r.Range(chunktable.Bounds{Start: 0, End: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, collect(t, all))

	mid, err := r.Range(chunktable.Bounds{Start: 1, End: 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, collect(t, mid))

	clamped, err := r.Range(chunktable.Bounds{Start: -10, End: 1000})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, collect(t, clamped))
}

// TestLiveReaderObservesPushesImmediately is S2: a Live reader opened
// against an active session sees rows as they're pushed, before
// commit.
func TestLiveReaderObservesPushesImmediately(t *testing.T) {
	dir := t.TempDir()
	s := session.New(1, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)

	live := reader.OpenLive(s)
	rows, changed := live.Subscribe()
	assert.Equal(t, int64(0), rows)

	b := newBatch(t, 1, 2, 3)
	require.NoError(t, s.Write(b))
	b.Release()

	<-changed
	assert.Equal(t, int64(3), live.NumRows())

	recs, err := live.Range(chunktable.Bounds{Start: 0, End: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, collect(t, recs))

	require.NoError(t, s.Commit())
	s.Close()
}

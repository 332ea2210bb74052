package session_test

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fricon-project/fricon/internal/chunkscan"
	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/chunkwriter"
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

func awaitRows(t *testing.T, s *session.Session, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		rows, changed := s.Watch().Snapshot()
		if rows >= want {
			return
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for row count %d, last seen %d", want, rows)
		}
	}
}

// TestSessionWriteCommitRowConservation is S2/P2: the reader sees
// every pushed batch in order, and after commit the total equals the
// sum of every batch's row count.
func TestSessionWriteCommitRowConservation(t *testing.T) {
	dir := t.TempDir()
	s := session.New(1, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)

	b1 := newBatch(t, 1, 2, 3)
	require.NoError(t, s.Write(b1))
	b1.Release()
	awaitRows(t, s, 3)
	assert.Equal(t, int64(3), s.NumRows())

	b2 := newBatch(t, 4, 5)
	require.NoError(t, s.Write(b2))
	b2.Release()
	awaitRows(t, s, 5)

	recs, err := s.Range(chunktable.Bounds{Start: 0, End: 5})
	require.NoError(t, err)
	var got []float64
	for _, r := range recs {
		col := r.Column(0).(*array.Float64)
		for i := 0; i < col.Len(); i++ {
			got = append(got, col.Value(i))
		}
		r.Release()
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, got)

	require.NoError(t, s.Commit())
	assert.Equal(t, int64(5), s.NumRows())
	s.Close()
}

func TestSessionAbortLeavesValidPrefix(t *testing.T) {
	dir := t.TempDir()
	s := session.New(1, uuid.New(), dir, testSchema, chunkwriter.DefaultLimits(), 4, nil, nil)

	b := newBatch(t, 1, 2, 3, 4)
	require.NoError(t, s.Write(b))
	b.Release()
	awaitRows(t, s, 4)

	require.NoError(t, s.Abort())
	s.Close()

	paths, err := chunkscan.List(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	cf, err := chunkscan.Open(paths[0])
	require.NoError(t, err)
	assert.Equal(t, int64(4), cf.NumRows())
	require.NoError(t, cf.Close())
}

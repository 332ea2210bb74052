// Package chunktable implements the in-memory ordered sequence of
// immutable record batches: push_back, release_front, and range-slice
// over a monotonic row-offset window.
package chunktable

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/fricon-project/fricon/internal/ferrors"
)

// Bounds is a half-open row range [Start, End).
type Bounds struct {
	Start int64
	End   int64
}

// Table is an ordered, double-ended sequence of record batches plus a
// parallel sequence of row-offset boundaries. Offsets are strictly
// increasing and len(offsets) == len(batches)+1. Not safe for
// concurrent use; callers (internal/inprogress, internal/session)
// supply their own mutual exclusion.
type Table struct {
	schema  *arrow.Schema
	batches []arrow.Record
	offsets []int64 // len == len(batches)+1
}

// New creates an empty table for the given schema.
func New(schema *arrow.Schema) *Table {
	return &Table{schema: schema, offsets: []int64{0}}
}

func (t *Table) Schema() *arrow.Schema { return t.schema }

// FirstOffset is the row index of the oldest retained row.
func (t *Table) FirstOffset() int64 { return t.offsets[0] }

// LastOffset is one past the row index of the newest retained row.
func (t *Table) LastOffset() int64 { return t.offsets[len(t.offsets)-1] }

// PushBack appends batch. Zero-row batches are accepted but not
// stored (they would otherwise create a degenerate zero-width range
// entry). Rejects SchemaMismatch if the batch's schema differs from
// the table's.
func (t *Table) PushBack(batch arrow.Record) error {
	if !batch.Schema().Equal(t.schema) {
		return ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeSchemaMismatch)
	}
	if batch.NumRows() == 0 {
		return nil
	}
	batch.Retain()
	t.batches = append(t.batches, batch)
	t.offsets = append(t.offsets, t.LastOffset()+batch.NumRows())
	return nil
}

// ReleaseFront drops all batches fully below targetRow. A batch that
// straddles targetRow is retained in full.
func (t *Table) ReleaseFront(targetRow int64) {
	drop := 0
	for drop < len(t.batches) && t.offsets[drop+1] <= targetRow {
		drop++
	}
	if drop == 0 {
		return
	}
	for _, b := range t.batches[:drop] {
		b.Release()
	}
	t.batches = append([]arrow.Record{}, t.batches[drop:]...)
	t.offsets = append([]int64{}, t.offsets[drop:]...)
}

// Range returns the batches (sliced where necessary) covering the
// intersection of bounds with [FirstOffset, LastOffset). Out-of-range
// bounds clamp silently.
func (t *Table) Range(bounds Bounds) []arrow.Record {
	lo := bounds.Start
	hi := bounds.End
	if lo < t.FirstOffset() {
		lo = t.FirstOffset()
	}
	if hi > t.LastOffset() {
		hi = t.LastOffset()
	}
	if lo >= hi {
		return nil
	}

	var out []arrow.Record
	for i, b := range t.batches {
		bStart, bEnd := t.offsets[i], t.offsets[i+1]
		if bEnd <= lo || bStart >= hi {
			continue
		}
		sliceStart := lo - bStart
		if sliceStart < 0 {
			sliceStart = 0
		}
		sliceEnd := hi - bStart
		if sliceEnd > bEnd-bStart {
			sliceEnd = bEnd - bStart
		}
		if sliceStart == 0 && sliceEnd == bEnd-bStart {
			b.Retain()
			out = append(out, b)
			continue
		}
		out = append(out, b.NewSlice(sliceStart, sliceEnd))
	}
	return out
}

// Len reports the number of retained batches.
func (t *Table) Len() int { return len(t.batches) }

// Close releases every retained batch reference.
func (t *Table) Close() {
	for _, b := range t.batches {
		b.Release()
	}
	t.batches = nil
	t.offsets = []int64{0}
}

// Package reader implements the unified dataset read API: a small sum
// type with two cases, Completed (mmap'd on-disk chunks) and Live (a
// shared handle into an active write session's in-progress table).
package reader

import (
	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/fricon-project/fricon/internal/chunkscan"
	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/ferrors"
	"github.com/fricon-project/fricon/internal/session"
)

// Reader is the unified read interface. It is implemented by exactly
// two unexported types (Completed, Live); the unexported marker method
// keeps this an enumerable sum type rather than an open-ended
// interface any type could satisfy.
type Reader interface {
	Schema() *arrow.Schema
	NumRows() int64
	Range(bounds chunktable.Bounds) ([]arrow.Record, error)
	Close() error

	isDatasetReader()
}

// Live readers additionally expose a row-count change subscription.
type Live interface {
	Reader
	Subscribe() (rows int64, changed <-chan struct{})
}

// completedReader reads from on-disk chunk files via memory-mapped
// files opened once, up front, in index order.
type completedReader struct {
	files   []*chunkscan.File
	offsets []int64 // cumulative row start per file, len == len(files)+1
	schema  *arrow.Schema
}

func (*completedReader) isDatasetReader() {}

// OpenCompleted opens every data_chunk_<n>.arrow file in dir in index
// order. If dir has no chunk files at all, returns a ReadError with
// code NoData — this also covers the degenerate "dataset committed
// with zero batches ever written" case, since there is nowhere else to
// recover a schema from.
func OpenCompleted(dir string) (Reader, error) {
	paths, err := chunkscan.List(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ferrors.New(ferrors.KindInternal, ferrors.CodeNoData)
	}

	// Each chunk file is an independent mmap + footer decode; opening
	// them concurrently overlaps that I/O across files while still
	// assembling the final, ordered file/offset slices deterministically.
	files := make([]*chunkscan.File, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			f, err := chunkscan.Open(p)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, opened := range files {
			if opened != nil {
				_ = opened.Close()
			}
		}
		return nil, err
	}

	offsets := make([]int64, 1, len(paths)+1)
	for _, f := range files {
		offsets = append(offsets, offsets[len(offsets)-1]+f.NumRows())
	}

	return &completedReader{files: files, offsets: offsets, schema: files[0].Schema()}, nil
}

func (r *completedReader) Schema() *arrow.Schema { return r.schema }
func (r *completedReader) NumRows() int64        { return r.offsets[len(r.offsets)-1] }

func (r *completedReader) Range(bounds chunktable.Bounds) ([]arrow.Record, error) {
	start, end := bounds.Start, bounds.End
	if start < 0 {
		start = 0
	}
	if end > r.NumRows() {
		end = r.NumRows()
	}
	if start >= end {
		return nil, nil
	}

	var out []arrow.Record
	for i, f := range r.files {
		fStart, fEnd := r.offsets[i], r.offsets[i+1]
		if fEnd <= start || fStart >= end {
			continue
		}
		recs, err := f.Records()
		if err != nil {
			return nil, err
		}
		var cursor = fStart
		for _, rec := range recs {
			recStart, recEnd := cursor, cursor+rec.NumRows()
			cursor = recEnd
			if recEnd <= start || recStart >= end {
				rec.Release()
				continue
			}
			lo := int64(0)
			if start > recStart {
				lo = start - recStart
			}
			hi := rec.NumRows()
			if end < recEnd {
				hi = end - recStart
			}
			if lo == 0 && hi == rec.NumRows() {
				out = append(out, rec)
			} else {
				out = append(out, rec.NewSlice(lo, hi))
				rec.Release()
			}
		}
	}
	return out, nil
}

func (r *completedReader) Close() error {
	var first error
	for _, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// liveReader reads through an active write session; it holds a shared
// handle, not a copy, so rows pushed after the reader was opened
// become visible as the session advances. NumRows and Range go through
// the session's locked accessors rather than the in-progress table
// directly, since the session's writer goroutine mutates that table
// concurrently with any number of live readers.
type liveReader struct {
	schema *arrow.Schema
	sess   *session.Session
	watch  *session.Watch
}

func (*liveReader) isDatasetReader() {}

// OpenLive builds a Live reader over an active session.
func OpenLive(s *session.Session) Live {
	return &liveReader{schema: s.Schema, sess: s, watch: s.Watch()}
}

func (r *liveReader) Schema() *arrow.Schema { return r.schema }
func (r *liveReader) NumRows() int64        { return r.sess.NumRows() }

func (r *liveReader) Range(bounds chunktable.Bounds) ([]arrow.Record, error) {
	return r.sess.Range(bounds)
}

func (r *liveReader) Close() error { return nil }

// Subscribe returns the current row count and a channel that closes
// the next time it changes; each update guarantees all rows up to the
// reported count are readable.
func (r *liveReader) Subscribe() (int64, <-chan struct{}) {
	return r.watch.Snapshot()
}

// Package inprogress implements the in-progress table: the live
// in-memory mirror of rows not yet (or not necessarily) persisted,
// paired with a view onto the on-disk chunk files the write session
// has already finalized.
package inprogress

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/fricon-project/fricon/internal/chunkscan"
	"github.com/fricon-project/fricon/internal/chunktable"
)

// Table pairs a ChunkedTable (memory mirror) with the dataset
// directory's on-disk chunk files. Not safe for concurrent use on its
// own; internal/session wraps it with a mutex.
//
// Opened chunk files are kept mmap'd for the lifetime of the Table
// (mirroring internal/reader's completedReader): chunkscan.Records
// returns zero-copy record batches backed directly by the mapping, so
// unmapping a file the moment its rows are counted would invalidate
// any batch a caller is still holding from a prior Range call.
type Table struct {
	dir           string
	mem           *chunktable.Table
	persistedRows int64
	files         []*chunkscan.File // opened chunk files, in index order
	fileOffsets   []int64           // cumulative rows, len == len(files)+1
}

// New creates an empty in-progress table for dir/schema.
func New(dir string, schema *arrow.Schema) *Table {
	return &Table{dir: dir, mem: chunktable.New(schema), fileOffsets: []int64{0}}
}

// Push appends batch to the in-memory mirror.
func (t *Table) Push(batch arrow.Record) error {
	return t.mem.PushBack(batch)
}

// AdvancePersisted re-scans the dataset directory's chunk files,
// opening (and mmap'ing) any newly finalized ones, then releases from
// memory whatever is now safely on disk.
func (t *Table) AdvancePersisted() error {
	paths, err := chunkscan.List(t.dir)
	if err != nil {
		return err
	}
	for i := len(t.files); i < len(paths); i++ {
		cf, err := chunkscan.Open(paths[i])
		if err != nil {
			return err
		}
		t.files = append(t.files, cf)
		t.fileOffsets = append(t.fileOffsets, t.fileOffsets[len(t.fileOffsets)-1]+cf.NumRows())
	}
	total := t.fileOffsets[len(t.fileOffsets)-1]
	t.persistedRows = total
	t.mem.ReleaseFront(total)
	return nil
}

// PersistedRows is the row count confirmed safely on disk as of the
// last AdvancePersisted call.
func (t *Table) PersistedRows() int64 { return t.persistedRows }

// NumRows is the total logical row count pushed so far (on disk plus
// in memory); unlike PersistedRows this is always current.
func (t *Table) NumRows() int64 { return t.mem.LastOffset() }

// Range yields the union of on-disk rows (read fresh from the
// finalized chunk files) and in-memory rows, split at the in-memory
// table's FirstOffset; overlaps are impossible by construction
// because ReleaseFront only ever drops rows already confirmed on
// disk.
func (t *Table) Range(bounds chunktable.Bounds) ([]arrow.Record, error) {
	var out []arrow.Record

	diskEnd := bounds.End
	if diskEnd > t.persistedRows {
		diskEnd = t.persistedRows
	}
	if bounds.Start < diskEnd {
		recs, err := t.readDisk(bounds.Start, diskEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	out = append(out, t.mem.Range(bounds)...)
	return out, nil
}

// readDisk reads from the already-opened, still-mapped chunk files
// (populated by AdvancePersisted); it never opens or closes a file
// itself, so the records it returns stay valid for as long as the
// Table itself is open.
func (t *Table) readDisk(start, end int64) ([]arrow.Record, error) {
	var out []arrow.Record
	for i, cf := range t.files {
		chunkStart, chunkEnd := t.fileOffsets[i], t.fileOffsets[i+1]
		if chunkEnd <= start || chunkStart >= end {
			continue
		}
		recs, err := cf.Records()
		if err != nil {
			return nil, err
		}
		recCursor := chunkStart
		for _, rec := range recs {
			recStart := recCursor
			recEnd := recCursor + rec.NumRows()
			recCursor = recEnd
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

// Close releases the in-memory mirror's retained batches and unmaps
// every chunk file opened by AdvancePersisted.
func (t *Table) Close() {
	t.mem.Close()
	for _, cf := range t.files {
		_ = cf.Close()
	}
	t.files = nil
	t.fileOffsets = []int64{0}
}

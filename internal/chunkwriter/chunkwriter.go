// Package chunkwriter writes record batches into a rotating sequence
// of Apache Arrow IPC chunk files inside a dataset directory: batches
// coalesce to ~4096 rows with a 64 MiB in-memory cap, the current
// chunk rotates once its serialized size crosses 256 MiB, and the
// current chunk finalizes on Commit or best-effort on Close without
// Commit.
package chunkwriter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fricon-project/fricon/internal/ferrors"
)

const (
	// TargetCoalesceRows is the row count a coalesced batch aims for
	// before being handed to the IPC writer.
	TargetCoalesceRows = 4096
	// MaxCoalesceBytes is the hard cap on buffered-but-unwritten bytes
	// while coalescing.
	MaxCoalesceBytes = 64 * 1024 * 1024
	// MaxChunkBytes is the serialized size at which the current chunk
	// is finalized and a new one opened.
	MaxChunkBytes = 256 * 1024 * 1024
)

// ChunkPath returns the on-disk name for chunk index n within dir.
func ChunkPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("data_chunk_%d.arrow", n))
}

// Limits holds the three size thresholds a Writer enforces. The zero
// value is not valid; use DefaultLimits or fill in every field.
type Limits struct {
	TargetCoalesceRows int64
	MaxCoalesceBytes   int64
	MaxChunkBytes      int64
}

// DefaultLimits returns the production-tuned limits: 4096-row coalesce
// target, 64 MiB coalesce cap, 256 MiB chunk cap.
func DefaultLimits() Limits {
	return Limits{
		TargetCoalesceRows: TargetCoalesceRows,
		MaxCoalesceBytes:   MaxCoalesceBytes,
		MaxChunkBytes:      MaxChunkBytes,
	}
}

// Writer buffers, coalesces, and rotates record batches into bounded
// on-disk chunk files. Not safe for concurrent use; the write session
// (internal/session) owns exclusive access and runs it on a single
// dedicated goroutine.
type Writer struct {
	dir    string
	schema *arrow.Schema
	log    *zap.SugaredLogger
	mem    memory.Allocator
	limits Limits

	pending     []arrow.Record
	pendingRows int64
	pendingSize int64

	chunkIndex int
	file       *os.File
	bw         *bufio.Writer
	ipcWriter  *ipc.FileWriter
	chunkSize  int64

	// OnChunkCompleted, if set, is called with the path of each
	// finalized chunk file (used to drive the in-progress table's
	// advance-persisted step and the event bus's ChunkCompleted event).
	OnChunkCompleted func(path string)

	closed    bool
	committed bool
}

// New creates a Writer over dir for schema using limits (the
// dataset manager's Config threads these through; DefaultLimits() if
// the caller has none of its own). The first chunk file is opened
// lazily on the first accepted batch.
func New(dir string, schema *arrow.Schema, limits Limits, log *zap.SugaredLogger) *Writer {
	return &Writer{dir: dir, schema: schema, limits: limits, log: log, mem: memory.NewGoAllocator()}
}

// Write accepts one batch from the producer, coalescing it with any
// buffered rows and flushing completed coalesced batches to disk.
func (w *Writer) Write(batch arrow.Record) error {
	if w.closed {
		return ferrors.New(ferrors.KindInternal, ferrors.CodeWriterIO)
	}
	batch.Retain()
	w.pending = append(w.pending, batch)
	w.pendingRows += batch.NumRows()
	w.pendingSize += estimateBytes(batch)

	for w.pendingRows >= w.limits.TargetCoalesceRows || w.pendingSize >= w.limits.MaxCoalesceBytes {
		if err := w.flushCoalesced(); err != nil {
			return err
		}
	}
	return nil
}

// flushCoalesced concatenates all pending batches into one and writes
// it, rotating the chunk file first if needed.
func (w *Writer) flushCoalesced() error {
	if len(w.pending) == 0 {
		return nil
	}
	coalesced, err := concatenate(w.schema, w.pending, w.mem)
	for _, b := range w.pending {
		b.Release()
	}
	w.pending = nil
	w.pendingRows = 0
	w.pendingSize = 0
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "coalesce batches")
	}
	defer coalesced.Release()
	return w.writeToChunk(coalesced)
}

func (w *Writer) writeToChunk(rec arrow.Record) error {
	if w.ipcWriter == nil {
		if err := w.openChunk(); err != nil {
			return err
		}
	}
	if err := w.ipcWriter.Write(rec); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "write ipc batch")
	}
	if err := w.bw.Flush(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "flush chunk file")
	}
	pos, err := w.file.Seek(0, os.SEEK_CUR)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "stat chunk file")
	}
	w.chunkSize = pos

	if w.chunkSize >= w.limits.MaxChunkBytes {
		return w.finalizeChunk()
	}
	return nil
}

func (w *Writer) openChunk() error {
	path := ChunkPath(w.dir, w.chunkIndex)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "create chunk file")
	}
	bw := bufio.NewWriter(f)
	iw, err := ipc.NewFileWriter(bw, ipc.WithSchema(w.schema), ipc.WithAllocator(w.mem))
	if err != nil {
		f.Close()
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "open ipc writer")
	}
	w.file = f
	w.bw = bw
	w.ipcWriter = iw
	w.chunkSize = 0
	return nil
}

// finalizeChunk closes the footer, closes the file, notifies, and
// advances to the next chunk index. Once closed, a chunk is immutable.
func (w *Writer) finalizeChunk() error {
	if w.ipcWriter == nil {
		return nil
	}
	path := ChunkPath(w.dir, w.chunkIndex)
	if err := w.ipcWriter.Close(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "finalize chunk footer")
	}
	if err := w.bw.Flush(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "flush chunk file")
	}
	if err := w.file.Close(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "close chunk file")
	}
	w.ipcWriter = nil
	w.file = nil
	w.bw = nil
	if w.log != nil {
		w.log.Infow("chunk finalized", "path", path, "size", humanize.IBytes(uint64(w.chunkSize)))
	}
	w.chunkIndex++
	if w.OnChunkCompleted != nil {
		w.OnChunkCompleted(path)
	}
	return nil
}

// Commit flushes any buffered coalesced state, finalizes the current
// chunk, and marks the writer closed. The caller must not flip catalog
// status to Completed until Commit returns successfully.
func (w *Writer) Commit() error {
	if w.closed {
		return nil
	}
	if err := w.flushCoalesced(); err != nil {
		return err
	}
	if err := w.finalizeChunk(); err != nil {
		return err
	}
	w.closed = true
	w.committed = true
	return nil
}

// Close performs a best-effort finalize of the current chunk without
// treating the writer as committed: on-disk files remain a valid
// prefix of the logical row sequence, and a warning is logged.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushCoalesced(); err != nil {
		if w.log != nil {
			w.log.Warnw("chunk writer: failed to flush buffered rows on abort", "error", err)
		}
	}
	if err := w.finalizeChunk(); err != nil {
		if w.log != nil {
			w.log.Warnw("chunk writer: failed to finalize chunk on abort", "error", err)
		}
		return err
	}
	if w.log != nil && !w.committed {
		w.log.Warnw("chunk writer closed without commit", "dir", w.dir, "chunks", w.chunkIndex)
	}
	return nil
}

// estimateBytes approximates a record batch's in-memory size for the
// coalesce byte cap; exact accounting isn't required, only a
// conservative bound.
func estimateBytes(rec arrow.Record) int64 {
	var total int64
	for i := 0; i < int(rec.NumCols()); i++ {
		col := rec.Column(i)
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

// concatenate merges records (all sharing schema) into one record,
// column by column.
func concatenate(schema *arrow.Schema, records []arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	if len(records) == 1 {
		records[0].Retain()
		return records[0], nil
	}
	numCols := int(schema.NumFields())
	cols := make([]arrow.Array, numCols)
	var numRows int64
	for i := 0; i < numCols; i++ {
		arrs := make([]arrow.Array, len(records))
		for j, rec := range records {
			arrs[j] = rec.Column(i)
		}
		merged, err := array.Concatenate(arrs, mem)
		if err != nil {
			for _, c := range cols[:i] {
				if c != nil {
					c.Release()
				}
			}
			return nil, err
		}
		cols[i] = merged
		if i == 0 {
			numRows = int64(merged.Len())
		}
	}
	rec := array.NewRecord(schema, cols, numRows)
	for _, c := range cols {
		c.Release()
	}
	return rec, nil
}

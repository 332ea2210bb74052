// Package session implements the per-dataset write coordinator: it
// owns a chunk writer and a shared in-progress table, and exposes a
// synchronous Write entry point backed by a bounded channel to a
// dedicated writer goroutine.
package session

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fricon-project/fricon/internal/chunktable"
	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/events"
	"github.com/fricon-project/fricon/internal/ferrors"
	"github.com/fricon-project/fricon/internal/inprogress"
)

// DefaultBatchChanCapacity bounds the channel between the caller's
// ingestion loop and the writer goroutine; a full channel suspends the
// caller, which is this engine's only backpressure point.
const DefaultBatchChanCapacity = 32

// Session coordinates one dataset's active write. It is safe for one
// concurrent caller driving Write/Commit/Abort (a single-writer
// design) together with any number of concurrent readers calling
// NumRows/Range, which take the same lock Write and the chunk-complete
// callback use to mutate the in-progress table.
type Session struct {
	DatasetID int64
	UUID      uuid.UUID
	Dir       string
	Schema    *arrow.Schema

	log *zap.SugaredLogger
	bus *events.Bus

	mu    sync.Mutex // guards table and persisted-row bookkeeping
	table *inprogress.Table

	writer  *chunkwriter.Writer
	batchCh chan arrow.Record
	done    chan struct{}

	errMu sync.Mutex
	err   error

	watch *Watch
}

// New creates a session for a dataset directory and schema, and starts
// its dedicated writer goroutine. chanCapacity <= 0 falls back to
// DefaultBatchChanCapacity.
func New(datasetID int64, id uuid.UUID, dir string, schema *arrow.Schema, limits chunkwriter.Limits, chanCapacity int, log *zap.SugaredLogger, bus *events.Bus) *Session {
	if chanCapacity <= 0 {
		chanCapacity = DefaultBatchChanCapacity
	}
	s := &Session{
		DatasetID: datasetID,
		UUID:      id,
		Dir:       dir,
		Schema:    schema,
		log:       log,
		bus:       bus,
		table:     inprogress.New(dir, schema),
		batchCh:   make(chan arrow.Record, chanCapacity),
		done:      make(chan struct{}),
		watch:     newWatch(),
	}
	s.writer = chunkwriter.New(dir, schema, limits, log)
	s.writer.OnChunkCompleted = s.onChunkCompleted
	go s.run()
	return s
}

// NumRows returns the in-progress table's current row count. Safe to
// call concurrently with Write; it takes the same lock Write uses to
// mutate the table.
func (s *Session) NumRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.NumRows()
}

// Range returns the batches covering bounds, snapshotted under the
// same lock Write and the chunk-complete callback use to mutate the
// in-progress table. Safe to call concurrently with Write.
func (s *Session) Range(bounds chunktable.Bounds) ([]arrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Range(bounds)
}

// Watch returns the row-count change notifier used by Live readers.
func (s *Session) Watch() *Watch { return s.watch }

func (s *Session) run() {
	defer close(s.done)
	for batch := range s.batchCh {
		if s.loadErr() != nil {
			// A previous batch failed: keep draining without writing, so
			// Write() callers (and Commit/Abort) never block forever on a
			// full channel and the on-disk chunks stay a gap-free prefix.
			// The error is surfaced to the next Write or Commit call.
			batch.Release()
			continue
		}
		err := s.writer.Write(batch)
		batch.Release()
		if err != nil {
			s.setErr(ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "write chunk batch"))
		}
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Session) loadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Write pushes batch into the in-progress table and forwards it to
// the chunk writer. It suspends only on channel backpressure.
func (s *Session) Write(batch arrow.Record) error {
	if err := s.loadErr(); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.table.Push(batch)
	rows := s.table.NumRows()
	s.mu.Unlock()
	if err != nil {
		if ferrErr, ok := err.(*ferrors.Error); ok && ferrErr.Code == ferrors.CodeSchemaMismatch {
			return err
		}
		return err
	}
	s.watch.bump(rows)

	batch.Retain()
	select {
	case s.batchCh <- batch:
	case <-s.done:
		batch.Release()
		if err := s.loadErr(); err != nil {
			return err
		}
		return ferrors.New(ferrors.KindInternal, ferrors.CodeWriterIO)
	}
	return s.loadErr()
}

func (s *Session) onChunkCompleted(path string) {
	s.mu.Lock()
	err := s.table.AdvancePersisted()
	rows := s.table.NumRows()
	s.mu.Unlock()
	if err != nil {
		s.setErr(err)
		return
	}
	s.watch.bump(rows)
	if s.bus != nil {
		s.bus.Publish(events.Event{Kind: events.KindChunkCompleted, DatasetID: s.DatasetID, UUID: s.UUID, ChunkPath: path})
	}
}

// Commit closes the chunk writer (flushing buffered coalesced rows and
// finalizing the current chunk), advances persisted rows once more,
// and stops the writer goroutine. Ordering here is what lets the
// manager safely flip the catalog status to Completed afterward.
func (s *Session) Commit() error {
	close(s.batchCh)
	<-s.done
	if err := s.loadErr(); err != nil {
		return err
	}
	if err := s.writer.Commit(); err != nil {
		return err
	}
	s.mu.Lock()
	err := s.table.AdvancePersisted()
	rows := s.table.NumRows()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.watch.bump(rows)
	return nil
}

// Abort attempts a best-effort close of the chunk writer; the on-disk
// files remain a valid prefix of the logical row sequence.
func (s *Session) Abort() error {
	close(s.batchCh)
	<-s.done
	if err := s.writer.Close(); err != nil {
		if s.log != nil {
			s.log.Warnw("session abort: chunk writer close failed", "dataset_uuid", s.UUID, "error", err)
		}
		return err
	}
	return nil
}

// Close unmaps every persisted chunk file the in-progress table opened
// and releases the in-memory mirror's retained batches. The registry
// guard calls this once Commit or Abort has finished, after which any
// Live reader still holding this session is expected to have switched
// to the Completed reader a fresh OpenReader call now returns instead.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Close()
}

// Watch broadcasts row-count advances to any number of subscribers
// without requiring a background goroutine per subscriber, the Go
// analogue of a single-value watch channel.
type Watch struct {
	mu    sync.Mutex
	rows  int64
	gen   chan struct{}
}

func newWatch() *Watch {
	return &Watch{gen: make(chan struct{})}
}

func (w *Watch) bump(rows int64) {
	w.mu.Lock()
	w.rows = rows
	old := w.gen
	w.gen = make(chan struct{})
	w.mu.Unlock()
	close(old)
}

// Snapshot returns the current row count and a channel that closes
// the next time the count changes.
func (w *Watch) Snapshot() (int64, <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows, w.gen
}

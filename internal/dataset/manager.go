package fricon

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fricon-project/fricon/internal/catalog"
	"github.com/fricon-project/fricon/internal/events"
	"github.com/fricon-project/fricon/internal/ferrors"
	"github.com/fricon-project/fricon/internal/reader"
	"github.com/fricon-project/fricon/internal/registry"
	"github.com/fricon-project/fricon/internal/schema"
	"github.com/fricon-project/fricon/internal/workspace"
)

// Manager is the high-level dataset lifecycle orchestrator. It is the
// only component that mutates catalog status: a write error always
// becomes Aborted, a clean stream end becomes Completed only after the
// chunk writer has finalized.
type Manager struct {
	root *workspace.Root
	cat  *catalog.Catalog
	reg  *registry.Registry
	bus  *events.Bus
	log  *zap.SugaredLogger
	cfg  Config

	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Open builds a Manager over an already-opened workspace root and
// catalog. cfg == nil uses DefaultConfig().
func Open(root *workspace.Root, cat *catalog.Catalog, bus *events.Bus, log *zap.SugaredLogger, cfg *Config) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		root:        root,
		cat:         cat,
		reg:         registry.New(),
		bus:         bus,
		log:         log,
		cfg:         c,
		shutdownCtx: ctx,
		cancel:      cancel,
	}
}

// CreateRequest is the first message of the create control stream.
type CreateRequest struct {
	Name        string
	Description string
	Tags        []string
}

// CreateDataset runs the full create orchestration: catalog insert,
// directory creation, session start, stream ingestion, and the
// commit/abort decision. ctx governs this one call's deadline (an RPC
// deadline); the process-wide shutdown token from Shutdown also aborts
// any call still running when it trips.
func (m *Manager) CreateDataset(ctx context.Context, req CreateRequest, src BatchSource) (catalog.Dataset, error) {
	m.wg.Add(1)
	defer m.wg.Done()

	runCtx, stop := mergeDone(ctx, m.shutdownCtx)
	defer stop()

	id := uuid.New()
	dir := m.root.Paths().DatasetPath(id)

	ds, err := m.cat.CreateWithTags(id, req.Name, req.Description, req.Tags)
	if err != nil {
		// Catalog error during create: transaction rolled back, directory
		// creation skipped, no session starts.
		return catalog.Dataset{}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.abortRow(ds.ID)
		return catalog.Dataset{}, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWriterIO, err, "create dataset directory")
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.KindDatasetCreated, DatasetID: ds.ID, UUID: ds.UUID})
	}

	first, err := src.Next(runCtx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Zero batches ever submitted: nothing to write, nowhere to
			// recover a schema from. Complete with no chunk files; readers
			// of this dataset get ReadError NoData, same as any other
			// empty completed dataset.
			if uerr := m.cat.UpdateStatus(ds.ID, catalog.StatusWriting, catalog.StatusCompleted); uerr != nil {
				return catalog.Dataset{}, uerr
			}
			return m.finishedRow(ds.ID)
		}
		m.abortRow(ds.ID)
		return catalog.Dataset{}, classifyProducerErr(err)
	}

	if _, serr := schema.FromArrowSchema(first.Schema()); serr != nil {
		first.Release()
		m.abortRow(ds.ID)
		return catalog.Dataset{}, serr
	}

	guard := m.reg.Start(ds.ID, ds.UUID, dir, first.Schema(), m.cfg.Limits, m.cfg.WriteChannelCapacity, m.log, m.bus)
	sess := guard.Session()

	writeErr := sess.Write(first)
	first.Release()

	for writeErr == nil {
		batch, nerr := src.Next(runCtx)
		if nerr != nil {
			if errors.Is(nerr, io.EOF) {
				break
			}
			writeErr = classifyProducerErr(nerr)
			break
		}
		writeErr = sess.Write(batch)
		batch.Release()
	}

	if writeErr != nil {
		_ = guard.Abort()
		m.abortRow(ds.ID)
		return catalog.Dataset{}, writeErr
	}

	// Commit ordering is contractual: the on-disk chunk writer must be
	// finalized before the catalog status flips to Completed, so a
	// reader that observes Completed always sees every row the producer
	// sent.
	if err := guard.Commit(); err != nil {
		m.abortRow(ds.ID)
		return catalog.Dataset{}, err
	}
	if err := m.cat.UpdateStatus(ds.ID, catalog.StatusWriting, catalog.StatusCompleted); err != nil {
		return catalog.Dataset{}, err
	}
	return m.finishedRow(ds.ID)
}

func (m *Manager) finishedRow(id int64) (catalog.Dataset, error) {
	out, err := m.cat.FindByID(id)
	if err != nil {
		return catalog.Dataset{}, err
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.KindDatasetUpdated, DatasetID: out.ID, UUID: out.UUID})
	}
	return out, nil
}

// abortRow flips status to Aborted, best-effort: this runs on error
// paths where the caller is already propagating the original error,
// so a secondary catalog failure here is logged rather than returned.
func (m *Manager) abortRow(id int64) {
	if err := m.cat.UpdateStatus(id, catalog.StatusWriting, catalog.StatusAborted); err != nil {
		if m.log != nil {
			m.log.Errorw("failed to mark dataset aborted", "dataset_id", id, "error", err)
		}
		return
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.KindDatasetUpdated, DatasetID: id})
	}
}

func classifyProducerErr(err error) error {
	if ferr, ok := err.(*ferrors.Error); ok {
		return ferr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ferrors.Wrap(ferrors.KindAborted, ferrors.CodeCancelled, err, "write cancelled")
	}
	return ferrors.Wrap(ferrors.KindAborted, ferrors.CodeProducerError, err, "producer stream error")
}

// OpenReader returns a unified reader for the dataset with catalog id:
// a Live reader if a write session is still registered for it,
// otherwise a Completed reader over its on-disk chunk files.
func (m *Manager) OpenReader(id int64) (reader.Reader, error) {
	ds, err := m.cat.FindByID(id)
	if err != nil {
		return nil, err
	}
	return m.openReaderFor(ds)
}

// OpenReaderByUUID is OpenReader keyed by dataset UUID.
func (m *Manager) OpenReaderByUUID(id uuid.UUID) (reader.Reader, error) {
	ds, err := m.cat.FindByUUID(id)
	if err != nil {
		return nil, err
	}
	return m.openReaderFor(ds)
}

func (m *Manager) openReaderFor(ds catalog.Dataset) (reader.Reader, error) {
	if ds.Status == catalog.StatusWriting {
		if sess, ok := m.reg.Get(ds.ID); ok {
			return reader.OpenLive(sess), nil
		}
		// No registered session: either the writer crashed (surface the
		// on-disk prefix) or nothing was ever written (NoData).
		// reader.OpenCompleted returns NoData in the latter case.
	}
	dir := m.root.Paths().DatasetPath(ds.UUID)
	return reader.OpenCompleted(dir)
}

// GetDataset looks up a dataset row by catalog id.
func (m *Manager) GetDataset(id int64) (catalog.Dataset, error) { return m.cat.FindByID(id) }

// GetDatasetByUUID looks up a dataset row by UUID.
func (m *Manager) GetDatasetByUUID(id uuid.UUID) (catalog.Dataset, error) { return m.cat.FindByUUID(id) }

// ListDatasets is a direct pass-through to the catalog listing.
func (m *Manager) ListDatasets(q catalog.ListQuery) ([]catalog.Dataset, error) { return m.cat.List(q) }

// LoadTags returns the tag names attached to a dataset.
func (m *Manager) LoadTags(id int64) ([]string, error) { return m.cat.LoadTags(id) }

// UpdateMetadata applies a partial metadata update and publishes
// DatasetUpdated.
func (m *Manager) UpdateMetadata(id int64, u catalog.MetadataUpdate) error {
	if err := m.cat.UpdateMetadata(id, u); err != nil {
		return err
	}
	_, err := m.finishedRow(id)
	return err
}

// AddTags idempotently upserts and associates tag names with a
// dataset (P6: add_tags(S); add_tags(S) == add_tags(S)).
func (m *Manager) AddTags(id int64, names []string) error {
	tags, err := m.cat.FindOrCreateTags(names)
	if err != nil {
		return err
	}
	if err := m.cat.AssociateTags(id, tagIDs(tags)); err != nil {
		return err
	}
	_, err = m.finishedRow(id)
	return err
}

// RemoveTags idempotently dissociates tag names from a dataset; names
// that were never tags at all are silently ignored rather than
// created and then removed.
func (m *Manager) RemoveTags(id int64, names []string) error {
	tags, err := m.cat.FindTags(names)
	if err != nil {
		return err
	}
	if err := m.cat.DissociateTags(id, tagIDs(tags)); err != nil {
		return err
	}
	_, err = m.finishedRow(id)
	return err
}

func tagIDs(tags []catalog.Tag) []int64 {
	ids := make([]int64, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

// DeleteDataset removes both the catalog row and the dataset
// directory tree. A dataset with an active write session cannot be
// deleted out from under its writer.
func (m *Manager) DeleteDataset(id int64) error {
	ds, err := m.cat.FindByID(id)
	if err != nil {
		return err
	}
	if _, active := m.reg.Get(id); active {
		return ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeCatalogConflict)
	}
	if err := m.cat.Delete(id); err != nil {
		return err
	}
	dir := m.root.Paths().DatasetPath(ds.UUID)
	if err := os.RemoveAll(dir); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "remove dataset directory")
	}
	return nil
}

// Shutdown trips the process-wide cancellation token (aborting any
// ingestion task still selecting on it), waits up to
// cfg.ShutdownDrainTimeout for in-flight CreateDataset calls to finish
// committing or aborting, then releases the workspace lock regardless
// of whether the wait timed out.
func (m *Manager) Shutdown() error {
	m.cancel()
	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(m.cfg.ShutdownDrainTimeout):
		if m.log != nil {
			m.log.Warnw("shutdown: timed out waiting for active writes to drain", "timeout", m.cfg.ShutdownDrainTimeout)
		}
	}
	return m.root.Close()
}

// mergeDone derives a context that is Done when either a or b is
// Done, for the duration of one CreateDataset call: ctx carries a
// caller's RPC deadline, shutdownCtx carries the process-wide
// cancellation token.
func mergeDone(a, b context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}

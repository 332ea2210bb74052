// Package registry is the process-wide map from dataset id to active
// write-session handle. Readers that find an entry get a handle to the
// session itself; after that they need no further coordination with
// the registry.
package registry

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/events"
	"github.com/fricon-project/fricon/internal/session"
)

// Registry is a reader-writer-locked map of dataset id -> *session.Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*session.Session
}

func New() *Registry {
	return &Registry{sessions: make(map[int64]*session.Session)}
}

// Guard owns the registry entry created by Start. Commit or Abort ends
// the session and removes the entry; neither runs automatically, so a
// Guard discarded without calling either leaves its session registered
// and its writer goroutine running.
type Guard struct {
	reg     *Registry
	id      int64
	session *session.Session
	done    bool
}

// Start constructs a session for id, publishes it in the registry, and
// returns a guard. Only one session per dataset id may be active at a
// time; Start panics if one already exists, since that indicates a
// programmer error in the surrounding manager, not a recoverable
// runtime condition.
func (r *Registry) Start(id int64, u uuid.UUID, dir string, schema *arrow.Schema, limits chunkwriter.Limits, chanCapacity int, log *zap.SugaredLogger, bus *events.Bus) *Guard {
	s := session.New(id, u, dir, schema, limits, chanCapacity, log, bus)
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		panic("registry: duplicate active write session for dataset")
	}
	r.sessions[id] = s
	r.mu.Unlock()
	return &Guard{reg: r, id: id, session: s}
}

// Session returns the guarded session.
func (g *Guard) Session() *session.Session { return g.session }

// Commit runs the session's commit path, removes the registry entry,
// and releases the session's chunk-file mappings and in-memory mirror.
func (g *Guard) Commit() error {
	if g.done {
		return nil
	}
	err := g.session.Commit()
	g.reg.remove(g.id)
	g.session.Close()
	g.done = true
	return err
}

// Abort runs the session's abort path, removes the registry entry, and
// releases the session's chunk-file mappings and in-memory mirror.
func (g *Guard) Abort() error {
	if g.done {
		return nil
	}
	err := g.session.Abort()
	g.reg.remove(g.id)
	g.session.Close()
	g.done = true
	return err
}

// Release removes the registry entry without running either commit or
// abort on the underlying session; used when the caller has already
// handled commit/abort itself and just needs the guard's bookkeeping
// cleared (e.g. after an explicit Abort call outside the guard).
func (g *Guard) Release() {
	if g.done {
		return
	}
	g.reg.remove(g.id)
	g.done = true
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns a shared handle to the active session for id, if any.
func (r *Registry) Get(id int64) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

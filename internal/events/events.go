// Package events is the process-local broadcast bus for dataset
// lifecycle notifications: DatasetCreated, DatasetUpdated,
// ChunkCompleted. It is purely informational — no consumer is on the
// critical path, and a slow subscriber may miss events rather than
// apply backpressure to a writer.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind discriminates the event variants a subscriber may receive.
type Kind int

const (
	KindDatasetCreated Kind = iota
	KindDatasetUpdated
	KindChunkCompleted
)

// Event is a single lifecycle notification.
type Event struct {
	Kind      Kind
	DatasetID int64
	UUID      uuid.UUID
	ChunkPath string // set only for KindChunkCompleted
}

// bufferSize is the bound on each subscriber's channel; a full channel
// means the subscriber is slow and simply misses the event rather than
// stalling the publisher.
const bufferSize = 64

// Bus is a multi-producer, multi-consumer broadcast channel.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns a receive-only
// channel plus an unsubscribe function. Callers must call the
// returned function when done to avoid leaking the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, bufferSize)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish fans out ev to every current subscriber, non-blocking: a
// subscriber whose buffer is full simply misses this event.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

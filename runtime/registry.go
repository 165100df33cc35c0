// Package runtime owns the live connection state and event propagation.
// It orchestrates the system without containing business logic or domain rules.
package runtime

import (
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
)

// SupersededReason is handed to a sink closed because a newer session for
// the same identity replaced it.
const SupersededReason = "session_replaced"

// Registry is the single source of truth for who is online right now.
// Its key set is exactly the set of identities with a currently-open,
// authenticated connection. It is the only shared mutable state in the
// system; every mutation happens under one lock, so no caller ever observes
// a partially-updated entry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]contract.Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]contract.Connection)}
}

// Register inserts or replaces the entry for the identity. A user opening a
// second session supersedes the first: the newest connection wins and the
// old transport is closed explicitly so its client learns why it lost
// reachability.
func (r *Registry) Register(identity domain.Identity, sink contract.EventSink) bool {
	r.mu.Lock()
	previous, replaced := r.conns[identity.ID]
	r.conns[identity.ID] = contract.Connection{
		Identity:     identity,
		Sink:         sink,
		LastActiveAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	if replaced {
		// Outside the lock: closing a transport may block on I/O.
		_ = previous.Sink.Close(SupersededReason)
	}
	return replaced
}

// Touch refreshes LastActiveAt for a still-live connection. No-op if absent.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.LastActiveAt = time.Now().UTC()
		r.conns[id] = conn
	}
}

// Unregister removes the entry. No-op if absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) IsOnline(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) Lookup(id string) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Snapshot returns a copy of every live connection, for presence broadcast
// and discovery enrichment.
func (r *Registry) Snapshot() []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]contract.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

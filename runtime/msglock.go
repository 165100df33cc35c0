package runtime

import "sync"

// MessageLocks serializes delivery-status work per message ID. Event
// handlers suspend at persistence boundaries, so a mark-read can otherwise
// interleave between a send's delivery check and its status update;
// holding the per-ID lock across the whole transition closes that race.
type MessageLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewMessageLocks() *MessageLocks {
	return &MessageLocks{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lock for the given message ID and returns its release
// function. Entries are reference-counted and removed once unused.
func (l *MessageLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

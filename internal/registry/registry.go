// Package registry is the one place allowed to hold cross-session shared
// state: a concurrent map from session id to that session's room and
// pipeline handles, locked per entry so teardown of one session never blocks
// operations on another.
package registry

import (
	"errors"
	"sync"
	"time"

	"numeroly/voice/internal/pipeline"
	"numeroly/voice/internal/types"
)

var ErrSessionExists = errors.New("session already registered")

// Entry pairs the two live handles for one session. The registry references
// the pipeline, it does not own it.
type Entry struct {
	Room     types.RoomHandle
	Pipeline *pipeline.Manager
}

type slot struct {
	mu      sync.Mutex
	entry   Entry
	removed bool
}

type Registry struct {
	mu    sync.RWMutex // guards map shape only; slot.mu guards each entry
	slots map[string]*slot
}

func New() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// Register inserts the handle pair for a session. Both handles must be live;
// a second register for the same id is refused rather than multiplexed.
func (r *Registry) Register(sessionID string, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[sessionID]; ok && !s.removed {
		return ErrSessionExists
	}
	r.slots[sessionID] = &slot{entry: e}
	return nil
}

func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	r.mu.RLock()
	s := r.slots[sessionID]
	r.mu.RUnlock()
	if s == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return Entry{}, false
	}
	return s.entry, true
}

// UnregisterIfPresent removes a session's entry, handing the handles to
// exactly one caller. Duplicate calls and calls for unknown ids report
// ok=false without error, so teardown is idempotent.
func (r *Registry) UnregisterIfPresent(sessionID string) (Entry, bool) {
	r.mu.Lock()
	s := r.slots[sessionID]
	r.mu.Unlock()
	if s == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return Entry{}, false
	}
	s.removed = true
	e := s.entry
	s.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.slots[sessionID]; ok && cur == s {
		delete(r.slots, sessionID)
	}
	r.mu.Unlock()
	return e, true
}

// ForEachStale visits sessions whose room credential expired before
// olderThan. Staleness is read under the entry's lock, but fn itself runs
// with no registry lock held, so it may re-enter the registry, including
// unregistering the id it was handed. The entry fn sees is a snapshot and
// may be gone by the time fn runs.
func (r *Registry) ForEachStale(olderThan time.Time, fn func(sessionID string, e Entry)) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.mu.RLock()
		s := r.slots[id]
		r.mu.RUnlock()
		if s == nil {
			continue
		}
		s.mu.Lock()
		stale := !s.removed && s.entry.Room.ExpiresAt.Before(olderThan)
		e := s.entry
		s.mu.Unlock()
		if stale {
			fn(id, e)
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

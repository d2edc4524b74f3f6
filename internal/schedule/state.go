package schedule

import (
	"sync"
	"time"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// StateTable holds RuntimeState per resource plus the set of resources with a
// check in flight. It is safe for concurrent use.
type StateTable struct {
	mu       sync.RWMutex
	states   map[int64]watch.RuntimeState
	inFlight map[int64]struct{}
}

// NewStateTable returns an empty table; every resource starts due.
func NewStateTable() *StateTable {
	return &StateTable{
		states:   make(map[int64]watch.RuntimeState),
		inFlight: make(map[int64]struct{}),
	}
}

// Get returns the state for id, if any.
func (t *StateTable) Get(id int64) (watch.RuntimeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	return st, ok
}

// Due reports whether id should be checked at now. Absent state is due.
func (t *StateTable) Due(id int64, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	return !ok || !now.Before(st.NextDueAt)
}

// TryAcquire marks id as in flight. It returns false if a check is already
// running for id.
func (t *StateTable) TryAcquire(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[id]; busy {
		return false
	}
	t.inFlight[id] = struct{}{}
	return true
}

// Release clears the in-flight mark for id.
func (t *StateTable) Release(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
}

// Update applies fn to the current state of id (zero if absent) and stores
// the result.
func (t *StateTable) Update(id int64, fn func(watch.RuntimeState) watch.RuntimeState) watch.RuntimeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := fn(t.states[id])
	t.states[id] = next
	return next
}

// Retain drops state for every resource not in live. In-flight marks are left
// to their checks.
func (t *StateTable) Retain(live map[int64]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id := range t.states {
		if _, ok := live[id]; !ok {
			delete(t.states, id)
			removed++
		}
	}
	return removed
}

// Clear drops every state so all resources become due. In-flight marks are
// left to their checks.
func (t *StateTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[int64]watch.RuntimeState)
}

// Len returns the number of resources with state.
func (t *StateTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

package store

import "sync"

// Locks serializes writers of one form id within one process: editing
// sessions, direct edits and syncs.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryLock returns a release func, or false when formID is already held.
func (l *Locks) TryLock(formID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[formID]; ok {
		return nil, false
	}
	l.held[formID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, formID)
			l.mu.Unlock()
		})
	}, true
}

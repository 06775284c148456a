package config

import (
	"sort"
	"sync"
)

// PathEventKind distinguishes membership changes of a PathSet.
type PathEventKind int

const (
	// PathAdded reports a path that joined the set.
	PathAdded PathEventKind = iota
	// PathRemoved reports a path that left the set.
	PathRemoved
)

// String returns a human-readable representation of the kind.
func (k PathEventKind) String() string {
	switch k {
	case PathAdded:
		return "added"
	case PathRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// PathEvent is a single membership change of a PathSet.
type PathEvent struct {
	Kind PathEventKind
	Path string
}

// PathSet is an observable set of paths to sync. Observers receive one event
// per membership change, in the order the changes were made.
type PathSet struct {
	mu        sync.Mutex
	paths     map[string]struct{}
	observers map[uint64]func(PathEvent)
	nextID    uint64
}

// NewPathSet creates a set holding the given paths.
func NewPathSet(paths ...string) *PathSet {
	s := &PathSet{
		paths:     make(map[string]struct{}, len(paths)),
		observers: make(map[uint64]func(PathEvent)),
	}

	for _, p := range paths {
		s.paths[p] = struct{}{}
	}

	return s
}

// Add inserts path. It reports whether the set changed.
func (s *PathSet) Add(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[path]; ok {
		return false
	}

	s.paths[path] = struct{}{}
	s.emitLocked(PathEvent{Kind: PathAdded, Path: path})

	return true
}

// Remove deletes path. It reports whether the set changed.
func (s *PathSet) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[path]; !ok {
		return false
	}

	delete(s.paths, path)
	s.emitLocked(PathEvent{Kind: PathRemoved, Path: path})

	return true
}

// Replace makes the set equal to paths, emitting removals before additions.
func (s *PathSet) Replace(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[p] = struct{}{}
	}

	for _, p := range sortedKeys(s.paths) {
		if _, ok := want[p]; !ok {
			delete(s.paths, p)
			s.emitLocked(PathEvent{Kind: PathRemoved, Path: p})
		}
	}

	for _, p := range sortedKeys(want) {
		if _, ok := s.paths[p]; !ok {
			s.paths[p] = struct{}{}
			s.emitLocked(PathEvent{Kind: PathAdded, Path: p})
		}
	}
}

// Has reports whether path is a member.
func (s *PathSet) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.paths[path]

	return ok
}

// Values returns the members in sorted order.
func (s *PathSet) Values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.paths)
}

// Observe registers fn and immediately replays every current member as a
// PathAdded event. The returned function cancels the observation; calling it
// more than once is a no-op.
//
// fn is invoked while the set is locked, so it must not call back into the set.
func (s *PathSet) Observe(fn func(PathEvent)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	for _, p := range sortedKeys(s.paths) {
		fn(PathEvent{Kind: PathAdded, Path: p})
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *PathSet) emitLocked(ev PathEvent) {
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s.observers[id](ev)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

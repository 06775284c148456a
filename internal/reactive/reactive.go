// Package reactive provides the small change-propagation toolkit the sync
// engine is built on: a versioned observable [Map] whose mutations are
// applied in atomic batches, and a memoized [Computed] value that is
// recomputed lazily after any of its inputs reports a change.
//
// Subscribers are always invoked after the emitting value has released its
// lock, so a callback may read the value that notified it.
package reactive

import (
	"sort"
	"sync"
)

// Observable is anything that announces changes to subscribers.
type Observable interface {
	// Subscribe registers fn to be called after every change. The returned
	// function removes the subscription and is safe to call repeatedly.
	Subscribe(fn func()) (unsubscribe func())
}

// notifier fans a change signal out to its subscribers.
type notifier struct {
	mu     sync.Mutex
	subs   map[uint64]func()
	nextID uint64
}

func (n *notifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[uint64]func())
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// notify calls every subscriber in registration order, outside the lock.
func (n *notifier) notify() {
	n.mu.Lock()
	ids := make([]uint64, 0, len(n.subs))

	for id := range n.subs {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

// Map is a concurrency-safe map that carries a version number and notifies
// subscribers when its contents change. The version increases by exactly one
// per effective mutation or batch; no-op writes leave it untouched.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]V
	version uint64
	n       notifier
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{items: make(map[K]V)}
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]

	return v, ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// Version returns the current version.
func (m *Map[K, V]) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.version
}

// Values returns the current values in unspecified order.
func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]V, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}

	return out
}

// Set stores value under key.
func (m *Map[K, V]) Set(key K, value V) {
	m.Batch(func(tx *Tx[K, V]) { tx.Set(key, value) })
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	var removed bool

	m.Batch(func(tx *Tx[K, V]) { removed = tx.Delete(key) })

	return removed
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.Batch(func(tx *Tx[K, V]) { tx.Clear() })
}

// Batch applies fn as one atomic mutation. Readers never observe a state in
// which only part of fn's writes are visible, and subscribers are notified at
// most once, after fn returns. fn must not call other methods of m.
func (m *Map[K, V]) Batch(fn func(tx *Tx[K, V])) {
	m.mu.Lock()

	tx := &Tx[K, V]{items: m.items}
	fn(tx)

	if tx.changed {
		m.version++
	}
	m.mu.Unlock()

	if tx.changed {
		m.n.notify()
	}
}

// Subscribe registers fn to be called after every effective change.
func (m *Map[K, V]) Subscribe(fn func()) func() {
	return m.n.Subscribe(fn)
}

// Tx is the write handle passed to [Map.Batch].
type Tx[K comparable, V any] struct {
	items   map[K]V
	changed bool
}

// Get returns the value stored under key, including writes made earlier in
// the same batch.
func (tx *Tx[K, V]) Get(key K) (V, bool) {
	v, ok := tx.items[key]

	return v, ok
}

// Keys returns the keys present at this point of the batch.
func (tx *Tx[K, V]) Keys() []K {
	keys := make([]K, 0, len(tx.items))
	for k := range tx.items {
		keys = append(keys, k)
	}

	return keys
}

// Set stores value under key.
func (tx *Tx[K, V]) Set(key K, value V) {
	tx.items[key] = value
	tx.changed = true
}

// Delete removes key and reports whether it was present.
func (tx *Tx[K, V]) Delete(key K) bool {
	if _, ok := tx.items[key]; !ok {
		return false
	}

	delete(tx.items, key)
	tx.changed = true

	return true
}

// Clear removes every entry.
func (tx *Tx[K, V]) Clear() {
	if len(tx.items) == 0 {
		return
	}

	for k := range tx.items {
		delete(tx.items, k)
	}

	tx.changed = true
}

// ---------------------------------------------------------------------------
// Computed
// ---------------------------------------------------------------------------

// Computed memoizes the result of a pure function of other observable values.
// The function runs on the first Get after construction or after Invalidate,
// never more often. Wire inputs with [Computed.Track].
type Computed[T any] struct {
	mu      sync.Mutex
	fn      func() T
	value   T
	valid   bool
	version uint64
	n       notifier
}

// NewComputed creates a Computed backed by fn.
func NewComputed[T any](fn func() T) *Computed[T] {
	return &Computed[T]{fn: fn}
}

// Get returns the memoized value, recomputing it first if it is stale.
func (c *Computed[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		c.value = c.fn()
		c.valid = true
	}

	return c.value
}

// Invalidate discards the memoized value and notifies subscribers.
func (c *Computed[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.version++
	c.mu.Unlock()

	c.n.notify()
}

// Version increases every time the value is invalidated.
func (c *Computed[T]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.version
}

// Track invalidates c whenever src changes. The returned function stops
// tracking.
func (c *Computed[T]) Track(src Observable) (untrack func()) {
	return src.Subscribe(c.Invalidate)
}

// Subscribe registers fn to be called after every invalidation.
func (c *Computed[T]) Subscribe(fn func()) func() {
	return c.n.Subscribe(fn)
}

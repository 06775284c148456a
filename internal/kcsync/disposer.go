package kcsync

import (
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Disposer releases one resource. Disposers are idempotent.
type Disposer func() error

// Once wraps fn so that only its first call has an effect. Later calls
// return the first call's error.
func Once(fn func() error) Disposer {
	var (
		once sync.Once
		err  error
	)

	return func() error {
		once.Do(func() { err = fn() })

		return err
	}
}

// Disposers is an ordered collection of release callbacks.
type Disposers struct {
	mu    sync.Mutex
	items []Disposer
}

// Push appends d.
func (ds *Disposers) Push(d Disposer) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.items = append(ds.items, Once(d))
}

// Len returns the number of outstanding disposers.
func (ds *Disposers) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	return len(ds.items)
}

// Dispose calls every outstanding disposer exactly once, in reverse order of
// registration, and empties the collection. Errors are aggregated.
func (ds *Disposers) Dispose() error {
	ds.mu.Lock()
	items := ds.items
	ds.items = nil
	ds.mu.Unlock()

	var errs []error

	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return aggregate(errs)
}

// aggregate combines errs into one error, or nil when errs is empty.
func aggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	return utilerrors.NewAggregate(errs)
}

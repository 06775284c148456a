package kcsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/kcsync/internal/catalog"
	"github.com/hupe1980/kcsync/internal/reactive"
	"github.com/hupe1980/kcsync/internal/watch"
)

// ErrNotDirOrFile is returned for watched paths that are neither a regular
// file nor a directory.
var ErrNotDirOrFile = errors.New("path is neither a file nor a directory")

// SourceOptions configures a Source.
type SourceOptions struct {
	// Differ reconciles file content. Nil uses NewDiffer.
	Differ *Differ

	// Debounce coalesces rapid changes to one file.
	Debounce time.Duration

	// MaxFileSize skips larger files. Zero disables the limit.
	MaxFileSize int64

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// Source keeps the entities of one watched path in sync with the files under
// it. A directory is watched shallowly.
type Source struct {
	path   string
	isDir  bool
	opts   SourceOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes filesystem events with read commits.
	mu     sync.Mutex
	reads  map[string]*Read
	closed bool

	childMu  sync.RWMutex
	children map[string]*child

	pending atomic.Int64
	view    *reactive.Computed[[]catalog.Entity]
	sub     *watch.Subscription
}

type child struct {
	entities *ContextMap
	untrack  func()
}

// compile-time interface conformance check.
var _ catalog.View = (*Source)(nil)

// NewSource resolves path (following symlinks) and starts watching it.
func NewSource(path string, opts SourceOptions) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Differ == nil {
		opts.Differ = NewDiffer(opts.Logger)
	}

	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q: %w", path, ErrNotDirOrFile)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Source{
		path:     path,
		isDir:    info.IsDir(),
		opts:     opts,
		logger:   opts.Logger.With(slog.String("source", path)),
		ctx:      ctx,
		cancel:   cancel,
		reads:    make(map[string]*Read),
		children: make(map[string]*child),
	}
	s.view = reactive.NewComputed(s.collect)

	sub, err := watch.Subscribe(path, watch.Options{
		Debounce: opts.Debounce,
		OnEvent:  s.handle,
		OnError:  s.handleError,
		Logger:   s.logger,
	})
	if err != nil {
		cancel()

		if errors.Is(err, watch.ErrUnsupportedPath) {
			return nil, fmt.Errorf("%q: %w", path, ErrNotDirOrFile)
		}

		return nil, err
	}

	s.sub = sub

	return s, nil
}

// Path returns the watched path.
func (s *Source) Path() string { return s.path }

// IsDir reports whether the watched path is a directory.
func (s *Source) IsDir() bool { return s.isDir }

// Entities returns every entity under the path, sorted by name and UID.
func (s *Source) Entities() []catalog.Entity {
	return s.view.Get()
}

// Subscribe registers fn to be called after the entities change.
func (s *Source) Subscribe(fn func()) func() {
	return s.view.Subscribe(fn)
}

// Idle reports whether the initial scan has been delivered and neither a
// debounced change nor a read is outstanding.
func (s *Source) Idle() bool {
	select {
	case <-s.sub.Ready():
	default:
		return false
	}

	// A debounced change stays pending until its read has been started.
	return s.sub.Pending() == 0 && s.pending.Load() == 0
}

// Close stops watching. In-flight reads are not interrupted but none of them
// is applied afterwards. Close is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.cancel()
	s.mu.Unlock()

	// The subscription waits for its event goroutine, which may be waiting
	// on s.mu.
	if err := s.sub.Close(); err != nil {
		return fmt.Errorf("closing watch on %q: %w", s.path, err)
	}

	return nil
}

func (s *Source) handle(ev watch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.logger.Debug("kubeconfig event", slog.String("op", ev.Op.String()), slog.String("path", ev.Path))

	switch ev.Op {
	case watch.OpAdd, watch.OpChange:
		s.startRead(ev.Path)
	case watch.OpUnlink:
		s.cancelRead(ev.Path)
		s.removeChild(ev.Path)
	}
}

func (s *Source) handleError(err error) {
	s.logger.Warn("watch error", slog.String("error", err.Error()))
}

// startRead cancels any outstanding read of path and begins a new one. The
// caller holds s.mu.
func (s *Source) startRead(path string) {
	s.cancelRead(path)

	if s.opts.MaxFileSize > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > s.opts.MaxFileSize {
			s.logger.Warn("skipping oversized kubeconfig",
				slog.String("path", path),
				slog.Int64("size", info.Size()),
				slog.Int64("limit", s.opts.MaxFileSize),
			)

			if c := s.lookupChild(path); c != nil {
				c.entities.Clear()
			}

			return
		}
	}

	entities := s.ensureChild(path).entities

	s.pending.Add(1)

	var r *Read

	r = StartRead(s.ctx, path, ReadOptions{
		Lock: &s.mu,
		Apply: func(content []byte) {
			s.opts.Differ.Apply(path, content, entities)
		},
		OnDone: func() {
			s.mu.Lock()
			if s.reads[path] == r {
				delete(s.reads, path)
			}
			s.mu.Unlock()

			s.pending.Add(-1)
		},
		Logger: s.logger,
	})
	s.reads[path] = r
}

func (s *Source) cancelRead(path string) {
	if r, ok := s.reads[path]; ok {
		r.Cancel()
		delete(s.reads, path)
	}
}

func (s *Source) lookupChild(path string) *child {
	s.childMu.RLock()
	defer s.childMu.RUnlock()

	return s.children[path]
}

func (s *Source) ensureChild(path string) *child {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	if c, ok := s.children[path]; ok {
		return c
	}

	c := &child{entities: reactive.NewMap[string, catalog.Entity]()}
	c.untrack = s.view.Track(c.entities)
	s.children[path] = c

	return c
}

// removeChild drops the entities of path. The view is invalidated before
// removeChild returns.
func (s *Source) removeChild(path string) {
	s.childMu.Lock()
	c, ok := s.children[path]
	delete(s.children, path)
	s.childMu.Unlock()

	if !ok {
		return
	}

	c.untrack()

	if c.entities.Len() > 0 {
		s.view.Invalidate()
	}
}

func (s *Source) collect() []catalog.Entity {
	s.childMu.RLock()
	maps := make([]*ContextMap, 0, len(s.children))

	for _, c := range s.children {
		maps = append(maps, c.entities)
	}
	s.childMu.RUnlock()

	var out []catalog.Entity
	for _, m := range maps {
		out = append(out, m.Values()...)
	}

	catalog.SortEntities(out)

	return out
}

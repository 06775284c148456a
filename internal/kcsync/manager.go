package kcsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/hupe1980/kcsync/internal/catalog"
	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/reactive"
)

// SourceName is the name the manager registers its view under.
const SourceName = "kubeconfig-sync"

// idlePollInterval is how often WaitIdle checks the sources.
const idlePollInterval = 10 * time.Millisecond

// Options configures a Manager.
type Options struct {
	// Registry receives the manager's aggregated view while syncing.
	Registry *catalog.Registry

	// Paths is the observable set of user-configured paths.
	Paths *config.PathSet

	// ManagedDir is always watched in addition to Paths. It is created on
	// Start if missing. Empty disables it.
	ManagedDir string

	// Source configures every Source the manager starts.
	Source SourceOptions

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// Manager starts and stops one Source per watched path and publishes the
// union of their entities to the catalog.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	sources map[string]*managedSource

	disposers Disposers
	view      *reactive.Computed[[]catalog.Entity]
}

type managedSource struct {
	source  *Source
	untrack func()
	pinned  bool
}

// compile-time interface conformance check.
var _ catalog.View = (*Manager)(nil)

// NewManager creates a stopped Manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Registry == nil {
		opts.Registry = catalog.NewRegistry()
	}

	if opts.Paths == nil {
		opts.Paths = config.NewPathSet()
	}

	if opts.Source.Logger == nil {
		opts.Source.Logger = opts.Logger
	}

	if opts.Source.Differ == nil {
		opts.Source.Differ = NewDiffer(opts.Source.Logger)
	}

	m := &Manager{
		opts:    opts,
		logger:  opts.Logger,
		sources: make(map[string]*managedSource),
	}
	m.view = reactive.NewComputed(m.collect)

	return m
}

// Start registers the aggregated view with the catalog, watches the managed
// directory and every configured path, and follows later path changes.
// Calling Start on a running manager does nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}

	m.running = true
	m.mu.Unlock()

	m.logger.Info("starting kubeconfig sync")

	remove := m.opts.Registry.Add(SourceName, m)
	m.disposers.Push(func() error {
		remove()
		return nil
	})

	m.disposers.Push(m.stopAll)

	if dir := m.opts.ManagedDir; dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			m.logger.Warn("creating managed directory failed",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		}

		m.startWatch(dir, true)
		m.disposers.Push(func() error { return m.stopWatch(dir, true) })
	}

	cancel := m.opts.Paths.Observe(func(ev config.PathEvent) {
		switch ev.Kind {
		case config.PathAdded:
			m.startWatch(ev.Path, false)
		case config.PathRemoved:
			if err := m.stopWatch(ev.Path, false); err != nil {
				m.logger.Warn("stopping watch failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		}
	})
	m.disposers.Push(func() error {
		cancel()
		return nil
	})
}

// Stop unsubscribes from path changes, stops every Source and removes the
// view from the catalog. Calling Stop on a stopped manager does nothing.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}

	m.running = false
	m.mu.Unlock()

	m.logger.Info("stopping kubeconfig sync")

	return m.disposers.Dispose()
}

// IsSyncing reports whether any resource acquired by Start is still held.
func (m *Manager) IsSyncing() bool {
	return m.disposers.Len() > 0
}

// Sources returns the watched paths in sorted order.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.sources))
	for p := range m.sources {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Entities returns the union of every Source's entities.
func (m *Manager) Entities() []catalog.Entity {
	return m.view.Get()
}

// Subscribe registers fn to be called after the aggregated entities change.
func (m *Manager) Subscribe(fn func()) func() {
	return m.view.Subscribe(fn)
}

// WaitIdle blocks until every Source has delivered its initial scan and no
// read is in flight, or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	err := wait.PollUntilContextCancel(ctx, idlePollInterval, true, func(context.Context) (bool, error) {
		return m.idle(), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for sync to settle: %w", err)
	}

	return nil
}

func (m *Manager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ms := range m.sources {
		if !ms.source.Idle() {
			return false
		}
	}

	return true
}

func (m *Manager) startWatch(path string, pinned bool) {
	path = filepath.Clean(path)

	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return
	}

	if ms, ok := m.sources[path]; ok {
		ms.pinned = ms.pinned || pinned
		m.mu.Unlock()

		m.logger.Debug("path is already being watched", slog.String("path", path))

		return
	}

	src, err := NewSource(path, m.opts.Source)
	if err != nil {
		m.mu.Unlock()

		m.logger.Warn("failed to start watching path",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	m.sources[path] = &managedSource{
		source:  src,
		untrack: m.view.Track(src),
		pinned:  pinned,
	}
	m.mu.Unlock()

	m.logger.Info("watching path", slog.String("path", path), slog.Bool("dir", src.IsDir()))
	m.view.Invalidate()
}

// stopWatch stops the Source of path. A pinned Source is only stopped by an
// unpin request.
func (m *Manager) stopWatch(path string, unpin bool) error {
	path = filepath.Clean(path)

	m.mu.Lock()

	ms, ok := m.sources[path]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	if ms.pinned && !unpin {
		m.mu.Unlock()

		m.logger.Debug("keeping managed directory watched", slog.String("path", path))

		return nil
	}

	delete(m.sources, path)
	m.mu.Unlock()

	return m.release(path, ms)
}

func (m *Manager) stopAll() error {
	m.mu.Lock()
	sources := m.sources
	m.sources = make(map[string]*managedSource)
	m.mu.Unlock()

	var errs []error

	for path, ms := range sources {
		if err := m.release(path, ms); err != nil {
			errs = append(errs, err)
		}
	}

	return aggregate(errs)
}

// release closes a Source that has already been removed from m.sources.
// It must not be called with m.mu held.
func (m *Manager) release(path string, ms *managedSource) error {
	ms.untrack()
	err := ms.source.Close()

	m.logger.Info("stopped watching path", slog.String("path", path))
	m.view.Invalidate()

	return err
}

func (m *Manager) collect() []catalog.Entity {
	m.mu.Lock()
	sources := make([]*Source, 0, len(m.sources))

	for _, ms := range m.sources {
		sources = append(sources, ms.source)
	}
	m.mu.Unlock()

	var out []catalog.Entity
	for _, s := range sources {
		out = append(out, s.Entities()...)
	}

	catalog.SortEntities(out)

	return out
}

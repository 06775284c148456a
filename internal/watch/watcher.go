package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the normalized kind of a filesystem event.
type Op int

const (
	// OpAdd reports a file that appeared (or was present at startup).
	OpAdd Op = iota
	// OpChange reports a write to a known file.
	OpChange
	// OpUnlink reports a known file that disappeared.
	OpUnlink
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpChange:
		return "change"
	case OpUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// Event is a normalized filesystem event for one child file.
type Event struct {
	Op   Op
	Path string
}

// Options configures a Subscription.
type Options struct {
	// Debounce coalesces rapid change events per file. Zero disables it.
	Debounce time.Duration

	// OnEvent receives every event. Events are delivered one at a time from
	// a single goroutine, in order.
	OnEvent func(Event)

	// OnError receives errors reported by the underlying watcher.
	OnError func(error)

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// ErrUnsupportedPath is returned for paths that are neither a regular file
// nor a directory.
var ErrUnsupportedPath = errors.New("path is neither a file nor a directory")

// Subscription watches one path. A directory is watched shallowly: only its
// immediate regular-file children produce events. A file is watched through
// its parent directory so that replacing the file, or retargeting it when it
// is a symlink, is still observed.
type Subscription struct {
	path  string
	isDir bool
	opts  Options

	// target is the name under which events for a symlinked file's
	// destination arrive, and targetDir the extra directory watched for it.
	// Both are empty unless path is a symlink. Only the event goroutine
	// touches them after Subscribe returns.
	target    string
	targetDir string

	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	fired     chan fired
	known     map[string]bool

	ready     chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Subscribe resolves path (following symlinks), starts watching it and emits
// an OpAdd for every file already present. The initial events are delivered
// asynchronously; Ready is closed once they have been.
func Subscribe(path string, opts Options) (*Subscription, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}

	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q: %w", path, ErrUnsupportedPath)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	target := path
	if !info.IsDir() {
		target = filepath.Dir(path)
	}

	if err := watcher.Add(target); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %q: %w", target, err)
	}

	s := &Subscription{
		path:    path,
		isDir:   info.IsDir(),
		opts:    opts,
		watcher: watcher,
		fired:   make(chan fired),
		known:   make(map[string]bool),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	if !s.isDir {
		s.retarget()
	}

	if opts.Debounce > 0 {
		// The key stays pending until the change has been handled.
		s.debouncer = NewDebouncer(opts.Debounce, func(p string) {
			ack := make(chan struct{})

			select {
			case s.fired <- fired{path: p, ack: ack}:
			case <-s.done:
				return
			}

			select {
			case <-ack:
			case <-s.done:
			}
		})
	}

	go s.run()

	return s, nil
}

// Path returns the watched path.
func (s *Subscription) Path() string { return s.path }

// IsDir reports whether the watched path resolved to a directory.
func (s *Subscription) IsDir() bool { return s.isDir }

// Ready is closed after the initial OpAdd events have been delivered.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Pending reports how many debounced changes have not been delivered yet.
func (s *Subscription) Pending() int {
	if s.debouncer == nil {
		return 0
	}

	return s.debouncer.Pending()
}

// Close stops watching and waits for the event goroutine to exit, so no event
// is delivered after Close returns. It must not be called from OnEvent.
// Close is idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.debouncer != nil {
			s.debouncer.Stop()
		}

		s.closeErr = s.watcher.Close()
		<-s.exited
	})

	return s.closeErr
}

func (s *Subscription) run() {
	defer close(s.exited)

	s.scan()
	close(s.ready)

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			s.handle(event)

		case f := <-s.fired:
			if s.known[f.path] {
				s.emit(Event{Op: OpChange, Path: f.path})
			}

			close(f.ack)

		case watchErr, ok := <-s.watcher.Errors:
			if !ok {
				return
			}

			s.opts.Logger.Warn("watcher error",
				slog.String("path", s.path),
				slog.String("error", watchErr.Error()),
			)

			if s.opts.OnError != nil {
				s.opts.OnError(watchErr)
			}
		}
	}
}

// scan emits OpAdd for the files present when the subscription starts.
func (s *Subscription) scan() {
	if !s.isDir {
		if isRegularFile(s.path) {
			s.known[s.path] = true
			s.emit(Event{Op: OpAdd, Path: s.path})
		}

		return
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		s.opts.Logger.Warn("listing watched directory failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	for _, entry := range entries {
		child := filepath.Join(s.path, entry.Name())
		if !isRelevantName(entry.Name()) || !isRegularFile(child) {
			continue
		}

		s.known[child] = true
		s.emit(Event{Op: OpAdd, Path: child})
	}
}

// handle translates one fsnotify event into at most one normalized event.
func (s *Subscription) handle(event fsnotify.Event) {
	if !s.inScope(event.Name) {
		return
	}

	// An explicitly watched file is never filtered by name.
	if (s.isDir && !isRelevant(event)) || (!s.isDir && !hasRelevantOp(event)) {
		return
	}

	name := event.Name

	if !s.isDir {
		// The link itself was replaced or removed: follow its new target.
		if name == s.path && !event.Has(fsnotify.Write) {
			s.retarget()
		}

		name = s.path

		// A destination replaced behind a symlink still resolves.
		if (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isRegularFile(name) {
			event.Op = fsnotify.Write
		}
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if !s.known[name] {
			return
		}

		delete(s.known, name)

		if s.debouncer != nil {
			s.debouncer.Cancel(name)
		}

		s.emit(Event{Op: OpUnlink, Path: name})

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if !isRegularFile(name) {
			return
		}

		if !s.known[name] {
			s.known[name] = true
			s.emit(Event{Op: OpAdd, Path: name})

			return
		}

		if s.debouncer != nil {
			s.debouncer.Trigger(name)
			return
		}

		s.emit(Event{Op: OpChange, Path: name})
	}
}

// inScope reports whether an event path belongs to this subscription.
func (s *Subscription) inScope(name string) bool {
	if s.isDir {
		return filepath.Dir(name) == s.path
	}

	return name == s.path || (s.target != "" && name == s.target)
}

// retarget resolves a symlinked file and watches the directory holding its
// destination, so writes through the link are observed. A regular file has
// no target; a dangling link keeps the previous one.
func (s *Subscription) retarget() {
	info, err := os.Lstat(s.path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		s.setTarget("", "")
		return
	}

	resolved, err := filepath.EvalSymlinks(s.path)
	if err != nil {
		return
	}

	dir := filepath.Dir(resolved)

	// Events for a destination next to the link arrive through the parent
	// watch, under the parent's spelling of the path.
	parent := filepath.Dir(s.path)
	if realParent, err := filepath.EvalSymlinks(parent); err == nil && realParent == dir {
		s.setTarget(filepath.Join(parent, filepath.Base(resolved)), "")
		return
	}

	s.setTarget(resolved, dir)
}

func (s *Subscription) setTarget(target, dir string) {
	s.target = target

	if dir == s.targetDir {
		return
	}

	if dir != "" {
		if err := s.watcher.Add(dir); err != nil {
			s.opts.Logger.Warn("watching symlink target failed",
				slog.String("path", s.path),
				slog.String("target", dir),
				slog.String("error", err.Error()),
			)

			dir = ""
			s.target = ""
		}
	}

	if s.targetDir != "" {
		_ = s.watcher.Remove(s.targetDir)
	}

	s.targetDir = dir
}

// fired is a debounced change handed to the event goroutine. ack is closed
// once it has been handled.
type fired struct {
	path string
	ack  chan struct{}
}

func (s *Subscription) emit(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.opts.OnEvent(ev)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// isRelevant filters out chmod-only events and editor temporary files.
func isRelevant(event fsnotify.Event) bool {
	return hasRelevantOp(event) && isRelevantName(filepath.Base(event.Name))
}

// hasRelevantOp reports whether event is a write, create, remove or rename.
func hasRelevantOp(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// isRelevantName rejects hidden files and editor swap/backup files.
func isRelevantName(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, "~") &&
		!strings.HasSuffix(name, ".swp") && !strings.HasPrefix(name, "#")
}

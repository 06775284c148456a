package watch

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Debouncer
// ---------------------------------------------------------------------------

func TestDebouncer_SingleEvent(t *testing.T) {
	var callCount atomic.Int32
	var lastKey atomic.Value

	d := NewDebouncer(50*time.Millisecond, func(key string) {
		callCount.Add(1)
		lastKey.Store(key)
	})
	defer d.Stop()

	d.Trigger("a.yaml")

	// Wait for debounce to fire.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
	assert.Equal(t, "a.yaml", lastKey.Load())
}

func TestDebouncer_MultipleEventsCoalesced(t *testing.T) {
	var callCount atomic.Int32

	d := NewDebouncer(100*time.Millisecond, func(_ string) {
		callCount.Add(1)
	})
	defer d.Stop()

	// Fire 10 rapid events for the same key; they coalesce into one.
	for i := 0; i < 10; i++ {
		d.Trigger("config")
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}

	d := NewDebouncer(50*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger("a")
	d.Trigger("b")
	d.Trigger("a")

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, fired)
}

func TestDebouncer_Cancel(t *testing.T) {
	var callCount atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func(_ string) {
		callCount.Add(1)
	})
	defer d.Stop()

	d.Trigger("a")
	assert.Equal(t, 1, d.Pending())

	d.Cancel("a")
	assert.Equal(t, 0, d.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), callCount.Load())
}

func TestDebouncer_Stop(t *testing.T) {
	var callCount atomic.Int32

	d := NewDebouncer(50*time.Millisecond, func(_ string) {
		callCount.Add(1)
	})

	d.Trigger("a")
	d.Stop()
	d.Trigger("b")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), callCount.Load())
}

func TestDebouncer_PendingUntilCallbackReturns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	d := NewDebouncer(10*time.Millisecond, func(_ string) {
		close(entered)
		<-release
	})
	defer d.Stop()

	d.Trigger("a")

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}

	assert.Equal(t, 1, d.Pending())

	close(release)
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// isRelevant
// ---------------------------------------------------------------------------

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{"config write", "config", fsnotify.Write, true},
		{"yaml write", "prod.yaml", fsnotify.Write, true},
		{"create event", "new.yaml", fsnotify.Create, true},
		{"remove event", "old.yaml", fsnotify.Remove, true},
		{"rename event", "renamed.yaml", fsnotify.Rename, true},
		{"hidden file", ".hidden", fsnotify.Write, false},
		{"swap file", "file.swp", fsnotify.Write, false},
		{"backup tilde", "file~", fsnotify.Write, false},
		{"emacs hash", "#file#", fsnotify.Write, false},
		{"zero op", "file.yaml", 0, false},
		{"chmod only", "file.yaml", fsnotify.Chmod, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := fsnotify.Event{Name: tt.path, Op: tt.op}
			assert.Equal(t, tt.want, isRelevant(event))
		})
	}
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "add", OpAdd.String())
	assert.Equal(t, "change", OpChange.String())
	assert.Equal(t, "unlink", OpUnlink.String())
	assert.Equal(t, "unknown", Op(9).String())
}

// ---------------------------------------------------------------------------
// Subscribe (integration)
// ---------------------------------------------------------------------------

// recorder collects events delivered by a Subscription.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) has(op Op, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.Op == op && ev.Path == path {
			return true
		}
	}

	return false
}

func (r *recorder) count(op Op, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, ev := range r.events {
		if ev.Op == op && ev.Path == path {
			n++
		}
	}

	return n
}

func subscribe(t *testing.T, path string, debounce time.Duration) (*Subscription, *recorder) {
	t.Helper()

	rec := &recorder{}

	sub, err := Subscribe(path, Options{Debounce: debounce, OnEvent: rec.record})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sub.Close() })

	select {
	case <-sub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not become ready")
	}

	return sub, rec
}

const eventually = 3 * time.Second

func TestSubscribe_DirectoryInitialScanIsShallow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.yaml"), []byte("b"), 0o600))

	sub, rec := subscribe(t, dir, 0)
	assert.True(t, sub.IsDir())

	assert.True(t, rec.has(OpAdd, filepath.Join(dir, "a.yaml")))
	assert.False(t, rec.has(OpAdd, filepath.Join(dir, ".hidden")))
	assert.False(t, rec.has(OpAdd, filepath.Join(dir, "nested", "b.yaml")))
	assert.False(t, rec.has(OpAdd, filepath.Join(dir, "nested")))
}

func TestSubscribe_DirectoryLifecycle(t *testing.T) {
	dir := t.TempDir()
	_, rec := subscribe(t, dir, 0)

	file := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o600))
	require.Eventually(t, func() bool { return rec.has(OpAdd, file) }, eventually, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o600))
	require.Eventually(t, func() bool { return rec.has(OpChange, file) }, eventually, 10*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return rec.has(OpUnlink, file) }, eventually, 10*time.Millisecond)
}

func TestSubscribe_FileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config")
	sibling := filepath.Join(dir, "other")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o600))

	sub, rec := subscribe(t, file, 0)
	assert.False(t, sub.IsDir())
	assert.True(t, rec.has(OpAdd, file))

	require.NoError(t, os.WriteFile(sibling, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o600))
	require.Eventually(t, func() bool { return rec.has(OpChange, file) }, eventually, 10*time.Millisecond)

	assert.False(t, rec.has(OpAdd, sibling))
}

func TestSubscribe_SymlinkRetarget(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	link := filepath.Join(dir, "config")

	require.NoError(t, os.WriteFile(first, []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("two"), 0o600))
	require.NoError(t, os.Symlink(first, link))

	_, rec := subscribe(t, link, 0)
	require.True(t, rec.has(OpAdd, link))

	// Atomically retarget the symlink.
	tmp := filepath.Join(dir, "config.tmp")
	require.NoError(t, os.Symlink(second, tmp))
	require.NoError(t, os.Rename(tmp, link))

	require.Eventually(t, func() bool { return rec.has(OpChange, link) }, eventually, 10*time.Millisecond)
}

func TestSubscribe_SymlinkTargetInOtherDirectory(t *testing.T) {
	realDir := t.TempDir()
	linkDir := t.TempDir()
	target := filepath.Join(realDir, "config")
	link := filepath.Join(linkDir, "config")

	require.NoError(t, os.WriteFile(target, []byte("one"), 0o600))
	require.NoError(t, os.Symlink(target, link))

	_, rec := subscribe(t, link, 0)
	require.True(t, rec.has(OpAdd, link))

	require.NoError(t, os.WriteFile(target, []byte("two"), 0o600))
	require.Eventually(t, func() bool { return rec.has(OpChange, link) }, eventually, 10*time.Millisecond)

	// Siblings of the target are not reported.
	require.NoError(t, os.WriteFile(filepath.Join(realDir, "other"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.has(OpAdd, filepath.Join(realDir, "other")))

	require.NoError(t, os.Remove(target))
	require.Eventually(t, func() bool { return rec.has(OpUnlink, link) }, eventually, 10*time.Millisecond)
}

func TestSubscribe_SymlinkRetargetToOtherDirectory(t *testing.T) {
	firstDir := t.TempDir()
	secondDir := t.TempDir()
	linkDir := t.TempDir()
	first := filepath.Join(firstDir, "config")
	second := filepath.Join(secondDir, "config")
	link := filepath.Join(linkDir, "config")

	require.NoError(t, os.WriteFile(first, []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("two"), 0o600))
	require.NoError(t, os.Symlink(first, link))

	_, rec := subscribe(t, link, 0)

	tmp := filepath.Join(linkDir, ".config.tmp")
	require.NoError(t, os.Symlink(second, tmp))
	require.NoError(t, os.Rename(tmp, link))
	require.Eventually(t, func() bool { return rec.has(OpChange, link) }, eventually, 10*time.Millisecond)

	// Writes to the new destination are followed.
	time.Sleep(50 * time.Millisecond)
	before := rec.count(OpChange, link)

	require.NoError(t, os.WriteFile(second, []byte("three"), 0o600))
	require.Eventually(t, func() bool { return rec.count(OpChange, link) > before }, eventually, 10*time.Millisecond)

	// The old destination is no longer watched.
	time.Sleep(50 * time.Millisecond)
	before = rec.count(OpChange, link)

	require.NoError(t, os.WriteFile(first, []byte("stale"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, rec.count(OpChange, link))
}

func TestSubscribe_PendingCoversDebouncedChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(file, []byte("v0"), 0o600))

	sub, rec := subscribe(t, file, 300*time.Millisecond)
	assert.Equal(t, 0, sub.Pending())

	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o600))
	require.Eventually(t, func() bool { return sub.Pending() == 1 }, eventually, 5*time.Millisecond)
	assert.False(t, rec.has(OpChange, file))

	require.Eventually(t, func() bool { return sub.Pending() == 0 }, eventually, 10*time.Millisecond)
	assert.True(t, rec.has(OpChange, file))
}

func TestSubscribe_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(file, []byte("v0"), 0o600))

	_, rec := subscribe(t, file, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte{byte('a' + i)}, 0o600))
	}

	require.Eventually(t, func() bool { return rec.has(OpChange, file) }, eventually, 10*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, rec.count(OpChange, file))
}

func TestSubscribe_MissingPath(t *testing.T) {
	_, err := Subscribe("/nonexistent/kcsync/path/12345", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving")
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sub, rec := subscribe(t, dir, 0)

	require.NoError(t, sub.Close())
	_ = sub.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.yaml"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)

	assert.False(t, rec.has(OpAdd, filepath.Join(dir, "late.yaml")), "no events after Close")
}

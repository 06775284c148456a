package kcsync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// readChunkSize is the size of each read from the underlying file.
const readChunkSize = 32 * 1024

// ReadOptions configures a streaming read.
type ReadOptions struct {
	// Lock is held while the cancellation checks and Apply run. The owner of
	// the read must hold the same lock when cancelling it, which makes
	// "cancelled" final: no content is applied after Cancel returns.
	Lock sync.Locker

	// Apply receives the full content, at most once.
	Apply func(content []byte)

	// OnDone is called when the read goroutine exits, whatever the outcome.
	OnDone func()

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// Read is one in-flight asynchronous read of a file.
type Read struct {
	path string
	opts ReadOptions

	cancelled  atomic.Bool
	cancelOnce sync.Once

	mu   sync.Mutex
	file *os.File

	done chan struct{}
}

// StartRead begins reading path in the background and returns immediately.
// The content is handed to opts.Apply unless the read is cancelled, ctx is
// done, or the read fails.
func StartRead(ctx context.Context, path string, opts ReadOptions) *Read {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}

	r := &Read{
		path: path,
		opts: opts,
		done: make(chan struct{}),
	}

	go r.run(ctx)

	return r
}

// Path returns the file being read.
func (r *Read) Path() string { return r.path }

// Done is closed when the read goroutine has exited.
func (r *Read) Done() <-chan struct{} { return r.done }

// Cancelled reports whether Cancel has been called.
func (r *Read) Cancelled() bool { return r.cancelled.Load() }

// Cancel marks the read cancelled and closes the underlying file so a
// blocked read returns promptly. It is idempotent.
func (r *Read) Cancel() {
	r.cancelOnce.Do(func() {
		r.cancelled.Store(true)

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.file != nil {
			_ = r.file.Close()
			r.file = nil
		}
	})
}

func (r *Read) run(ctx context.Context) {
	defer close(r.done)

	if r.opts.OnDone != nil {
		defer r.opts.OnDone()
	}

	content, err := r.readAll()
	if err != nil {
		if !r.Cancelled() {
			r.opts.Logger.Warn("reading kubeconfig failed",
				slog.String("path", r.path),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	r.opts.Lock.Lock()
	defer r.opts.Lock.Unlock()

	if r.Cancelled() || ctx.Err() != nil {
		r.opts.Logger.Debug("discarding superseded read", slog.String("path", r.path))
		return
	}

	if r.opts.Apply != nil {
		r.opts.Apply(content)
	}
}

// errReadCancelled is returned by readAll when Cancel won the race against
// opening the file.
var errReadCancelled = errors.New("read cancelled")

func (r *Read) readAll() ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.cancelled.Load() {
		r.mu.Unlock()
		_ = f.Close()

		return nil, errReadCancelled
	}
	r.file = f
	r.mu.Unlock()

	defer r.closeFile()

	var (
		buf   bytes.Buffer
		chunk = make([]byte, readChunkSize)
	)

	for {
		n, err := f.Read(chunk)
		buf.Write(chunk[:n])

		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}

		if err != nil {
			return nil, err
		}
	}
}

func (r *Read) closeFile() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

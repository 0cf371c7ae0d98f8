// Package engine adapts a bleve index to the single-writer, snapshot-reader
// model the mutation coordinator and query service rely on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/gofrs/flock"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// fingerprintKey is the internal key holding the schema fingerprint.
var fingerprintKey = []byte("_tsearch_schema_fingerprint")

// Engine owns one index. At most one Writer is live at a time; readers never
// wait for it.
type Engine struct {
	path     string
	index    bleve.Index
	registry *schema.Registry
	lock     *flock.Flock
	logger   *zap.Logger
	wrap     func(bleve.Index) bleve.Index

	writerSlot chan struct{}
	done       chan struct{}
	generation atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIndexWrapper decorates the opened bleve index, for instance to count or
// fail batches in tests.
func WithIndexWrapper(wrap func(bleve.Index) bleve.Index) Option {
	return func(e *Engine) {
		e.wrap = wrap
	}
}

func (e *Engine) setIndex(idx bleve.Index) {
	if e.wrap != nil {
		idx = e.wrap(idx)
	}
	e.index = idx
}

func newEngine(path string, reg *schema.Registry, opts []Option) *Engine {
	e := &Engine{
		path:       path,
		registry:   reg,
		writerSlot: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Open opens the index at path, creating it when missing. It takes an
// exclusive lock on <path>.lock for the lifetime of the Engine, so a second
// process opening the same index fails with ErrIndexLocked.
func Open(path string, reg *schema.Registry, opts ...Option) (*Engine, error) {
	e := newEngine(path, reg, opts)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create parent of %s: %w", ErrStorageUnavailable, path, err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", ErrStorageUnavailable, path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %w: %s", ErrStorageUnavailable, ErrIndexLocked, path)
	}
	e.lock = lock

	idx, created, err := openOrCreate(path, reg)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	e.setIndex(idx)

	if err := e.checkFingerprint(created); err != nil {
		_ = e.index.Close()
		_ = lock.Unlock()
		return nil, err
	}

	count, _ := idx.DocCount()
	e.logger.Info("index opened",
		zap.String("path", path),
		zap.Bool("created", created),
		zap.Uint64("documents", count))
	return e, nil
}

// OpenInMemory creates a non-persistent index.
func OpenInMemory(reg *schema.Registry, opts ...Option) (*Engine, error) {
	e := newEngine("", reg, opts)
	im, err := reg.IndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	e.setIndex(idx)
	if err := e.checkFingerprint(true); err != nil {
		_ = e.index.Close()
		return nil, err
	}
	return e, nil
}

func openOrCreate(path string, reg *schema.Registry) (bleve.Index, bool, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, false, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, false, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, path, err)
	}

	im, err := reg.IndexMapping()
	if err != nil {
		return nil, false, fmt.Errorf("build mapping: %w", err)
	}
	idx, err = bleve.New(path, im)
	if err != nil {
		return nil, false, fmt.Errorf("%w: create %s: %w", ErrStorageUnavailable, path, err)
	}
	return idx, true, nil
}

func (e *Engine) checkFingerprint(created bool) error {
	want := e.registry.Fingerprint()
	if created {
		if err := e.index.SetInternal(fingerprintKey, []byte(want)); err != nil {
			return fmt.Errorf("%w: store schema fingerprint: %w", ErrStorageUnavailable, err)
		}
		return nil
	}
	got, err := e.index.GetInternal(fingerprintKey)
	if err != nil {
		return fmt.Errorf("%w: read schema fingerprint: %w", ErrStorageUnavailable, err)
	}
	if string(got) != want {
		return fmt.Errorf("%w: index has %q, expected %q", ErrSchemaMismatch, got, want)
	}
	return nil
}

// Registry returns the schema the index was opened with.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Generation is incremented by every successful non-empty commit.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Reader returns a reader positioned at the latest committed snapshot.
func (e *Engine) Reader() *Reader {
	return &Reader{e: e, generation: e.generation.Load()}
}

// AcquireWriter blocks until the writer slot is free or ctx is done.
// The caller must Release the writer on every path.
func (e *Engine) AcquireWriter(ctx context.Context) (*Writer, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case e.writerSlot <- struct{}{}:
	case <-e.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.closed.Load() {
		<-e.writerSlot
		return nil, ErrClosed
	}
	return &Writer{e: e, batch: e.index.NewBatch()}, nil
}

// Update runs fn with an exclusive writer and commits if fn returns nil.
// The writer is released whether or not fn or the commit fails.
func (e *Engine) Update(ctx context.Context, fn func(*Writer) error) (CommitResult, error) {
	w, err := e.AcquireWriter(ctx)
	if err != nil {
		return CommitResult{}, err
	}
	defer w.Release()

	if err := fn(w); err != nil {
		return CommitResult{}, err
	}
	return w.Commit()
}

// forceMerger is implemented by the scorch index.
type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// GarbageCollect asks the index to merge segments and drop deleted documents.
// Correctness never depends on it; index types that cannot force a merge
// leave reclamation to their background merger.
func (e *Engine) GarbageCollect(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	adv, err := e.index.Advanced()
	if err != nil {
		return fmt.Errorf("garbage collect: %w", err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		e.logger.Debug("index does not support forced merge")
		return nil
	}
	if err := fm.ForceMerge(ctx, nil); err != nil {
		return fmt.Errorf("garbage collect: %w", err)
	}
	e.logger.Debug("forced merge finished")
	return nil
}

// Stats describes the index.
type Stats struct {
	Path       string `json:"path,omitempty"`
	Documents  uint64 `json:"documents"`
	Generation uint64 `json:"generation"`
	DiskBytes  int64  `json:"disk_bytes"`
}

// Stats reports the document count, generation and on-disk size.
func (e *Engine) Stats() (Stats, error) {
	if e.closed.Load() {
		return Stats{}, ErrClosed
	}
	count, err := e.index.DocCount()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}
	size, err := diskUsage(e.path)
	if err != nil {
		return Stats{}, fmt.Errorf("disk usage: %w", err)
	}
	return Stats{Path: e.path, Documents: count, Generation: e.generation.Load(), DiskBytes: size}, nil
}

// Close waits for a live writer to finish, closes the index and releases the lock.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		e.writerSlot <- struct{}{}
		e.closeErr = e.index.Close()
		if e.lock != nil {
			if err := e.lock.Unlock(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		e.logger.Info("index closed", zap.String("path", e.path))
	})
	return e.closeErr
}

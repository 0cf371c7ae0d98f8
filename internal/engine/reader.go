package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

// Reader searches committed snapshots. The index publishes each commit
// atomically before Commit returns, and readers follow commits without
// explicit reloads; Generation records which commit the reader last observed.
type Reader struct {
	e          *Engine
	generation uint64
}

// Generation returns the commit generation observed at creation or the last Reload.
func (r *Reader) Generation() uint64 {
	return r.generation
}

// Reload marks the reader as having observed the latest commit and returns its generation.
func (r *Reader) Reload() uint64 {
	r.generation = r.e.generation.Load()
	return r.generation
}

// Search executes req against the latest committed snapshot.
func (r *Reader) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	if r.e.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, ErrClosed)
	}
	res, err := r.e.index.SearchInContext(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}
	return res, nil
}

// DocCount returns the number of documents in the latest snapshot.
func (r *Reader) DocCount() (uint64, error) {
	if r.e.closed.Load() {
		return 0, fmt.Errorf("%w: %w", ErrSearchUnavailable, ErrClosed)
	}
	n, err := r.e.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}
	return n, nil
}

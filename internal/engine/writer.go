package engine

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/schema"
	"go.uber.org/zap"
)

// CommitResult describes one commit.
type CommitResult struct {
	Generation uint64
	Ops        int
}

// Writer buffers additions and deletions until Commit. Buffered operations are
// invisible to readers. Within one buffer the last operation on a key wins.
type Writer struct {
	e        *Engine
	batch    *bleve.Batch
	ops      int
	mu       sync.Mutex
	released bool
}

// Add buffers post for indexing.
func (w *Writer) Add(post *models.Post) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return ErrWriterReleased
	}
	if err := w.batch.Index(schema.DocID(post.ThreadID), schema.Document(post)); err != nil {
		return fmt.Errorf("buffer thread %d: %w", post.ThreadID, err)
	}
	w.ops++
	return nil
}

// DeleteTerm buffers removal of every document whose key is threadID.
// Deleting an absent key is not an error.
func (w *Writer) DeleteTerm(threadID int64) error {
	return w.DeleteID(schema.DocID(threadID))
}

// DeleteID buffers removal of the document with the given id.
func (w *Writer) DeleteID(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return ErrWriterReleased
	}
	w.batch.Delete(id)
	w.ops++
	return nil
}

// Pending returns the number of buffered operations.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ops
}

// Commit makes the buffered operations durable and visible. It blocks until
// the new snapshot is published. On failure nothing buffered is applied and
// the buffer is discarded.
func (w *Writer) Commit() (CommitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return CommitResult{}, ErrWriterReleased
	}
	ops := w.ops
	if ops == 0 {
		return CommitResult{Generation: w.e.generation.Load()}, nil
	}
	err := w.e.index.Batch(w.batch)
	w.batch.Reset()
	w.ops = 0
	if err != nil {
		w.e.logger.Error("commit failed", zap.Int("ops", ops), zap.Error(err))
		return CommitResult{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	gen := w.e.generation.Add(1)
	w.e.logger.Debug("committed", zap.Int("ops", ops), zap.Uint64("generation", gen))
	return CommitResult{Generation: gen, Ops: ops}, nil
}

// Release discards uncommitted operations and frees the writer slot.
// It is safe to call more than once.
func (w *Writer) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return
	}
	w.released = true
	w.batch.Reset()
	w.ops = 0
	<-w.e.writerSlot
}

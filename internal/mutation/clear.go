package mutation

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/hyperjump/tsearch/internal/engine"
	"go.uber.org/zap"
)

// ClearState is the state of the chunked clear loop.
type ClearState int

const (
	ClearScanning ClearState = iota
	ClearDeleting
	ClearDone
)

func (s ClearState) String() string {
	switch s {
	case ClearScanning:
		return "scanning"
	case ClearDeleting:
		return "deleting"
	case ClearDone:
		return "done"
	}
	return fmt.Sprintf("ClearState(%d)", int(s))
}

// ClearProgress reports how far a clear got.
type ClearProgress struct {
	State   ClearState `json:"-"`
	Chunks  int        `json:"chunks"`
	Deleted uint64     `json:"deleted"`
}

// clearLoop deletes every document in chunks. The writer is held for one
// chunk at a time, so other writers interleave between chunks. Documents
// inserted while the loop runs may or may not survive it.
type clearLoop struct {
	engine    *engine.Engine
	reader    *engine.Reader
	chunkSize int
	logger    *zap.Logger

	progress ClearProgress
	keys     []string
}

// step advances the loop by one transition.
func (l *clearLoop) step(ctx context.Context) error {
	switch l.progress.State {
	case ClearScanning:
		keys, err := scanKeys(ctx, l.reader, l.chunkSize)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			l.progress.State = ClearDone
			return nil
		}
		l.keys = keys
		l.progress.State = ClearDeleting

	case ClearDeleting:
		res, err := l.engine.Update(ctx, func(w *engine.Writer) error {
			for _, id := range l.keys {
				if err := w.DeleteID(id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		l.reader.Reload()
		l.progress.Chunks++
		l.progress.Deleted += uint64(len(l.keys))
		l.logger.Debug("cleared chunk",
			zap.Int("chunk", l.progress.Chunks),
			zap.Int("documents", len(l.keys)),
			zap.Uint64("generation", res.Generation))
		l.keys = nil
		l.progress.State = ClearScanning
	}
	return nil
}

// run steps until Done, checking ctx before each scan.
func (l *clearLoop) run(ctx context.Context) error {
	for l.progress.State != ClearDone {
		if l.progress.State == ClearScanning {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := l.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func scanKeys(ctx context.Context, r *engine.Reader, limit int) ([]string, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, 0, false)
	res, err := r.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	keys := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		keys[i] = hit.ID
	}
	return keys, nil
}

// ClearAll deletes every document, one bounded chunk per commit, and runs
// garbage collection once at the end. A failed or cancelled clear leaves the
// index partially cleared; calling ClearAll again resumes it.
func (c *Coordinator) ClearAll(ctx context.Context) (ClearProgress, error) {
	l := &clearLoop{engine: c.engine, reader: c.engine.Reader(), chunkSize: c.chunkSize, logger: c.logger}
	if err := l.run(ctx); err != nil {
		return l.progress, fmt.Errorf("clear all: %w", err)
	}
	if err := c.engine.GarbageCollect(ctx); err != nil {
		c.logger.Warn("garbage collection after clear failed", zap.Error(err))
	}
	c.logger.Info("index cleared",
		zap.Int("chunks", l.progress.Chunks),
		zap.Uint64("deleted", l.progress.Deleted))
	return l.progress, nil
}

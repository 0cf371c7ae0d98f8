// Package mutation serializes every structural change to the index through
// the engine's single writer.
package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/lookup"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// DefaultChunkSize bounds how many documents one ClearAll commit deletes.
const DefaultChunkSize = 10000

// Coordinator applies command batches. Runs of upserts and deletes are
// buffered in one writer and committed together; ClearAll runs as its own
// chunked loop.
type Coordinator struct {
	engine    *engine.Engine
	chunkSize int
	logger    *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithChunkSize sets the ClearAll chunk size. Values below 1 keep the default.
func WithChunkSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// New returns a Coordinator writing through e.
func New(e *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{engine: e, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Apply validates and applies cmds in submission order. Each run of upserts
// and deletes commits atomically; on a failed commit the result holds the
// outcomes of the units applied before it and the error wraps
// engine.ErrCommitFailed.
func (c *Coordinator) Apply(ctx context.Context, cmds []models.Command) (*models.BatchResult, error) {
	for i, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}

	result := &models.BatchResult{BatchID: uuid.NewString(), Items: make([]*models.ItemResult, 0, len(cmds))}
	log := c.logger.With(zap.String("batch_id", result.BatchID))
	log.Debug("applying batch", zap.Int("commands", len(cmds)))

	start := 0
	for i := 0; i <= len(cmds); i++ {
		if i < len(cmds) && cmds[i].Kind != models.CommandClearAll {
			continue
		}
		if start < i {
			items, err := c.applyUnit(ctx, cmds[start:i])
			if err != nil {
				log.Warn("batch unit failed", zap.Int("from", start), zap.Int("to", i), zap.Error(err))
				return result, err
			}
			result.Items = append(result.Items, items...)
			result.Commits++
		}
		if i < len(cmds) {
			progress, err := c.ClearAll(ctx)
			result.Cleared += progress.Deleted
			result.Commits += progress.Chunks
			if err != nil {
				log.Warn("clear all failed", zap.Uint64("deleted", progress.Deleted), zap.Error(err))
				return result, err
			}
			result.Items = append(result.Items, &models.ItemResult{Kind: models.CommandClearAll, Outcome: models.OutcomeCleared})
		}
		start = i + 1
	}

	log.Info("batch applied",
		zap.Int("added", result.Count(models.OutcomeAdded)),
		zap.Int("replaced", result.Count(models.OutcomeReplaced)),
		zap.Int("skipped", result.Count(models.OutcomeSkipped)),
		zap.Int("deleted", result.Count(models.OutcomeDeleted)),
		zap.Uint64("cleared", result.Cleared))
	return result, nil
}

// Upsert applies a single upsert.
func (c *Coordinator) Upsert(ctx context.Context, post models.Post, overwrite bool) (models.Outcome, error) {
	res, err := c.Apply(ctx, []models.Command{models.Upsert(post, overwrite)})
	if err != nil {
		return "", err
	}
	return res.Items[0].Outcome, nil
}

// Delete applies a single delete.
func (c *Coordinator) Delete(ctx context.Context, threadID int64) error {
	_, err := c.Apply(ctx, []models.Command{models.Delete(threadID)})
	return err
}

// applyUnit buffers upserts and deletes in one writer and commits them.
//
// Existence is checked against the committed snapshot, which does not see
// earlier commands of the same unit, so the unit also tracks the keys it has
// buffered: an upsert with overwrite=false is skipped when its key was added
// earlier in the unit, and a duplicate with overwrite=true deletes the earlier
// buffered instance before adding, leaving one document per key.
func (c *Coordinator) applyUnit(ctx context.Context, cmds []models.Command) ([]*models.ItemResult, error) {
	items := make([]*models.ItemResult, 0, len(cmds))
	_, err := c.engine.Update(ctx, func(w *engine.Writer) error {
		reader := c.engine.Reader()
		buffered := make(map[int64]bool)

		for _, cmd := range cmds {
			key := cmd.Key()
			item := &models.ItemResult{ThreadID: key, Kind: cmd.Kind}
			items = append(items, item)

			if cmd.Kind == models.CommandDelete {
				if err := w.DeleteTerm(key); err != nil {
					return err
				}
				buffered[key] = false
				item.Outcome = models.OutcomeDeleted
				continue
			}

			exists, seen := buffered[key]
			if !seen {
				var err error
				exists, err = lookup.Exists(ctx, reader, key)
				if err != nil {
					return err
				}
			}
			if exists && !cmd.Overwrite {
				item.Outcome = models.OutcomeSkipped
				continue
			}
			if exists {
				if err := w.DeleteTerm(key); err != nil {
					return err
				}
				item.Outcome = models.OutcomeReplaced
			} else {
				item.Outcome = models.OutcomeAdded
			}
			if err := w.Add(cmd.Post); err != nil {
				return err
			}
			buffered[key] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Package reindex rebuilds the index from the posts database.
package reindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/pkg/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of posts applied per commit.
const DefaultBatchSize = 5000

// Source yields every post.
type Source interface {
	CountPosts(ctx context.Context) (int64, error)
	LoadAllPosts(ctx context.Context, fn func(models.Post) error) (int64, error)
}

// Applier applies command batches to the index.
type Applier interface {
	Apply(ctx context.Context, cmds []models.Command) (*models.BatchResult, error)
}

// Stats summarizes a run.
type Stats struct {
	Loaded   int64
	Added    int
	Replaced int
	Skipped  int
	Batches  int
	Duration time.Duration
}

// Reindexer streams posts from a Source into an Applier.
type Reindexer struct {
	src       Source
	dst       Applier
	batchSize int
	overwrite bool
	progress  io.Writer
	logger    *zap.Logger
}

// Option configures a Reindexer.
type Option func(*Reindexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reindexer) {
		r.logger = l
	}
}

// WithBatchSize sets how many posts go into one commit.
func WithBatchSize(n int) Option {
	return func(r *Reindexer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithOverwrite replaces posts that are already indexed instead of skipping them.
func WithOverwrite(overwrite bool) Option {
	return func(r *Reindexer) {
		r.overwrite = overwrite
	}
}

// WithProgress renders a progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(r *Reindexer) {
		r.progress = w
	}
}

// New returns a Reindexer.
func New(src Source, dst Applier, opts ...Option) *Reindexer {
	r := &Reindexer{src: src, dst: dst, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Run loads every post and applies them in batches. Loading and applying
// run concurrently; the first failure on either side cancels the other.
func (r *Reindexer) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	total, err := r.src.CountPosts(ctx)
	if err != nil {
		return stats, err
	}
	r.logger.Info("reindex started", zap.Int64("posts", total), zap.Int("batch_size", r.batchSize))
	bar := r.newBar(total)

	g, gctx := errgroup.WithContext(ctx)
	posts := make(chan models.Post, r.batchSize)

	g.Go(func() error {
		defer close(posts)
		n, err := r.src.LoadAllPosts(gctx, func(p models.Post) error {
			select {
			case posts <- p:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		stats.Loaded = n
		return err
	})

	g.Go(func() error {
		batch := make([]models.Command, 0, r.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			res, err := r.dst.Apply(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", stats.Batches+1, err)
			}
			stats.Batches++
			stats.Added += res.Count(models.OutcomeAdded)
			stats.Replaced += res.Count(models.OutcomeReplaced)
			stats.Skipped += res.Count(models.OutcomeSkipped)
			if bar != nil {
				_ = bar.Add(len(batch))
			}
			r.logger.Debug("reindex batch applied", zap.Int("batch", stats.Batches), zap.String("batch_id", res.BatchID))
			batch = batch[:0]
			return nil
		}
		for p := range posts {
			batch = append(batch, models.Upsert(p, r.overwrite))
			if len(batch) >= r.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	err = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	stats.Duration = time.Since(start)
	if err != nil {
		r.logger.Error("reindex failed", zap.Error(err), zap.Int("batches", stats.Batches))
		return stats, err
	}
	r.logger.Info("reindex finished",
		zap.Int64("loaded", stats.Loaded),
		zap.Int("added", stats.Added),
		zap.Int("replaced", stats.Replaced),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (r *Reindexer) newBar(total int64) *progressbar.ProgressBar {
	if r.progress == nil {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Indexing"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(r.progress)
		}),
	)
}

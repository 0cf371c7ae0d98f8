package mutation

import (
	"context"
	"fmt"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/lookup"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/internal/textpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	p, err := textpipe.New(textpipe.DefaultConfig())
	require.NoError(t, err)
	e, err := engine.OpenInMemory(schema.New(p))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func docCount(t *testing.T, e *engine.Engine) uint64 {
	t.Helper()
	n, err := e.Reader().DocCount()
	require.NoError(t, err)
	return n
}

func titleOf(t *testing.T, e *engine.Engine, id int64) string {
	t.Helper()
	sf, found, err := lookup.Find(context.Background(), e.Reader(), id)
	require.NoError(t, err)
	require.True(t, found, "thread %d not found", id)
	return sf.Title
}

func matchCount(t *testing.T, e *engine.Engine, term string) uint64 {
	t.Helper()
	q := bleve.NewMatchQuery(term)
	q.SetField(schema.FieldTitle)
	res, err := e.Reader().Search(context.Background(), bleve.NewSearchRequest(q))
	require.NoError(t, err)
	return res.Total
}

func TestApply_Upsert(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()

	res, err := c.Apply(ctx, []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "Кот"}, false),
		models.Upsert(models.Post{ThreadID: 2, Title: "Пёс"}, false),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 1, res.Commits)
	assert.Equal(t, 2, res.Count(models.OutcomeAdded))
	assert.Equal(t, uint64(2), docCount(t, e))
}

func TestApply_IdempotentOverwrite(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()
	post := models.Post{ThreadID: 7, Title: "Слон", Text: "большой"}

	for i := 0; i < 3; i++ {
		_, err := c.Upsert(ctx, post, true)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), docCount(t, e))
	assert.Equal(t, "Слон", titleOf(t, e, 7))
}

func TestApply_SkipExisting(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()

	outcome, err := c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Кот"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdded, outcome)

	outcome, err = c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Слон"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, outcome)
	assert.Equal(t, "Кот", titleOf(t, e, 1))

	outcome, err = c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Слон"}, true)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReplaced, outcome)
	assert.Equal(t, "Слон", titleOf(t, e, 1))
}

func TestApply_DeleteIdempotent(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()

	_, err := c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Кот"}, false)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, 1))
	require.NoError(t, c.Delete(ctx, 1))
	require.NoError(t, c.Delete(ctx, 404))

	_, found, err := lookup.Find(ctx, e.Reader(), 1)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(0), docCount(t, e))
}

func TestApply_DuplicateKeysOverwrite(t *testing.T) {
	e := newEngine(t)
	c := New(e)

	res, err := c.Apply(context.Background(), []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "A"}, true),
		models.Upsert(models.Post{ThreadID: 1, Title: "B"}, true),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdded, res.Items[0].Outcome)
	assert.Equal(t, models.OutcomeReplaced, res.Items[1].Outcome)
	assert.Equal(t, uint64(1), docCount(t, e))
	assert.Equal(t, "B", titleOf(t, e, 1))
}

func TestApply_DuplicateKeysSkip(t *testing.T) {
	e := newEngine(t)
	c := New(e)

	res, err := c.Apply(context.Background(), []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "A"}, false),
		models.Upsert(models.Post{ThreadID: 1, Title: "B"}, false),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, res.Items[1].Outcome)
	assert.Equal(t, uint64(1), docCount(t, e))
	assert.Equal(t, "A", titleOf(t, e, 1))
}

func TestApply_DeleteThenUpsertInOneBatch(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()

	_, err := c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Кот"}, false)
	require.NoError(t, err)

	res, err := c.Apply(ctx, []models.Command{
		models.Delete(1),
		models.Upsert(models.Post{ThreadID: 1, Title: "Пёс"}, false),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeleted, res.Items[0].Outcome)
	assert.Equal(t, models.OutcomeAdded, res.Items[1].Outcome)
	assert.Equal(t, "Пёс", titleOf(t, e, 1))
}

func TestApply_Scenario(t *testing.T) {
	e := newEngine(t)
	c := New(e)
	ctx := context.Background()

	_, err := c.Apply(ctx, []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "Кот"}, false),
		models.Upsert(models.Post{ThreadID: 2, Title: "Пёс"}, false),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), matchCount(t, e, "кот"))

	_, err = c.Upsert(ctx, models.Post{ThreadID: 1, Title: "Слон"}, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), matchCount(t, e, "кот"))
	assert.Equal(t, uint64(1), matchCount(t, e, "слон"))
}

func TestApply_InvalidCommand(t *testing.T) {
	e := newEngine(t)
	c := New(e)

	_, err := c.Apply(context.Background(), []models.Command{
		models.Upsert(models.Post{ThreadID: 1}, false),
		{Kind: "rename"},
	})
	require.Error(t, err)
	assert.Equal(t, uint64(0), docCount(t, e), "nothing applied when validation fails")
}

func TestApply_WriterWaitCancelled(t *testing.T) {
	e := newEngine(t)
	c := New(e)

	w, err := e.AcquireWriter(context.Background())
	require.NoError(t, err)
	defer w.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Apply(ctx, []models.Command{models.Delete(1)})
	require.ErrorIs(t, err, context.Canceled)
}

// bleveIndex lets failingIndex embed bleve.Index without its field name
// shadowing the interface's Index method.
type bleveIndex = bleve.Index

type failingIndex struct {
	bleveIndex
	fail *atomic.Bool
}

func (f failingIndex) Batch(b *bleve.Batch) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.bleveIndex.Batch(b)
}

func TestApply_CommitFailed(t *testing.T) {
	p, err := textpipe.New(textpipe.DefaultConfig())
	require.NoError(t, err)
	var fail atomic.Bool
	e, err := engine.OpenInMemory(schema.New(p),
		engine.WithIndexWrapper(func(idx bleve.Index) bleve.Index { return failingIndex{bleveIndex: idx, fail: &fail} }))
	require.NoError(t, err)
	defer e.Close()
	c := New(e)

	_, err = c.Apply(context.Background(), []models.Command{models.Upsert(models.Post{ThreadID: 1, Title: "Кот"}, false)})
	require.NoError(t, err)

	fail.Store(true)
	res, err := c.Apply(context.Background(), []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "Пёс"}, true),
		models.Upsert(models.Post{ThreadID: 2, Title: "Слон"}, false),
	})
	require.ErrorIs(t, err, engine.ErrCommitFailed)
	require.NotNil(t, res)
	assert.Empty(t, res.Items, "no outcome is reported for the failed unit")
	assert.Equal(t, 0, res.Commits)
	assert.Equal(t, uint64(1), docCount(t, e))
	assert.Equal(t, "Кот", titleOf(t, e, 1), "failed unit leaves the previous state")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w, err := e.AcquireWriter(ctx)
	require.NoError(t, err, "writer slot was released")
	w.Release()

	fail.Store(false)
	res, err = c.Apply(context.Background(), []models.Command{models.Upsert(models.Post{ThreadID: 1, Title: "Пёс"}, true)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(models.OutcomeReplaced))
	assert.Equal(t, "Пёс", titleOf(t, e, 1))
}

func TestApply_ClearAllInBatch(t *testing.T) {
	e := newEngine(t)
	c := New(e, WithChunkSize(2))

	res, err := c.Apply(context.Background(), []models.Command{
		models.Upsert(models.Post{ThreadID: 1, Title: "Кот"}, false),
		models.Upsert(models.Post{ThreadID: 2, Title: "Пёс"}, false),
		models.Upsert(models.Post{ThreadID: 3, Title: "Слон"}, false),
		models.ClearAll(),
		models.Upsert(models.Post{ThreadID: 4, Title: "Мышь"}, false),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Cleared)
	assert.Equal(t, 1+2+1, res.Commits)
	require.Len(t, res.Items, 5)
	assert.Equal(t, models.OutcomeCleared, res.Items[3].Outcome)
	assert.Equal(t, uint64(1), docCount(t, e))
	assert.Equal(t, "Мышь", titleOf(t, e, 4))
}

func seed(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	cmds := make([]models.Command, n)
	for i := range cmds {
		cmds[i] = models.Upsert(models.Post{ThreadID: int64(i + 1), Title: fmt.Sprintf("пост %d", i+1)}, false)
	}
	_, err := c.Apply(context.Background(), cmds)
	require.NoError(t, err)
}

func TestClearAll_Convergence(t *testing.T) {
	tests := []struct {
		name       string
		docs       int
		chunk      int
		wantChunks int
	}{
		{"empty index", 0, 4, 0},
		{"below chunk size", 3, 4, 1},
		{"exactly chunk size", 4, 4, 1},
		{"above chunk size", 10, 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			c := New(e, WithChunkSize(tt.chunk))
			seed(t, c, tt.docs)

			progress, err := c.ClearAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ClearDone, progress.State)
			assert.Equal(t, tt.wantChunks, progress.Chunks)
			assert.Equal(t, uint64(tt.docs), progress.Deleted)
			assert.Equal(t, uint64(0), docCount(t, e))
		})
	}
}

func TestClearAll_OnDisk(t *testing.T) {
	p, err := textpipe.New(textpipe.DefaultConfig())
	require.NoError(t, err)
	e, err := engine.Open(filepath.Join(t.TempDir(), "index"), schema.New(p))
	require.NoError(t, err)
	defer e.Close()

	c := New(e, WithChunkSize(5))
	seed(t, c, 12)

	progress, err := c.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Chunks)
	assert.Equal(t, uint64(0), docCount(t, e))
}

func TestClearLoop_Steps(t *testing.T) {
	e := newEngine(t)
	c := New(e, WithChunkSize(2))
	seed(t, c, 3)
	ctx := context.Background()

	l := &clearLoop{engine: e, reader: e.Reader(), chunkSize: 2, logger: c.logger}
	want := []ClearState{ClearDeleting, ClearScanning, ClearDeleting, ClearScanning, ClearDone}
	for i, state := range want {
		require.NoError(t, l.step(ctx))
		assert.Equal(t, state, l.progress.State, "after step %d", i+1)
	}
	assert.Equal(t, uint64(3), l.progress.Deleted)
	assert.Equal(t, 2, l.progress.Chunks)
}

func TestClearAll_CancelledResumes(t *testing.T) {
	e := newEngine(t)
	c := New(e, WithChunkSize(2))
	seed(t, c, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	progress, err := c.ClearAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ClearScanning, progress.State)
	assert.Equal(t, uint64(5), docCount(t, e))

	progress, err = c.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), progress.Deleted)
	assert.Equal(t, uint64(0), docCount(t, e))
}

func TestClearState_String(t *testing.T) {
	assert.Equal(t, "scanning", ClearScanning.String())
	assert.Equal(t, "deleting", ClearDeleting.String())
	assert.Equal(t, "done", ClearDone.String())
}

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/internal/textpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, cfg textpipe.Config) *schema.Registry {
	t.Helper()
	p, err := textpipe.New(cfg)
	require.NoError(t, err)
	return schema.New(p)
}

func openTemp(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index")
	e, err := Open(path, testRegistry(t, textpipe.DefaultConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, path
}

func count(t *testing.T, e *Engine) uint64 {
	t.Helper()
	n, err := e.Reader().DocCount()
	require.NoError(t, err)
	return n
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index")
	reg := testRegistry(t, textpipe.DefaultConfig())

	e, err := Open(path, reg)
	require.NoError(t, err)
	_, err = e.Update(context.Background(), func(w *Writer) error {
		return w.Add(&models.Post{ThreadID: 1, Title: "Кот"})
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = Open(path, reg)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, uint64(1), count(t, e))
}

func TestOpen_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")

	e, err := Open(path, testRegistry(t, textpipe.DefaultConfig()))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Open(path, testRegistry(t, textpipe.Config{Language: "en"}))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	// the failed open must release the lock
	e, err = Open(path, testRegistry(t, textpipe.DefaultConfig()))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestOpen_Locked(t *testing.T) {
	_, path := openTemp(t)

	_, err := Open(path, testRegistry(t, textpipe.DefaultConfig()))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, ErrIndexLocked)
}

func TestOpen_NotAnIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.MkdirAll(path, 0755))

	_, err := Open(path, testRegistry(t, textpipe.DefaultConfig()))
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestWriter_Exclusive(t *testing.T) {
	e, _ := openTemp(t)

	w, err := e.AcquireWriter(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.AcquireWriter(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *Writer)
	go func() {
		w2, err := e.AcquireWriter(context.Background())
		if err == nil {
			acquired <- w2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired while first is live")
	case <-time.After(20 * time.Millisecond):
	}

	w.Release()
	w.Release()
	select {
	case w2 := <-acquired:
		w2.Release()
	case <-time.After(time.Second):
		t.Fatal("second writer not acquired after release")
	}
}

func TestWriter_InvisibleUntilCommit(t *testing.T) {
	e, _ := openTemp(t)

	w, err := e.AcquireWriter(context.Background())
	require.NoError(t, err)
	defer w.Release()

	require.NoError(t, w.Add(&models.Post{ThreadID: 1, Title: "Слон"}))
	assert.Equal(t, 1, w.Pending())
	assert.Equal(t, uint64(0), count(t, e))

	res, err := w.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 1, res.Ops)
	assert.Equal(t, uint64(1), count(t, e))
	assert.Equal(t, 0, w.Pending())
}

func TestWriter_LastOperationWins(t *testing.T) {
	e, _ := openTemp(t)

	_, err := e.Update(context.Background(), func(w *Writer) error {
		require.NoError(t, w.Add(&models.Post{ThreadID: 1, Title: "первый"}))
		require.NoError(t, w.DeleteTerm(1))
		require.NoError(t, w.Add(&models.Post{ThreadID: 1, Title: "второй"}))
		return w.DeleteTerm(2)
	})
	require.NoError(t, err)

	res, err := e.Reader().Search(context.Background(), searchAll())
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "второй", res.Hits[0].Fields[schema.FieldTitle])
}

func TestWriter_ReleasedWriter(t *testing.T) {
	e, _ := openTemp(t)

	w, err := e.AcquireWriter(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Add(&models.Post{ThreadID: 1}))
	w.Release()

	assert.ErrorIs(t, w.Add(&models.Post{ThreadID: 2}), ErrWriterReleased)
	_, err = w.Commit()
	assert.ErrorIs(t, err, ErrWriterReleased)
	assert.Equal(t, uint64(0), count(t, e), "uncommitted ops are discarded on release")
}

func TestUpdate_DiscardsOnError(t *testing.T) {
	e, _ := openTemp(t)
	boom := errors.New("boom")

	_, err := e.Update(context.Background(), func(w *Writer) error {
		require.NoError(t, w.Add(&models.Post{ThreadID: 1}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(0), count(t, e))
	assert.Equal(t, uint64(0), e.Generation())

	// writer slot was released
	_, err = e.Update(context.Background(), func(w *Writer) error { return nil })
	require.NoError(t, err)
}

// bleveIndex lets failingIndex embed bleve.Index without its field name
// shadowing the interface's Index method.
type bleveIndex = bleve.Index

// failingIndex rejects batches while fail is set.
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

func TestCommit_Failure(t *testing.T) {
	var fail atomic.Bool
	e, err := OpenInMemory(testRegistry(t, textpipe.DefaultConfig()),
		WithIndexWrapper(func(idx bleve.Index) bleve.Index { return failingIndex{bleveIndex: idx, fail: &fail} }))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Update(context.Background(), func(w *Writer) error {
		return w.Add(&models.Post{ThreadID: 1, Title: "Кот"})
	})
	require.NoError(t, err)

	fail.Store(true)
	_, err = e.Update(context.Background(), func(w *Writer) error {
		require.NoError(t, w.DeleteTerm(1))
		return w.Add(&models.Post{ThreadID: 2, Title: "Пёс"})
	})
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, uint64(1), count(t, e), "index keeps its previous state")
	assert.Equal(t, uint64(1), e.Generation())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w, err := e.AcquireWriter(ctx)
	require.NoError(t, err, "writer slot was released")
	assert.Equal(t, 0, w.Pending(), "failed buffer is not carried over")
	w.Release()

	fail.Store(false)
	_, err = e.Update(context.Background(), func(w *Writer) error {
		return w.Add(&models.Post{ThreadID: 2, Title: "Пёс"})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count(t, e))
}

func TestReader_Reload(t *testing.T) {
	e, _ := openTemp(t)
	r := e.Reader()
	assert.Equal(t, uint64(0), r.Generation())

	_, err := e.Update(context.Background(), func(w *Writer) error {
		return w.Add(&models.Post{ThreadID: 5, Title: "Пёс"})
	})
	require.NoError(t, err)

	n, err := r.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "readers follow commits")
	assert.Equal(t, uint64(1), r.Reload())
}

func TestStatsAndGarbageCollect(t *testing.T) {
	e, path := openTemp(t)

	_, err := e.Update(context.Background(), func(w *Writer) error {
		for i := int64(1); i <= 3; i++ {
			if err := w.Add(&models.Post{ThreadID: i, Text: "текст"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, e.GarbageCollect(context.Background()))

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, path, st.Path)
	assert.Equal(t, uint64(3), st.Documents)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Greater(t, st.DiskBytes, int64(0))
}

func TestClose(t *testing.T) {
	e, _ := openTemp(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.AcquireWriter(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Reader().Search(context.Background(), searchAll())
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestOpenInMemory(t *testing.T) {
	e, err := OpenInMemory(testRegistry(t, textpipe.DefaultConfig()))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Update(context.Background(), func(w *Writer) error {
		return w.Add(&models.Post{ThreadID: 9})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count(t, e))
	require.NoError(t, e.GarbageCollect(context.Background()))
}

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("ab"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("c"), 0644))

	n, err := diskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = diskUsage(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func searchAll() *bleve.SearchRequest {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Fields = []string{schema.FieldTitle}
	return req
}

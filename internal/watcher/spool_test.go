package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/lookup"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/mutation"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/internal/textpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingApplier struct{ err error }

func (f failingApplier) Apply(context.Context, []models.Command) (*models.BatchResult, error) {
	return nil, f.err
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	p, err := textpipe.New(textpipe.DefaultConfig())
	require.NoError(t, err)
	e, err := engine.OpenInMemory(schema.New(p))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSpool_Process(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s := NewSpool(mutation.New(e))
	dir := t.TempDir()

	path := filepath.Join(dir, "0001.json")
	require.NoError(t, writeFile(path, `{"overwrite":true,"posts":[{"thread_id":5,"title":"Кот","needModer":1}]}`))

	res, err := s.Process(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Count(models.OutcomeAdded))
	assert.NoFileExists(t, path)
	assert.FileExists(t, path+DoneSuffix)

	found, err := lookup.Exists(ctx, e.Reader(), 5)
	require.NoError(t, err)
	assert.True(t, found)

	res, err = s.Process(ctx, path)
	require.NoError(t, err, "a file already handled is a no-op")
	assert.Nil(t, res)
}

func TestSpool_Rejected(t *testing.T) {
	ctx := context.Background()
	s := NewSpool(mutation.New(newEngine(t)))
	dir := t.TempDir()

	tests := map[string]string{
		"malformed.json": `{"posts":`,
		"empty.json":     `{}`,
		"badkind.json":   `{"commands":[{"kind":"rename"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, writeFile(path, body))
			_, err := s.Process(ctx, path)
			require.ErrorIs(t, err, models.ErrInvalidCommand)
			assert.FileExists(t, path+FailedSuffix)
		})
	}
}

func TestSpool_CommitFailureKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0001.json")
	require.NoError(t, writeFile(path, `{"posts":[{"thread_id":1,"title":"Кот"}]}`))

	s := NewSpool(failingApplier{err: engine.ErrCommitFailed})
	_, err := s.Process(context.Background(), path)
	require.ErrorIs(t, err, engine.ErrCommitFailed)
	assert.FileExists(t, path)
}

func TestSpool_WithWatcher(t *testing.T) {
	e := newEngine(t)
	s := NewSpool(mutation.New(e))
	dir := t.TempDir()

	w := New([]string{dir}, []string{".json"}, false, s.HandleFile, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "0002.json")
	require.NoError(t, writeFile(path, `{"posts":[{"thread_id":9,"title":"Слон"}]}`))

	require.Eventually(t, func() bool {
		found, err := lookup.Exists(context.Background(), e.Reader(), 9)
		return err == nil && found
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path + DoneSuffix)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
}

package engine

import "errors"

var (
	// ErrStorageUnavailable means the index directory cannot be opened or created.
	ErrStorageUnavailable = errors.New("index storage unavailable")
	// ErrIndexLocked means another process holds the index lock.
	ErrIndexLocked = errors.New("index locked by another process")
	// ErrSchemaMismatch means the index on disk was built with a different schema.
	ErrSchemaMismatch = errors.New("index schema mismatch")
	// ErrCommitFailed means a commit did not persist; none of its operations are applied.
	ErrCommitFailed = errors.New("index commit failed")
	// ErrSearchUnavailable means the reader could not execute a search.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrWriterReleased is returned when a released writer is used.
	ErrWriterReleased = errors.New("writer already released")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// Suffixes appended to spool files once they have been handled.
const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

// Applier applies a batch of commands.
type Applier interface {
	Apply(ctx context.Context, cmds []models.Command) (*models.BatchResult, error)
}

// Spool applies modify-request files. A file that decodes and applies is
// renamed with DoneSuffix; a file that can never apply (bad JSON, invalid
// commands) gets FailedSuffix. When the index itself fails the file stays
// where it is and is picked up again by the next directory sync.
type Spool struct {
	dst    Applier
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// SpoolOption configures a Spool.
type SpoolOption func(*Spool)

// WithSpoolLogger sets the spool logger.
func WithSpoolLogger(l *zap.Logger) SpoolOption {
	return func(s *Spool) { s.logger = l }
}

// NewSpool returns a Spool applying files through dst.
func NewSpool(dst Applier, opts ...SpoolOption) *Spool {
	s := &Spool{dst: dst, inflight: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// HandleFile is a FileFunc. Errors are logged.
func (s *Spool) HandleFile(ctx context.Context, path string) {
	if _, err := s.Process(ctx, path); err != nil {
		s.logger.Warn("spool file not applied", zap.String("path", path), zap.Error(err))
	}
}

// Process applies the request in path and renames the file. It returns the
// batch result when the file applied. A file already being processed, or one
// that no longer exists, is a no-op.
func (s *Spool) Process(ctx context.Context, path string) (*models.BatchResult, error) {
	s.mu.Lock()
	if s.inflight[path] {
		s.mu.Unlock()
		return nil, nil
	}
	s.inflight[path] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, path)
		s.mu.Unlock()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read spool file: %w", err)
	}

	cmds, err := decodeRequest(data)
	if err != nil {
		return nil, s.finish(path, FailedSuffix, err)
	}

	res, err := s.dst.Apply(ctx, cmds)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCommand) {
			return nil, s.finish(path, FailedSuffix, err)
		}
		return nil, fmt.Errorf("apply spool file: %w", err)
	}
	s.logger.Info("spool file applied",
		zap.String("path", path),
		zap.String("batch_id", res.BatchID),
		zap.Int("commands", len(cmds)))
	return res, s.finish(path, DoneSuffix, nil)
}

func decodeRequest(data []byte) ([]models.Command, error) {
	var req models.ModifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCommand, err)
	}
	return req.ToCommands()
}

// finish renames path with suffix and returns cause, or the rename error.
func (s *Spool) finish(path, suffix string, cause error) error {
	if err := os.Rename(path, path+suffix); err != nil {
		return fmt.Errorf("failed to rename spool file: %w", err)
	}
	return cause
}

// Package search runs free-text queries against the committed index.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/query"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// DefaultMaxTopK caps top_k when no limit is configured.
const DefaultMaxTopK = 100

type cacheKey struct {
	generation uint64
	query      string
	topK       int
}

// Service answers search requests. Results are cached per commit generation,
// so a commit invalidates every cached answer.
type Service struct {
	engine    *engine.Engine
	parser    *query.Parser
	topK      int
	maxTopK   int
	cacheSize int
	cache     *lru.Cache[cacheKey, *models.SearchResponse]
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithDefaultTopK sets top_k for requests that leave it unset.
func WithDefaultTopK(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topK = n
		}
	}
}

// WithMaxTopK caps the number of hits per request.
func WithMaxTopK(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTopK = n
		}
	}
}

// WithCacheSize sets the result cache capacity; 0 disables caching.
func WithCacheSize(n int) Option {
	return func(s *Service) {
		s.cacheSize = n
	}
}

// NewService returns a Service reading from e.
func NewService(e *engine.Engine, opts ...Option) (*Service, error) {
	s := &Service{
		engine:  e,
		parser:  query.NewParser(e.Registry()),
		topK:    models.DefaultTopK,
		maxTopK: DefaultMaxTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	if s.cacheSize > 0 {
		cache, err := lru.New[cacheKey, *models.SearchResponse](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Search parses and executes q and returns up to q.TopK hits by
// descending score. Parse failures wrap query.ErrSyntax; engine failures wrap
// engine.ErrSearchUnavailable.
func (s *Service) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	text, err := ProcessQuery(&q, s.topK, s.maxTopK)
	if err != nil {
		return nil, err
	}

	reader := s.engine.Reader()
	key := cacheKey{generation: reader.Generation(), query: text, topK: q.TopK}
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			resp := *cached
			resp.Query = q.Query
			resp.Cached = true
			resp.QueryTime = time.Since(start).Milliseconds()
			return &resp, nil
		}
	}

	bq, err := s.parser.Build(text)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bq, q.TopK, 0, false)
	req.Fields = []string{schema.FieldTitle}

	res, err := reader.Search(ctx, req)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", q.Query), zap.Error(err))
		return nil, err
	}

	resp := &models.SearchResponse{
		Query: q.Query,
		Total: res.Total,
		Hits:  make([]*models.SearchHit, 0, len(res.Hits)),
	}
	for _, hit := range res.Hits {
		fields, err := schema.StoredFromHit(hit.ID, hit.Fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrSearchUnavailable, err)
		}
		resp.Hits = append(resp.Hits, &models.SearchHit{Score: hit.Score, Fields: fields})
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	if s.cache != nil {
		s.cache.Add(key, resp)
	}
	s.logger.Debug("search",
		zap.String("query", text),
		zap.Int("top_k", q.TopK),
		zap.Int("hits", len(resp.Hits)),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

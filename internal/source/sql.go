// Package source streams forum posts out of the relational database they live in.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and postgres.
var ErrUnsupportedDriver = errors.New("unsupported source driver")

// SQLSource reads posts with a single configurable query. The query must
// return thread_id, title, text, node_id, moderation flag and post_date in
// that order.
type SQLSource struct {
	db     *sql.DB
	query  string
	logger *zap.Logger
}

// Option configures an SQLSource.
type Option func(*SQLSource)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLSource) {
		s.logger = l
	}
}

// Open connects to the database. A sqlite3 DSN must name an existing file.
func Open(ctx context.Context, driver, dsn, query string, opts ...Option) (*SQLSource, error) {
	switch driver {
	case "sqlite3":
		if _, err := os.Stat(dsn); err != nil {
			return nil, fmt.Errorf("failed to open source database: %w", err)
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if query == "" {
		return nil, errors.New("source query is empty")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}

	s := &SQLSource{db: db, query: query}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s, nil
}

// CountPosts returns how many rows the query yields.
func (s *SQLSource) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+s.query+") AS posts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// LoadAllPosts streams every row to fn in query order and returns how many
// rows were delivered. Streaming stops at the first error from fn.
func (s *SQLSource) LoadAllPosts(ctx context.Context, fn func(models.Post) error) (int64, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return 0, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return n, err
		}
		if err := fn(post); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("failed to read posts: %w", err)
	}
	s.logger.Debug("loaded posts", zap.Int64("rows", n))
	return n, nil
}

func scanPost(rows *sql.Rows) (models.Post, error) {
	var (
		p                      models.Post
		title, text            sql.NullString
		nodeID, flag, postDate sql.NullInt64
	)
	if err := rows.Scan(&p.ThreadID, &title, &text, &nodeID, &flag, &postDate); err != nil {
		return p, fmt.Errorf("failed to scan post: %w", err)
	}
	p.Title = title.String
	p.Text = text.String
	p.NodeID = nodeID.Int64
	p.ModerationFlag = flag.Int64
	p.PostDate = postDate.Int64
	return p, nil
}

// Close closes the database.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

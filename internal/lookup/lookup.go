// Package lookup finds the committed document stored under a thread key.
package lookup

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/schema"
)

// Searcher is the read side lookup needs; *engine.Reader implements it.
type Searcher interface {
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
}

var _ Searcher = (*engine.Reader)(nil)

// Find returns the stored fields of the document keyed by threadID. A missing
// key is reported with found == false and a nil error. The answer reflects the
// reader's committed snapshot, not operations buffered in an open writer.
func Find(ctx context.Context, r Searcher, threadID int64) (fields *models.StoredFields, found bool, err error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{schema.DocID(threadID)}), 1, 0, false)
	req.Fields = []string{schema.FieldTitle}
	res, err := r.Search(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("lookup thread %d: %w", threadID, err)
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	hit := res.Hits[0]
	sf, err := schema.StoredFromHit(hit.ID, hit.Fields)
	if err != nil {
		return nil, false, err
	}
	return &sf, true, nil
}

// Exists reports whether threadID has a committed document.
func Exists(ctx context.Context, r Searcher, threadID int64) (bool, error) {
	_, found, err := Find(ctx, r, threadID)
	return found, err
}

package search

import (
	"strings"

	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/query"
)

// ProcessQuery validates q, applies the top_k defaults and returns the
// trimmed query text. An empty query is a syntax error. The parser applies
// the pipeline's substitutions token by token, so the text is not normalized
// here.
func ProcessQuery(q *models.SearchQuery, defaultTopK, maxTopK int) (string, error) {
	if q.TopK <= 0 && defaultTopK > 0 {
		q.TopK = defaultTopK
	}
	if err := q.Validate(maxTopK); err != nil {
		return "", &query.SyntaxError{Pos: 0, Msg: err.Error()}
	}
	return strings.TrimSpace(q.Query), nil
}

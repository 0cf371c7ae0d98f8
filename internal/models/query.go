package models

import "fmt"

// DefaultTopK is used when a search request leaves top_k unset.
const DefaultTopK = 10

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate ensures the query is non-empty and clamps TopK into [1, maxTopK].
func (q *SearchQuery) Validate(maxTopK int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}

package models

// StoredFields are the stored values returned with a hit.
type StoredFields struct {
	ThreadID int64  `json:"thread_id"`
	Title    string `json:"title"`
}

// SearchHit is one scored document.
type SearchHit struct {
	Score  float64      `json:"score"`
	Fields StoredFields `json:"fields"`
}

// SearchResponse is the response for a search request. Hits are ordered by descending score.
type SearchResponse struct {
	Query     string       `json:"query"`
	Total     uint64       `json:"total"`
	Hits      []*SearchHit `json:"hits"`
	QueryTime int64        `json:"query_time_ms"`
	Cached    bool         `json:"cached,omitempty"`
}

// Outcome is the per-item result of applying a command.
type Outcome string

const (
	OutcomeAdded    Outcome = "added"
	OutcomeReplaced Outcome = "replaced"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDeleted  Outcome = "deleted"
	OutcomeCleared  Outcome = "cleared"
)

// ItemResult reports what happened to one command.
type ItemResult struct {
	ThreadID int64       `json:"thread_id"`
	Kind     CommandKind `json:"kind"`
	Outcome  Outcome     `json:"outcome"`
}

// BatchResult is returned for a modify call.
type BatchResult struct {
	BatchID string        `json:"batch_id"`
	Items   []*ItemResult `json:"results"`
	Cleared uint64        `json:"cleared,omitempty"`
	Commits int           `json:"commits"`
}

// Count returns how many items ended with outcome o.
func (b *BatchResult) Count(o Outcome) int {
	n := 0
	for _, it := range b.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

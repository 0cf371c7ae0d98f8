// Package cli renders command output for the tsearch binary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one hit per line: score, thread id, title.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const titleWidth = 120

// WriteSearchResults writes a search response to w in the given format.
// Unknown formats are treated as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, hit := range response.Hits {
			fmt.Fprintf(w, "%.4f\t%d\t%s\n", hit.Score, hit.Fields.ThreadID, utils.Truncate(hit.Fields.Title, titleWidth))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.Cached {
		fmt.Fprint(w, " (cached)")
	}
	fmt.Fprint(w, "\n\n")
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Thread: %d\n", i+1, hit.Score, hit.Fields.ThreadID)
		if hit.Fields.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", utils.Truncate(hit.Fields.Title, titleWidth))
		}
		fmt.Fprintln(w)
	}
}

// WriteBatchResult writes the outcome of a modify call.
func WriteBatchResult(w io.Writer, res *models.BatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Batch %s: %d commit(s)\n", res.BatchID, res.Commits)
	counts := make(map[models.Outcome]int)
	for _, item := range res.Items {
		counts[item.Outcome]++
	}
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-9s %d\n", o, counts[models.Outcome(o)])
	}
	if res.Cleared > 0 {
		fmt.Fprintf(w, "  cleared documents: %d\n", res.Cleared)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

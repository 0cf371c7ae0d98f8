package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *SearchQuery
		maxTopK  int
		wantErr  bool
		wantTopK int
	}{
		{"empty query", &SearchQuery{Query: ""}, 100, true, 0},
		{"sets default top_k", &SearchQuery{Query: "x"}, 100, false, DefaultTopK},
		{"keeps top_k", &SearchQuery{Query: "x", TopK: 3}, 100, false, 3},
		{"caps top_k", &SearchQuery{Query: "x", TopK: 200}, 100, false, 100},
		{"no cap when max is zero", &SearchQuery{Query: "x", TopK: 200}, 0, false, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(tt.maxTopK)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.wantTopK)
			}
		})
	}
}

// Package models defines the posts, mutation commands, queries and results exchanged between components.
package models

import "encoding/json"

// Post is one forum thread's indexable record, keyed by ThreadID.
type Post struct {
	ThreadID       int64  `json:"thread_id"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	NodeID         int64  `json:"node_id"`
	ModerationFlag int64  `json:"moderation_flag"`
	PostDate       int64  `json:"post_date"`
}

// UnmarshalJSON accepts the legacy "needModer" key as an alias of moderation_flag.
// Missing fields decode to their zero values.
func (p *Post) UnmarshalJSON(data []byte) error {
	type plain Post
	aux := struct {
		*plain
		ModerationFlag *int64 `json:"moderation_flag"`
		NeedModer      *int64 `json:"needModer"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.ModerationFlag != nil:
		p.ModerationFlag = *aux.ModerationFlag
	case aux.NeedModer != nil:
		p.ModerationFlag = *aux.NeedModer
	}
	return nil
}

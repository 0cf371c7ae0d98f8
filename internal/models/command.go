package models

import (
	"errors"
	"fmt"
)

// ErrInvalidCommand is wrapped by every command validation failure.
var ErrInvalidCommand = errors.New("invalid command")

// CommandKind selects the mutation a Command performs.
type CommandKind string

const (
	CommandUpsert   CommandKind = "upsert"
	CommandDelete   CommandKind = "delete"
	CommandClearAll CommandKind = "clear_all"
)

// Command is one mutation against the index. Upsert carries a Post and the
// Overwrite flag; Delete carries only the key; ClearAll carries nothing.
type Command struct {
	Kind      CommandKind `json:"kind"`
	Post      *Post       `json:"post,omitempty"`
	ThreadID  int64       `json:"thread_id,omitempty"`
	Overwrite bool        `json:"overwrite,omitempty"`
}

// Upsert returns an upsert command for post.
func Upsert(post Post, overwrite bool) Command {
	return Command{Kind: CommandUpsert, Post: &post, ThreadID: post.ThreadID, Overwrite: overwrite}
}

// Delete returns a delete command for threadID.
func Delete(threadID int64) Command {
	return Command{Kind: CommandDelete, ThreadID: threadID}
}

// ClearAll returns a command that removes every document.
func ClearAll() Command {
	return Command{Kind: CommandClearAll}
}

// Key returns the thread_id the command targets.
func (c Command) Key() int64 {
	if c.Post != nil {
		return c.Post.ThreadID
	}
	return c.ThreadID
}

// Validate checks the command is well formed.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandUpsert:
		if c.Post == nil {
			return fmt.Errorf("%w: upsert without post", ErrInvalidCommand)
		}
	case CommandDelete, CommandClearAll:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// ModifyRequest is the body of a modify call. The legacy shape applies
// Overwrite and Delete to every entry of Posts; Commands carries explicit
// per-item commands and is applied after Posts.
type ModifyRequest struct {
	Overwrite bool      `json:"overwrite"`
	Delete    bool      `json:"delete"`
	Posts     []Post    `json:"posts,omitempty"`
	Commands  []Command `json:"commands,omitempty"`
}

// ToCommands expands the request into an ordered command list.
func (r *ModifyRequest) ToCommands() ([]Command, error) {
	cmds := make([]Command, 0, len(r.Posts)+len(r.Commands))
	for _, p := range r.Posts {
		if r.Delete {
			cmds = append(cmds, Delete(p.ThreadID))
		} else {
			cmds = append(cmds, Upsert(p, r.Overwrite))
		}
	}
	for i, c := range r.Commands {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		cmds = append(cmds, c)
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: no posts or commands", ErrInvalidCommand)
	}
	return cmds, nil
}

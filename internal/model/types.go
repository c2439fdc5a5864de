package model

import (
	"fmt"
	"time"
)

// User is the author of a note, as embedded in backend note payloads.
type User struct {
	ID        string  `json:"id" validate:"required"`
	Name      string  `json:"name"`
	Username  string  `json:"username" validate:"required"`
	Host      *string `json:"host,omitempty"` // nil for users local to the instance
	AvatarURL string  `json:"avatarUrl" validate:"omitempty,url"`
}

// Note represents a single post.
type Note struct {
	ID             string            `json:"id" validate:"required"`
	CreatedAt      time.Time         `json:"createdAt" validate:"required"`
	Text           *string           `json:"text"`
	ContentWarning *string           `json:"cw"`
	ReplyID        *string           `json:"replyId"`
	RenoteID       *string           `json:"renoteId,omitempty"` // set on renotes and quotes
	Author         User              `json:"user"`
	Attachments    []string          `json:"attachments" validate:"dive,url"`
	ReactionCounts map[string]int    `json:"reactions,omitempty"`
	CustomEmojis   map[string]string `json:"emojis,omitempty"`
}

// IsRoot reports whether the note does not reply to anything.
func (n Note) IsRoot() bool { return n.ReplyID == nil || *n.ReplyID == "" }

// RepliesTo reports whether n is a direct reply to id.
func (n Note) RepliesTo(id string) bool { return n.ReplyID != nil && *n.ReplyID == id }

// Thread is a reconstructed conversation around Root.
// Ancestors are oldest first; Descendants are newest first.
type Thread struct {
	Root        Note   `json:"root"`
	Ancestors   []Note `json:"ancestors"`
	Descendants []Note `json:"descendants"`
}

// Len returns the number of notes in the thread including the root.
func (t Thread) Len() int { return 1 + len(t.Ancestors) + len(t.Descendants) }

// TimelineWindow is a deduplicated slice of a public timeline, newest first.
type TimelineWindow []Note

// Emoji is a custom emoji catalog entry.
type Emoji struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Category string   `json:"category,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

// Scope selects which public timeline a context window is taken from.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// ParseScope accepts "global" or "local". An empty string means global.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeLocal:
		return ScopeLocal, nil
	}
	return "", fmt.Errorf("invalid scope %q: must be %q or %q", s, ScopeGlobal, ScopeLocal)
}

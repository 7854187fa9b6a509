package models

import (
	"strings"
	"time"
)

// Role tags who produced a message or context segment.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Public returns the caller-facing label for the role.
func (r Role) Public() string {
	if r == RoleModel {
		return "assistant"
	}
	return string(r)
}

// Valid reports whether r can be stored on a message.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Chat is a conversation owned by exactly one user.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerID      string    `json:"owner_id"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is an immutable entry in a chat's log.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	AuthorID  string    `json:"author_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is one role-tagged entry of a completion context.
type Segment struct {
	Role  Role
	Parts []string
}

// NewSegment builds a single-part segment.
func NewSegment(role Role, text string) Segment {
	return Segment{Role: role, Parts: []string{text}}
}

// Text flattens the segment's parts into a single string.
func (s Segment) Text() string {
	return strings.Join(s.Parts, " ")
}

// SegmentsFromMessages maps stored messages to context segments in order.
func SegmentsFromMessages(messages []*Message) []Segment {
	out := make([]Segment, 0, len(messages))
	for _, m := range messages {
		out = append(out, NewSegment(m.Role, m.Content))
	}
	return out
}

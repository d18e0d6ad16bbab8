// Package conversation defines the durable history of turns consulted and
// appended to by the stream orchestrator.
package conversation

import (
	"context"
	"time"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one persisted message (user or agent) in a conversation's history.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable, append-only turn log. The store is the sole owner of
// persisted turns; callers only request appends.
//
// Append must be idempotent by turn id: a retried append with an id already
// present returns the existing turn without creating a duplicate.
type Store interface {
	// History returns the ordered turns of a conversation, oldest first.
	// An unknown conversation returns an empty history, not an error.
	History(ctx context.Context, conversationID string) ([]Turn, error)

	// Append adds a turn to the conversation and returns the stored turn.
	Append(ctx context.Context, conversationID string, turn Turn) (Turn, error)

	// Close releases any resources held by the store.
	Close() error
}

// NotFoundError is returned when a turn lookup misses.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "turn not found"
	}
	return "turn not found: " + e.ID
}

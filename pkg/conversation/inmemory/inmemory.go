// Package inmemory provides an in-memory conversation store used in tests
// and single-process setups.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/conversation"
)

// Store implements conversation.Store backed by an in-memory map.
type Store struct {
	// mu is a read write mutex guarding the turn log
	mu sync.RWMutex

	// turns maps conversation id to its ordered turn log
	turns map[string][]conversation.Turn
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		turns: make(map[string][]conversation.Turn),
	}
}

// History returns the ordered turns for a conversation, oldest first.
func (s *Store) History(_ context.Context, conversationID string) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.turns[conversationID]
	out := make([]conversation.Turn, len(history))
	copy(out, history)
	return out, nil
}

// Append adds a turn to the log. Idempotent by turn id: an append with an
// existing id returns the stored turn unchanged.
func (s *Store) Append(_ context.Context, conversationID string, turn conversation.Turn) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.turns[conversationID] {
		if existing.ID == turn.ID {
			return existing, nil
		}
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return turn, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

var _ conversation.Store = (*Store)(nil)

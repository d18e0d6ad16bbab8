// Package sqlite provides a SQLite-backed conversation store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weftlabs/weft/pkg/conversation"
)

// Store implements conversation.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_conversation_id ON turns(conversation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// History returns the ordered turns for a conversation, oldest first.
func (s *Store) History(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	query := `SELECT id, role, text, created_at FROM turns WHERE conversation_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var turn conversation.Turn
		if err := rows.Scan(&turn.ID, &turn.Role, &turn.Text, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// Append stores a turn. INSERT OR IGNORE makes retried appends with the same
// turn id a no-op, so a duplicate completion callback never creates a second
// turn.
func (s *Store) Append(ctx context.Context, conversationID string, turn conversation.Turn) (conversation.Turn, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	query := `INSERT OR IGNORE INTO turns (id, conversation_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, turn.ID, conversationID, turn.Role, turn.Text, turn.CreatedAt); err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to insert turn: %w", err)
	}

	// Read back so a retried append returns the originally stored turn.
	row := s.db.QueryRowContext(ctx, `SELECT id, role, text, created_at FROM turns WHERE id = ?`, turn.ID)
	var stored conversation.Turn
	if err := row.Scan(&stored.ID, &stored.Role, &stored.Text, &stored.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return conversation.Turn{}, conversation.NotFoundError{ID: turn.ID}
		}
		return conversation.Turn{}, fmt.Errorf("failed to read back turn: %w", err)
	}

	return stored, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ conversation.Store = (*Store)(nil)

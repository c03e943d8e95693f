package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/google/uuid"
)

// LibSQLConversationStore persists session windows in the sessions and conversation_turns tables.
type LibSQLConversationStore struct {
	db         *sql.DB
	maxHistory int
	now        func() time.Time
}

// NewLibSQLConversationStore creates a store over a migrated database.
func NewLibSQLConversationStore(db *sql.DB, maxHistory int) *LibSQLConversationStore {
	if maxHistory < 1 {
		maxHistory = DefaultMaxHistory
	}
	return &LibSQLConversationStore{db: db, maxHistory: maxHistory, now: time.Now}
}

func (s *LibSQLConversationStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, created_at) VALUES (?, ?)`, id, s.timestamp()); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// AddTurn inserts the turn and trims older ones in the same transaction.
func (s *LibSQLConversationStore) AddTurn(ctx context.Context, sessionID, user, assistant string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := s.timestamp()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`, sessionID, ts); err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (session_id, user_message, assistant_message, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, user, assistant, ts); err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)
	`, sessionID, sessionID, s.maxHistory); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

func (s *LibSQLConversationStore) History(ctx context.Context, sessionID string) (string, error) {
	turns, err := s.Turns(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return ports.RenderHistory(turns), nil
}

// Turns loads the window oldest first.
func (s *LibSQLConversationStore) Turns(ctx context.Context, sessionID string) ([]ports.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_message, assistant_message, created_at FROM conversation_turns
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var (
			turn      ports.Turn
			createdAt string
		)
		if err := rows.Scan(&turn.User, &turn.Assistant, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			turn.CreatedAt = t
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

func (s *LibSQLConversationStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)

// ABOUTME: SQLite implementation of the Ledger using modernc.org/sqlite
// ABOUTME: Provides conversation and utterance persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_key TEXT NOT NULL,
			task TEXT NOT NULL,
			state TEXT NOT NULL,
			max_rounds INTEGER NOT NULL,
			rounds INTEGER NOT NULL DEFAULT 0,
			final_answer TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,

			CHECK (state IN ('running', 'terminated', 'rounds_exhausted', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner_started
			ON conversations(owner_key, started_at);

		CREATE TABLE IF NOT EXISTS utterances (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			display_role TEXT NOT NULL,
			text TEXT NOT NULL,
			hint TEXT NOT NULL,
			final INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_utterances_conversation_idx
			ON utterances(conversation_id, idx);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (id, owner_key, task, state, max_rounds, rounds, final_answer, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.OwnerKey, c.Task, c.State, c.MaxRounds, c.Rounds, c.FinalAnswer, c.Error,
		c.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// FinishConversation writes the terminal fields of a conversation.
func (s *SQLiteStore) FinishConversation(ctx context.Context, id string, end ConversationEnd) error {
	query := `
		UPDATE conversations
		SET state = ?, rounds = ?, final_answer = ?, error = ?, ended_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		end.State, end.Rounds, end.FinalAnswer, end.Error,
		end.EndedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, owner_key, task, state, max_rounds, rounds, final_answer, error, started_at, ended_at
		FROM conversations
		WHERE id = ?
	`
	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the newest conversations of an owner, newest first.
// limit <= 0 means 50.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerKey string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, owner_key, task, state, max_rounds, rounds, final_answer, error, started_at, ended_at
		FROM conversations
		WHERE owner_key = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, ownerKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// SaveUtterance appends one utterance to a conversation.
func (s *SQLiteStore) SaveUtterance(ctx context.Context, u *Utterance) error {
	query := `
		INSERT INTO utterances (id, conversation_id, idx, speaker, display_role, text, hint, final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	final := 0
	if u.Final {
		final = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.ConversationID, u.Index, u.Speaker, u.DisplayRole, u.Text, u.Hint, final,
		u.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting utterance: %w", err)
	}
	return nil
}

// GetUtterances returns the utterances of a conversation in round order.
func (s *SQLiteStore) GetUtterances(ctx context.Context, conversationID string) ([]*Utterance, error) {
	query := `
		SELECT id, conversation_id, idx, speaker, display_role, text, hint, final, created_at
		FROM utterances
		WHERE conversation_id = ?
		ORDER BY idx ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying utterances: %w", err)
	}
	defer rows.Close()

	var out []*Utterance
	for rows.Next() {
		var u Utterance
		var final int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.ConversationID, &u.Index, &u.Speaker, &u.DisplayRole,
			&u.Text, &u.Hint, &final, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning utterance: %w", err)
		}
		u.Final = final != 0
		u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating utterances: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerKey, &c.Task, &c.State, &c.MaxRounds, &c.Rounds,
		&c.FinalAnswer, &c.Error, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	var err error
	c.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		c.EndedAt = &t
	}
	return &c, nil
}

var _ Ledger = (*SQLiteStore)(nil)

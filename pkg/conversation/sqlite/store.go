// Package sqlite provides the SQLite implementation of the conversation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements conversation.Store on SQLite and also records new turns.
type Store struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing conversation turns.
	tableName string
}

// Config contains configuration for creating a SQLite conversation store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use (default: "conversations").
	TableName string
}

var _ conversation.Store = (*Store)(nil)

// NewStore creates a new SQLite conversation store.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Store: The store instance
//   - error: Error if database connection or table creation fails
func NewStore(cfg *Config) (*Store, error) {
	if cfg.TableName == "" {
		cfg.TableName = "conversations"
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:        db,
		tableName: cfg.TableName,
	}

	if err := store.initTable(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// initTable initializes the database table structure.
func (s *Store) initTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			user_message TEXT NOT NULL,
			ai_response TEXT,
			emotion_label TEXT,
			emotion_confidence REAL NOT NULL DEFAULT 0,
			is_meaningful INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at)
	`, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// SaveConversation records a turn and returns its ID.
func (s *Store) SaveConversation(ctx context.Context, c *conversation.Conversation) (int64, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, user_message, ai_response, emotion_label, emotion_confidence, is_meaningful, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	result, err := s.db.ExecContext(ctx, query,
		c.UserID, c.UserMessage, c.AIResponse, c.EmotionLabel, c.EmotionConfidence, c.Meaningful, createdAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to save conversation: %w", err)
	}
	return id, nil
}

// GetConversation implements conversation.Store.
func (s *Store) GetConversation(ctx context.Context, id int64) (*conversation.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, columns, s.tableName)

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListImportant implements conversation.Store.
func (s *Store) ListImportant(ctx context.Context, userID string, limit int) ([]*conversation.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = ?
		  AND (is_meaningful = 1 OR (emotion_label IS NOT NULL AND emotion_label != '' AND UPPER(emotion_label) != 'NEUTRAL'))
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, columns, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const columns = `id, user_id, user_message, ai_response, emotion_label, emotion_confidence, is_meaningful, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(scanner rowScanner) (*conversation.Conversation, error) {
	var c conversation.Conversation
	var aiResponse, label sql.NullString

	err := scanner.Scan(&c.ID, &c.UserID, &c.UserMessage, &aiResponse, &label,
		&c.EmotionConfidence, &c.Meaningful, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.AIResponse = aiResponse.String
	c.EmotionLabel = label.String
	return &c, nil
}

// Package sqlite provides the SQLite implementation of the fragment store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Related keywords are stored as JSON strings in
// TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
	_ "github.com/mattn/go-sqlite3"
)

// Client implements FragmentStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing fragments.
	collectionName string
}

// Config contains configuration for creating a SQLite FragmentStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string
}

// NewClient creates a new SQLite FragmentStore client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memory_fragments"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_text TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance_score REAL NOT NULL DEFAULT 0,
			related_keywords TEXT,
			source_conversation_id INTEGER,
			created_at DATETIME NOT NULL,
			last_accessed DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, c.collectionName, c.collectionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_rank ON %s(user_id, importance_score, last_accessed)`,
			c.collectionName, c.collectionName),
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Insert inserts a fragment into the SQLite database.
func (c *Client) Insert(ctx context.Context, f *storage.Fragment) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, memory_text, memory_type, importance_score, related_keywords,
		 source_conversation_id, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	keywords, err := storage.EncodeKeywords(f.RelatedKeywords)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		f.ID,
		f.UserID,
		f.Text,
		string(f.Type),
		f.ImportanceScore,
		keywords,
		f.SourceConversationID,
		f.CreatedAt.UTC(),
		f.LastAccessed.UTC(),
		f.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Get retrieves a fragment of a user by ID.
func (c *Client) Get(ctx context.Context, userID string, id int64) (*storage.Fragment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = ? AND user_id = ?
	`, selectColumns, c.collectionName)

	f, err := scanFragment(c.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrFragmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return f, nil
}

// Query lists fragments of a user with optional filters and pagination.
func (c *Client) Query(ctx context.Context, opts *storage.QueryOptions) ([]*storage.Fragment, error) {
	whereClause, args := buildWhereClause(opts)

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY %s
	`, selectColumns, c.collectionName, whereClause, orderClause(opts.Order))

	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fragments []*storage.Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	return fragments, nil
}

// Count returns the number of fragments owned by a user.
func (c *Client) Count(ctx context.Context, userID string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = ?", c.collectionName)

	var n int64
	if err := c.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// EvictionCandidates returns the n least important, least recently accessed fragments.
func (c *Client) EvictionCandidates(ctx context.Context, userID string, n int) ([]storage.EvictionCandidate, error) {
	if n <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, importance_score, last_accessed FROM %s
		WHERE user_id = ?
		ORDER BY importance_score ASC, last_accessed ASC, id ASC
		LIMIT ?
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, userID, n)
	if err != nil {
		return nil, fmt.Errorf("EvictionCandidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []storage.EvictionCandidate
	for rows.Next() {
		var cand storage.EvictionCandidate
		if err := rows.Scan(&cand.FragmentID, &cand.ImportanceScore, &cand.LastAccessed); err != nil {
			return nil, fmt.Errorf("EvictionCandidates: %w", err)
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EvictionCandidates: %w", err)
	}

	return candidates, nil
}

// UpdateImportance overwrites the importance score of a fragment.
func (c *Client) UpdateImportance(ctx context.Context, userID string, id int64, score float64) error {
	query := fmt.Sprintf("UPDATE %s SET importance_score = ? WHERE id = ? AND user_id = ?", c.collectionName)
	return c.execOne(ctx, "UpdateImportance", query, storage.ClampImportance(score), id, userID)
}

// RecordAccess bumps the access count and last access time of a fragment.
func (c *Client) RecordAccess(ctx context.Context, userID string, id int64, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ? AND user_id = ?
	`, c.collectionName)
	return c.execOne(ctx, "RecordAccess", query, at.UTC(), id, userID)
}

// Delete deletes a fragment of a user.
func (c *Client) Delete(ctx context.Context, userID string, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?", c.collectionName)
	return c.execOne(ctx, "Delete", query, id, userID)
}

// DeleteAll deletes all fragments of a user.
func (c *Client) DeleteAll(ctx context.Context, userID string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("DeleteAll: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteAll: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// execOne runs a statement that must affect exactly one owned row.
func (c *Client) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrFragmentNotFound)
	}

	return nil
}

package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Client is an OceanBase client speaking the MySQL protocol.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memory_fragments"
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			memory_text TEXT NOT NULL,
			memory_type VARCHAR(32) NOT NULL,
			importance_score DOUBLE NOT NULL DEFAULT 0,
			related_keywords JSON,
			source_conversation_id BIGINT,
			created_at DATETIME(6) NOT NULL,
			last_accessed DATETIME(6) NOT NULL,
			access_count INT NOT NULL DEFAULT 0,
			content_hash VARCHAR(32),
			INDEX idx_user_rank (user_id, importance_score, last_accessed)
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a fragment.
func (c *Client) Insert(ctx context.Context, f *storage.Fragment) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, memory_text, memory_type, importance_score, related_keywords,
		 source_conversation_id, created_at, last_accessed, access_count, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	keywords, err := storage.EncodeKeywords(f.RelatedKeywords)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		f.ID, f.UserID, f.Text, string(f.Type), f.ImportanceScore, keywords,
		f.SourceConversationID, f.CreatedAt.UTC(), f.LastAccessed.UTC(), f.AccessCount,
		generateHash(f.Text),
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Get retrieves a fragment by ID.
func (c *Client) Get(ctx context.Context, userID string, id int64) (*storage.Fragment, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND user_id = ?", selectColumns, c.collectionName)

	f, err := scanFragment(c.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrFragmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return f, nil
}

// Query lists fragments of a user.
func (c *Client) Query(ctx context.Context, opts *storage.QueryOptions) ([]*storage.Fragment, error) {
	whereClause, args := buildWhereClause(opts)

	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s",
		selectColumns, c.collectionName, whereClause, orderClause(opts.Order))

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

// Count returns the number of fragments of a user.
func (c *Client) Count(ctx context.Context, userID string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = ?", c.collectionName)

	var n int64
	if err := c.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// EvictionCandidates returns the n lowest-ranked fragments of a user.
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

	return candidates, rows.Err()
}

// UpdateImportance overwrites the importance score.
func (c *Client) UpdateImportance(ctx context.Context, userID string, id int64, score float64) error {
	query := fmt.Sprintf("UPDATE %s SET importance_score = ? WHERE id = ? AND user_id = ?", c.collectionName)
	return c.execOne(ctx, "UpdateImportance", query, storage.ClampImportance(score), id, userID)
}

// RecordAccess bumps access bookkeeping.
func (c *Client) RecordAccess(ctx context.Context, userID string, id int64, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ? AND user_id = ?
	`, c.collectionName)
	return c.execOne(ctx, "RecordAccess", query, at.UTC(), id, userID)
}

// Delete deletes a fragment.
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

// Close closes the connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// execOne runs a statement that must match exactly one owned row.
// The DSN sets clientFoundRows so no-op updates still count as matched.
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

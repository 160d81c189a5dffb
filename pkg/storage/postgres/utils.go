package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

const selectColumns = `id, user_id, memory_text, memory_type, importance_score, related_keywords::text,
	source_conversation_id, created_at, last_accessed, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// buildWhereClause builds a WHERE clause with numbered placeholders starting at $1.
func buildWhereClause(opts *storage.QueryOptions) (string, []interface{}) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{opts.UserID}

	if opts.Type != nil {
		args = append(args, string(*opts.Type))
		conditions = append(conditions, fmt.Sprintf("memory_type = $%d", len(args)))
	}

	if opts.Keyword != "" {
		args = append(args, "%"+opts.Keyword+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(memory_text ILIKE $%d OR related_keywords::text ILIKE $%d)", n, n))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func orderClause(order storage.Order) string {
	if order == storage.OrderRecent {
		return "created_at DESC, id DESC"
	}
	return "importance_score DESC, last_accessed DESC, id ASC"
}

func scanFragment(scanner rowScanner) (*storage.Fragment, error) {
	var f storage.Fragment
	var typ string
	var keywords sql.NullString
	var source sql.NullInt64

	err := scanner.Scan(
		&f.ID, &f.UserID, &f.Text, &typ, &f.ImportanceScore, &keywords,
		&source, &f.CreatedAt, &f.LastAccessed, &f.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	if f.Type, err = storage.ParseFragmentType(typ); err != nil {
		return nil, err
	}
	if f.RelatedKeywords, err = storage.DecodeKeywords(keywords.String); err != nil {
		return nil, err
	}
	f.SourceConversationID = source.Int64

	return &f, nil
}

package sqlite

import (
	"database/sql"
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

const selectColumns = `id, user_id, memory_text, memory_type, importance_score, related_keywords,
	source_conversation_id, created_at, last_accessed, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// buildWhereClause builds the WHERE clause for a user-scoped query.
func buildWhereClause(opts *storage.QueryOptions) (string, []interface{}) {
	conditions := []string{"user_id = ?"}
	args := []interface{}{opts.UserID}

	if opts.Type != nil {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, string(*opts.Type))
	}

	if opts.Keyword != "" {
		conditions = append(conditions, "(memory_text LIKE ? OR related_keywords LIKE ?)")
		pattern := "%" + opts.Keyword + "%"
		args = append(args, pattern, pattern)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func orderClause(order storage.Order) string {
	if order == storage.OrderRecent {
		return "created_at DESC, id DESC"
	}
	return "importance_score DESC, last_accessed DESC, id ASC"
}

// scanFragment scans a fragment from a database row or rows.
func scanFragment(scanner rowScanner) (*storage.Fragment, error) {
	var f storage.Fragment
	var typ string
	var keywords sql.NullString
	var source *int64

	err := scanner.Scan(
		&f.ID,
		&f.UserID,
		&f.Text,
		&typ,
		&f.ImportanceScore,
		&keywords,
		&source,
		&f.CreatedAt,
		&f.LastAccessed,
		&f.AccessCount,
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
	if source != nil {
		f.SourceConversationID = *source
	}

	return &f, nil
}

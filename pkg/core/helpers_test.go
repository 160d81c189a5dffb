package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	"github.com/linke370/elysia-ai-companion/pkg/core"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
	sqliteStore "github.com/linke370/elysia-ai-companion/pkg/storage/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memConversations is an in-memory conversation.Store.
type memConversations struct {
	mu     sync.Mutex
	turns  map[int64]*conversation.Conversation
	nextID int64
}

func newMemConversations() *memConversations {
	return &memConversations{turns: make(map[int64]*conversation.Conversation)}
}

func (m *memConversations) add(c conversation.Conversation) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.turns[c.ID] = &c
	return c.ID
}

func (m *memConversations) GetConversation(_ context.Context, id int64) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.turns[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) ListImportant(_ context.Context, userID string, limit int) ([]*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*conversation.Conversation
	for _, c := range m.turns {
		if c.UserID != userID {
			continue
		}
		if c.Meaningful || (c.EmotionLabel != "" && !intelligence.IsNeutral(c.EmotionLabel)) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// flakyStore fails selected operations of a real store.
type flakyStore struct {
	storage.FragmentStore

	mu       sync.Mutex
	failText string
	attempts int
	queryErr error
}

func (s *flakyStore) Insert(ctx context.Context, f *storage.Fragment) error {
	s.mu.Lock()
	if f.Text == s.failText {
		s.attempts++
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.FragmentStore.Insert(ctx, f)
}

func (s *flakyStore) Query(ctx context.Context, opts *storage.QueryOptions) ([]*storage.Fragment, error) {
	s.mu.Lock()
	err := s.queryErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.FragmentStore.Query(ctx, opts)
}

func newSQLiteStore(t *testing.T) *sqliteStore.Client {
	t.Helper()
	store, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: filepath.Join(t.TempDir(), "memory.db")})
	require.NoError(t, err)
	return store
}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Store.SQLite.DBPath = filepath.Join(t.TempDir(), "memory.db")
	return cfg
}

// newTestClient builds a client on a temporary SQLite store. Extra options
// are applied after the defaults and may replace them.
func newTestClient(t *testing.T, cfg *core.Config, opts ...core.ClientOption) *core.Client {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	base := []core.ClientOption{core.WithLogger(zerolog.Nop())}
	client, err := core.NewClient(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func turn(userID, message, label string, confidence float64) *conversation.Conversation {
	return &conversation.Conversation{
		UserID:            userID,
		UserMessage:       message,
		EmotionLabel:      label,
		EmotionConfidence: confidence,
	}
}

func fragmentTexts(frags []*core.Fragment) []string {
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.Text)
	}
	return out
}

func byText(frags []*core.Fragment, text string) *core.Fragment {
	for _, f := range frags {
		if f.Text == text {
			return f
		}
	}
	return nil
}

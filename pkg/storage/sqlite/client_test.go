package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
	sqliteStore "github.com/linke370/elysia-ai-companion/pkg/storage/sqlite"
	"github.com/linke370/elysia-ai-companion/pkg/storage/storagetest"
)

func TestSQLiteClient(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.FragmentStore {
		store, err := sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         filepath.Join(t.TempDir(), "memory.db"),
			CollectionName: "fragments",
		})
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteClient_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "memory.db")

	store, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.FileExists(t, path)
}

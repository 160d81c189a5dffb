package oceanbase_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
	oceanbaseStore "github.com/linke370/elysia-ai-companion/pkg/storage/oceanbase"
	"github.com/linke370/elysia-ai-companion/pkg/storage/storagetest"
)

func TestOceanBaseClient(t *testing.T) {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_HOST not set")
	}

	port := 2881
	if s := os.Getenv("OCEANBASE_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			t.Skipf("Skipping OceanBase test: invalid OCEANBASE_PORT: %s", s)
		}
		port = p
	}

	cfg := &oceanbaseStore.Config{
		Host:           host,
		Port:           port,
		User:           os.Getenv("OCEANBASE_USER"),
		Password:       os.Getenv("OCEANBASE_PASSWORD"),
		DBName:         os.Getenv("OCEANBASE_DATABASE"),
		CollectionName: "test_memory_fragments",
	}
	if cfg.User == "" {
		cfg.User = "root@sys"
	}
	if cfg.DBName == "" {
		cfg.DBName = "elysia_test"
	}

	storagetest.Run(t, func(t *testing.T) storage.FragmentStore {
		store, err := oceanbaseStore.NewClient(cfg)
		if err != nil {
			t.Skipf("Skipping OceanBase test: %v", err)
		}
		for _, user := range []string{"u1", "u2"} {
			_, err := store.DeleteAll(context.Background(), user)
			require.NoError(t, err)
		}
		return store
	})
}

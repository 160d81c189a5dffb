package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
	postgresStore "github.com/linke370/elysia-ai-companion/pkg/storage/postgres"
	"github.com/linke370/elysia-ai-companion/pkg/storage/storagetest"
)

func loadConfig(t *testing.T) *postgresStore.Config {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	port := 5432
	if s := os.Getenv("POSTGRES_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %s", s)
		}
		port = p
	}

	cfg := &postgresStore.Config{
		Host:           os.Getenv("POSTGRES_HOST"),
		Port:           port,
		User:           os.Getenv("POSTGRES_USER"),
		Password:       password,
		DBName:         os.Getenv("POSTGRES_DATABASE"),
		CollectionName: "test_memory_fragments",
		SSLMode:        os.Getenv("POSTGRES_SSLMODE"),
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}
	if cfg.DBName == "" {
		cfg.DBName = "elysia_test"
	}
	return cfg
}

func TestPostgresClient(t *testing.T) {
	cfg := loadConfig(t)

	storagetest.Run(t, func(t *testing.T) storage.FragmentStore {
		store, err := postgresStore.NewClient(cfg)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: %v", err)
		}
		for _, user := range []string{"u1", "u2"} {
			_, err := store.DeleteAll(context.Background(), user)
			require.NoError(t, err)
		}
		return store
	})
}

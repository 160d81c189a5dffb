package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memory client.
//
// It includes settings for:
//   - Fragment store (sqlite, postgres or oceanbase)
//   - Cache tiers (process-local and Redis)
//   - Extraction, eviction and retrieval policy
//   - Emotion classification for unlabelled turns
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Store.SQLite.DBPath = "./memories.db"
//	config.Cache.RedisAddr = "localhost:6379"
type Config struct {
	// Store contains fragment store configuration.
	Store StoreConfig `json:"store"`

	// Conversations contains the conversation store configuration.
	Conversations ConversationConfig `json:"conversations"`

	// Cache contains cache tier configuration.
	Cache CacheConfig `json:"cache"`

	// Policy contains the tuning parameters of extraction, eviction and retrieval.
	Policy PolicyConfig `json:"policy"`

	// Emotion contains emotion classifier configuration.
	Emotion EmotionConfig `json:"emotion"`

	// Log contains logger configuration.
	Log LogConfig `json:"log"`

	// Metrics contains metrics endpoint configuration.
	Metrics MetricsConfig `json:"metrics"`

	// NodeID seeds the snowflake fragment ID generator (0-1023). Each process
	// writing to the same store needs its own.
	NodeID int64 `json:"node_id"`
}

// StoreConfig selects and configures the fragment store.
//
// Supported providers: sqlite, postgres, oceanbase
type StoreConfig struct {
	Provider  string          `json:"provider"`
	SQLite    SQLiteConfig    `json:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres"`
	OceanBase OceanBaseConfig `json:"oceanbase"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	DBPath         string `json:"db_path"`
	CollectionName string `json:"collection_name"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DBName         string `json:"db_name"`
	CollectionName string `json:"collection_name"`
	SSLMode        string `json:"ssl_mode"`
}

// OceanBaseConfig configures the OceanBase (MySQL protocol) store.
type OceanBaseConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DBName         string `json:"db_name"`
	CollectionName string `json:"collection_name"`
}

// ConversationConfig configures the built-in SQLite conversation store.
// Leave DBPath empty to supply a store with WithConversationStore.
type ConversationConfig struct {
	DBPath    string `json:"db_path"`
	TableName string `json:"table_name"`
}

// CacheConfig configures the cache tiers.
type CacheConfig struct {
	// LocalEnabled turns on the process-local tier.
	LocalEnabled bool `json:"local_enabled"`

	// LocalCapacity is the per-user list size of the local tier.
	LocalCapacity int `json:"local_capacity"`

	// LocalMaxUsers bounds how many users the local tier holds.
	LocalMaxUsers int `json:"local_max_users"`

	// LocalMaxStaleness is how long a local list is trusted; zero means until evicted.
	LocalMaxStaleness time.Duration `json:"local_max_staleness"`

	// RedisAddr enables the distributed tier when set.
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db"`

	// DistributedCapacity is the per-user active set size in Redis.
	DistributedCapacity int `json:"distributed_capacity"`

	ActiveTTL    time.Duration `json:"active_ttl"`
	ContextTTL   time.Duration `json:"context_ttl"`
	ImportantTTL time.Duration `json:"important_ttl"`

	// ImportantThreshold selects the long-lived important subset.
	ImportantThreshold float64 `json:"important_threshold"`
	ImportantLimit     int     `json:"important_limit"`

	// OpTimeout bounds each Redis call.
	OpTimeout time.Duration `json:"op_timeout"`

	// AsyncTimeout bounds background cache writes and access bookkeeping.
	AsyncTimeout time.Duration `json:"async_timeout"`

	// QueueSize bounds pending background cache writes.
	QueueSize int `json:"queue_size"`
}

// PolicyConfig contains the tunable thresholds.
type PolicyConfig struct {
	// GlobalCap is the maximum number of persisted fragments per user.
	GlobalCap int `json:"global_cap"`

	// GateConfidence admits turns whose emotion confidence exceeds it.
	GateConfidence float64 `json:"gate_confidence"`

	// GateLength admits turns whose message is longer than this many characters.
	GateLength int `json:"gate_length"`

	// DefaultK is the number of fragments GetContextual returns by default.
	DefaultK int `json:"default_k"`

	// RelevanceThreshold is the minimum relevance of a returned fragment.
	RelevanceThreshold float64 `json:"relevance_threshold"`

	// OverlapCap bounds how many matching query tokens count towards relevance.
	OverlapCap int `json:"overlap_cap"`

	// RecencyWindow is how recent an access must be to earn the recency bonus.
	RecencyWindow time.Duration `json:"recency_window"`

	// PersistRetries is how many times a failed insert is retried.
	PersistRetries int `json:"persist_retries"`

	// HistoricalLimit bounds how many past turns ExtractHistorical reads.
	HistoricalLimit int `json:"historical_limit"`
}

// EmotionConfig configures the classifier used for turns without an emotion label.
//
// Supported providers: keyword, openai, none
type EmotionConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig configures the Prometheus endpoint served by the CLI.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// DefaultConfig returns a configuration backed by a local SQLite file with the
// process-local cache enabled and Redis disabled.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Provider: "sqlite",
			SQLite: SQLiteConfig{
				DBPath:         "./elysia_memory.db",
				CollectionName: "memory_fragments",
			},
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				User:           "postgres",
				DBName:         "elysia",
				CollectionName: "memory_fragments",
				SSLMode:        "disable",
			},
			OceanBase: OceanBaseConfig{
				Host:           "127.0.0.1",
				Port:           2881,
				User:           "root@sys",
				DBName:         "elysia",
				CollectionName: "memory_fragments",
			},
		},
		Conversations: ConversationConfig{
			TableName: "conversations",
		},
		Cache: CacheConfig{
			LocalEnabled:        true,
			LocalCapacity:       30,
			LocalMaxUsers:       10000,
			LocalMaxStaleness:   time.Hour,
			DistributedCapacity: 50,
			ActiveTTL:           time.Hour,
			ContextTTL:          30 * time.Minute,
			ImportantTTL:        7 * 24 * time.Hour,
			ImportantThreshold:  0.7,
			ImportantLimit:      10,
			OpTimeout:           50 * time.Millisecond,
			AsyncTimeout:        2 * time.Second,
			QueueSize:           1024,
		},
		Policy: PolicyConfig{
			GlobalCap:          100,
			GateConfidence:     0.7,
			GateLength:         20,
			DefaultK:           5,
			RelevanceThreshold: 0.2,
			OverlapCap:         3,
			RecencyWindow:      7 * 24 * time.Hour,
			PersistRetries:     1,
			HistoricalLimit:    50,
		},
		Emotion: EmotionConfig{
			Provider: "keyword",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		NodeID: 1,
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overlays environment variables on DefaultConfig
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_COLLECTION, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE, OCEANBASE_COLLECTION
//   - CONVERSATION_DB_PATH, CONVERSATION_TABLE
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, MEMORY_LOCAL_CACHE (true/false)
//   - MEMORY_LOCAL_CAPACITY, MEMORY_DISTRIBUTED_CAPACITY, MEMORY_LOCAL_MAX_STALENESS
//   - MEMORY_ACTIVE_TTL, MEMORY_CONTEXT_TTL, MEMORY_IMPORTANT_TTL, MEMORY_CACHE_TIMEOUT
//   - MEMORY_GLOBAL_CAP, MEMORY_DEFAULT_K, MEMORY_RELEVANCE_THRESHOLD
//   - EMOTION_PROVIDER (keyword, openai, none), LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - LOG_LEVEL, LOG_FORMAT, METRICS_ADDR, MEMORY_NODE_ID
//
// Returns a Config instance, or an error if a variable cannot be parsed.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()
	p := &envParser{}

	config.Store.Provider = getEnvOrDefault("DATABASE_PROVIDER", config.Store.Provider)

	config.Store.SQLite.DBPath = getEnvOrDefault("SQLITE_PATH", config.Store.SQLite.DBPath)
	config.Store.SQLite.CollectionName = getEnvOrDefault("SQLITE_COLLECTION", config.Store.SQLite.CollectionName)

	pg := &config.Store.Postgres
	pg.Host = getEnvOrDefault("POSTGRES_HOST", pg.Host)
	pg.Port = p.intVar("POSTGRES_PORT", pg.Port)
	pg.User = getEnvOrDefault("POSTGRES_USER", pg.User)
	pg.Password = os.Getenv("POSTGRES_PASSWORD")
	pg.DBName = getEnvOrDefault("POSTGRES_DATABASE", pg.DBName)
	pg.CollectionName = getEnvOrDefault("POSTGRES_COLLECTION", pg.CollectionName)
	pg.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", pg.SSLMode)

	ob := &config.Store.OceanBase
	ob.Host = getEnvOrDefault("OCEANBASE_HOST", ob.Host)
	ob.Port = p.intVar("OCEANBASE_PORT", ob.Port)
	ob.User = getEnvOrDefault("OCEANBASE_USER", ob.User)
	ob.Password = os.Getenv("OCEANBASE_PASSWORD")
	ob.DBName = getEnvOrDefault("OCEANBASE_DATABASE", ob.DBName)
	ob.CollectionName = getEnvOrDefault("OCEANBASE_COLLECTION", ob.CollectionName)

	config.Conversations.DBPath = getEnvOrDefault("CONVERSATION_DB_PATH", config.Conversations.DBPath)
	config.Conversations.TableName = getEnvOrDefault("CONVERSATION_TABLE", config.Conversations.TableName)

	cc := &config.Cache
	cc.LocalEnabled = p.boolVar("MEMORY_LOCAL_CACHE", cc.LocalEnabled)
	cc.LocalCapacity = p.intVar("MEMORY_LOCAL_CAPACITY", cc.LocalCapacity)
	cc.LocalMaxStaleness = p.durationVar("MEMORY_LOCAL_MAX_STALENESS", cc.LocalMaxStaleness)
	cc.RedisAddr = getEnvOrDefault("REDIS_ADDR", cc.RedisAddr)
	cc.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cc.RedisDB = p.intVar("REDIS_DB", cc.RedisDB)
	cc.DistributedCapacity = p.intVar("MEMORY_DISTRIBUTED_CAPACITY", cc.DistributedCapacity)
	cc.ActiveTTL = p.durationVar("MEMORY_ACTIVE_TTL", cc.ActiveTTL)
	cc.ContextTTL = p.durationVar("MEMORY_CONTEXT_TTL", cc.ContextTTL)
	cc.ImportantTTL = p.durationVar("MEMORY_IMPORTANT_TTL", cc.ImportantTTL)
	cc.OpTimeout = p.durationVar("MEMORY_CACHE_TIMEOUT", cc.OpTimeout)

	pc := &config.Policy
	pc.GlobalCap = p.intVar("MEMORY_GLOBAL_CAP", pc.GlobalCap)
	pc.DefaultK = p.intVar("MEMORY_DEFAULT_K", pc.DefaultK)
	pc.RelevanceThreshold = p.floatVar("MEMORY_RELEVANCE_THRESHOLD", pc.RelevanceThreshold)

	config.Emotion.Provider = getEnvOrDefault("EMOTION_PROVIDER", config.Emotion.Provider)
	config.Emotion.APIKey = os.Getenv("LLM_API_KEY")
	config.Emotion.Model = os.Getenv("LLM_MODEL")
	config.Emotion.BaseURL = os.Getenv("LLM_BASE_URL")

	config.Log.Level = getEnvOrDefault("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnvOrDefault("LOG_FORMAT", config.Log.Format)
	config.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", config.Metrics.Addr)
	config.NodeID = int64(p.intVar("MEMORY_NODE_ID", int(config.NodeID)))

	if p.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", p.err)
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields missing
// from the file keep their DefaultConfig values. Durations are written as
// Go duration strings ("90m") or integer nanoseconds.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// jsonDuration decodes a duration from a Go duration string or from integer
// nanoseconds, the encoding/json default for time.Duration. null keeps the
// current value.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		*d = jsonDuration(parsed)
	case float64:
		*d = jsonDuration(time.Duration(x))
	default:
		return fmt.Errorf("%w: invalid duration %s", ErrInvalidConfig, data)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so durations accept strings.
func (c *CacheConfig) UnmarshalJSON(data []byte) error {
	type plain CacheConfig
	aux := struct {
		*plain
		LocalMaxStaleness *jsonDuration `json:"local_max_staleness"`
		ActiveTTL         *jsonDuration `json:"active_ttl"`
		ContextTTL        *jsonDuration `json:"context_ttl"`
		ImportantTTL      *jsonDuration `json:"important_ttl"`
		OpTimeout         *jsonDuration `json:"op_timeout"`
		AsyncTimeout      *jsonDuration `json:"async_timeout"`
	}{
		plain:             (*plain)(c),
		LocalMaxStaleness: (*jsonDuration)(&c.LocalMaxStaleness),
		ActiveTTL:         (*jsonDuration)(&c.ActiveTTL),
		ContextTTL:        (*jsonDuration)(&c.ContextTTL),
		ImportantTTL:      (*jsonDuration)(&c.ImportantTTL),
		OpTimeout:         (*jsonDuration)(&c.OpTimeout),
		AsyncTimeout:      (*jsonDuration)(&c.AsyncTimeout),
	}
	return json.Unmarshal(data, &aux)
}

// UnmarshalJSON implements json.Unmarshaler so durations accept strings.
func (c *PolicyConfig) UnmarshalJSON(data []byte) error {
	type plain PolicyConfig
	aux := struct {
		*plain
		RecencyWindow *jsonDuration `json:"recency_window"`
	}{
		plain:         (*plain)(c),
		RecencyWindow: (*jsonDuration)(&c.RecencyWindow),
	}
	return json.Unmarshal(data, &aux)
}

// Validate validates the configuration.
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch c.Store.Provider {
	case "sqlite":
		if c.Store.SQLite.DBPath == "" {
			return invalid("sqlite db_path is required")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			return invalid("postgres host and db_name are required")
		}
	case "oceanbase":
		if c.Store.OceanBase.Host == "" || c.Store.OceanBase.DBName == "" {
			return invalid("oceanbase host and db_name are required")
		}
	default:
		return invalid("unknown store provider %q", c.Store.Provider)
	}

	switch c.Emotion.Provider {
	case "", "none", "keyword":
	case "openai":
		if c.Emotion.APIKey == "" {
			return invalid("openai emotion provider needs an api key")
		}
	default:
		return invalid("unknown emotion provider %q", c.Emotion.Provider)
	}

	if c.Policy.GlobalCap <= 0 {
		return invalid("global_cap must be positive")
	}
	if c.Policy.DefaultK <= 0 {
		return invalid("default_k must be positive")
	}
	if c.Policy.RelevanceThreshold < 0 || c.Policy.GateConfidence < 0 || c.Policy.GateConfidence > 1 {
		return invalid("thresholds out of range")
	}
	if c.Cache.LocalEnabled && c.Cache.LocalCapacity <= 0 {
		return invalid("local_capacity must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return invalid("node_id must be in [0, 1023]")
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser parses typed variables and keeps the first error.
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
}

func (p *envParser) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *envParser) floatVar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *envParser) boolVar(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *envParser) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

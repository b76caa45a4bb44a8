// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.indigo/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive fields (postgres password, places API key) are masked in
// MarshalJSON so a Config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidCrawlDepth indicates the crawl depth is out of range.
	ErrInvalidCrawlDepth = errors.New("invalid crawl depth")

	// ErrInvalidHostDelay indicates the per-host delay is negative.
	ErrInvalidHostDelay = errors.New("invalid per-host delay")

	// ErrInvalidRetries indicates the retry count is out of range.
	ErrInvalidRetries = errors.New("invalid retry count")

	// ErrInvalidParallelism indicates the crawl worker count is out of range.
	ErrInvalidParallelism = errors.New("invalid crawl parallelism")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunk configuration")

	// ErrInvalidCacheTTL indicates the cache TTL is negative.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")
)

// DefaultEmbedderModel is the default Gemini embedder model.
// Output is truncated to 768 dimensions to match the pgvector schema.
const DefaultEmbedderModel = "gemini-embedding-001"

// CrawlConfig holds crawler and fetcher settings.
type CrawlConfig struct {
	// MaxDepth is the link-following depth for seed URLs. Depth 0 fetches
	// only the seeds themselves.
	MaxDepth int `mapstructure:"max_depth" json:"max_depth"`

	// HostDelayMs is the minimum spacing between requests to one host.
	HostDelayMs int `mapstructure:"host_delay_ms" json:"host_delay_ms"`

	// TimeoutMs is the per-request fetch timeout.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`

	// MaxRetries is the number of retries after a transient fetch failure.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`

	// Parallelism bounds the number of concurrent fetch workers.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
}

// HostDelay returns the per-host delay as a duration.
func (c CrawlConfig) HostDelay() time.Duration {
	return time.Duration(c.HostDelayMs) * time.Millisecond
}

// Timeout returns the fetch timeout as a duration.
func (c CrawlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ChunkConfig holds document splitting settings.
type ChunkConfig struct {
	Size    int `mapstructure:"size" json:"size"`
	Overlap int `mapstructure:"overlap" json:"overlap"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds" json:"ttl_seconds"`
}

// TTL returns the cache entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Pipeline configuration
	Crawl CrawlConfig `mapstructure:"crawl" json:"crawl"`
	Chunk ChunkConfig `mapstructure:"chunk" json:"chunk"`
	Cache CacheConfig `mapstructure:"cache" json:"cache"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Places lookup configuration
	PlacesAPIKey string `mapstructure:"places_api_key" json:"places_api_key"` // SENSITIVE: masked in MarshalJSON

	// StateDir holds the crawl lock file.
	StateDir string `mapstructure:"state_dir" json:"state_dir"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".indigo")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	// AI defaults
	v.SetDefault("provider", "gemini")
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	// Crawler defaults mirror polite-crawling behavior: one request per
	// host per second, a handful of retries, bounded workers.
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.host_delay_ms", 1000)
	v.SetDefault("crawl.timeout_ms", 20000)
	v.SetDefault("crawl.max_retries", 4)
	v.SetDefault("crawl.parallelism", 4)

	// Chunking defaults
	v.SetDefault("chunk.size", 2000)
	v.SetDefault("chunk.overlap", 200)

	// Cache defaults
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_seconds", 24*60*60)

	// Retrieval defaults
	v.SetDefault("top_k", 5)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "indigo")
	v.SetDefault("postgres_password", "indigo_dev_password")
	v.SetDefault("postgres_db_name", "indigo")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("state_dir", configDir)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via viper; its presence
// is checked in Validate.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("places_api_key", "GPLACES_API_KEY")
	mustBind("cache.redis_addr", "INDIGO_REDIS_ADDR")
	mustBind("cache.redis_password", "INDIGO_REDIS_PASSWORD")
	mustBind("provider", "INDIGO_PROVIDER")
	mustBind("model_name", "INDIGO_MODEL_NAME")
}

// parseDatabaseURL overrides the PostgreSQL settings from DATABASE_URL
// when set. Takes priority over both config file and individual defaults.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			c.PostgresPassword = pass
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate checks the configuration for out-of-range values. Fail-fast:
// called from Load before any component sees the config.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.Crawl.MaxDepth < 0 || c.Crawl.MaxDepth > 10 {
		return fmt.Errorf("%w: %d (want 0-10)", ErrInvalidCrawlDepth, c.Crawl.MaxDepth)
	}
	if c.Crawl.HostDelayMs < 0 {
		return fmt.Errorf("%w: %dms", ErrInvalidHostDelay, c.Crawl.HostDelayMs)
	}
	if c.Crawl.MaxRetries < 0 || c.Crawl.MaxRetries > 10 {
		return fmt.Errorf("%w: %d (want 0-10)", ErrInvalidRetries, c.Crawl.MaxRetries)
	}
	if c.Crawl.Parallelism < 1 || c.Crawl.Parallelism > 64 {
		return fmt.Errorf("%w: %d (want 1-64)", ErrInvalidParallelism, c.Crawl.Parallelism)
	}
	if c.Chunk.Size < 1 {
		return fmt.Errorf("%w: size %d", ErrInvalidChunking, c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidChunking, c.Chunk.Overlap)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("%w: %ds", ErrInvalidCacheTTL, c.Cache.TTLSeconds)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	return nil
}

// ConnString returns the pgx connection string for the configured database.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 chars or
// fewer are fully masked to avoid substring leaks.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.PlacesAPIKey = maskSecret(a.PlacesAPIKey)
	a.Cache.RedisPassword = maskSecret(a.Cache.RedisPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Supported storage backends
const (
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"
	StorageDynamoDB   = "dynamodb"
)

// Config holds all configuration for the application
type Config struct {
	Storage StorageConfig
	Remote  RemoteConfig
	Feed    FeedConfig
	Server  ServerConfig
	Log     LogConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type          string `toml:"type"` // "sqlite", "postgresql", "mongodb", "dynamodb"
	SQLitePath    string `toml:"sqlite_path"`
	PostgresURI   string `toml:"postgres_uri"`
	MongoDBURI    string `toml:"mongodb_uri"`
	MongoDatabase string `toml:"mongodb_database"`
	Region        string `toml:"region"` // For AWS DynamoDB
	TableName     string `toml:"table_name"`
	Endpoint      string `toml:"endpoint"` // Custom endpoint for local testing
}

// RemoteConfig holds settings for the posts API
type RemoteConfig struct {
	BaseURL   string
	PostsPath string
	UsersPath string
	Timeout   time.Duration
}

// FeedConfig holds feed controller settings
type FeedConfig struct {
	// RefreshInterval triggers a forced refresh periodically; zero disables it
	RefreshInterval time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "text"
}

// fileConfig is the TOML layout; durations are strings such as "30s".
type fileConfig struct {
	Storage *StorageConfig `toml:"storage"`
	Remote  struct {
		BaseURL   string `toml:"base_url"`
		PostsPath string `toml:"posts_path"`
		UsersPath string `toml:"users_path"`
		Timeout   string `toml:"timeout"`
	} `toml:"remote"`
	Feed struct {
		RefreshInterval string `toml:"refresh_interval"`
	} `toml:"feed"`
	Server struct {
		Port         int    `toml:"port"`
		ReadTimeout  string `toml:"read_timeout"`
		WriteTimeout string `toml:"write_timeout"`
	} `toml:"server"`
	Log *LogConfig `toml:"log"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:          StorageSQLite,
			SQLitePath:    "feed.db",
			MongoDatabase: "social_feed",
			Region:        "us-west-2",
			TableName:     "cached_posts",
		},
		Remote: RemoteConfig{
			BaseURL:   "https://jsonplaceholder.typicode.com",
			PostsPath: "/posts",
			UsersPath: "/users",
			Timeout:   30 * time.Second,
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from an optional .env file, an optional TOML file
// named by FEED_CONFIG_FILE, then environment variables, in increasing precedence.
func Load() (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("FEED_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Storage and Log decode in place so absent keys keep their defaults
	fc := fileConfig{Storage: &c.Storage, Log: &c.Log}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Remote.BaseURL, fc.Remote.BaseURL)
	setString(&c.Remote.PostsPath, fc.Remote.PostsPath)
	setString(&c.Remote.UsersPath, fc.Remote.UsersPath)
	if fc.Server.Port != 0 {
		c.Server.Port = fc.Server.Port
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"remote.timeout", fc.Remote.Timeout, &c.Remote.Timeout},
		{"feed.refresh_interval", fc.Feed.RefreshInterval, &c.Feed.RefreshInterval},
		{"server.read_timeout", fc.Server.ReadTimeout, &c.Server.ReadTimeout},
		{"server.write_timeout", fc.Server.WriteTimeout, &c.Server.WriteTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.name, path, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func (c *Config) applyEnv() {
	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresURI = getEnv("POSTGRES_URI", c.Storage.PostgresURI)
	c.Storage.MongoDBURI = getEnv("MONGODB_URI", c.Storage.MongoDBURI)
	c.Storage.MongoDatabase = getEnv("MONGODB_DATABASE", c.Storage.MongoDatabase)
	c.Storage.Region = getEnv("AWS_REGION", c.Storage.Region)
	c.Storage.TableName = getEnv("TABLE_NAME", c.Storage.TableName)
	c.Storage.Endpoint = getEnv("DYNAMODB_ENDPOINT", c.Storage.Endpoint)

	c.Remote.BaseURL = getEnv("API_BASE_URL", c.Remote.BaseURL)
	c.Remote.PostsPath = getEnv("API_POSTS_PATH", c.Remote.PostsPath)
	c.Remote.UsersPath = getEnv("API_USERS_PATH", c.Remote.UsersPath)
	c.Remote.Timeout = getEnvDuration("API_TIMEOUT", c.Remote.Timeout)

	c.Feed.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", c.Feed.RefreshInterval)

	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite storage requires SQLITE_PATH"))
		}
	case StoragePostgreSQL:
		if c.Storage.PostgresURI == "" {
			errs = append(errs, errors.New("postgresql storage requires POSTGRES_URI"))
		}
	case StorageMongoDB:
		if c.Storage.MongoDBURI == "" {
			errs = append(errs, errors.New("mongodb storage requires MONGODB_URI"))
		}
	case StorageDynamoDB:
		if c.Storage.TableName == "" {
			errs = append(errs, errors.New("dynamodb storage requires TABLE_NAME"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type: %s", c.Storage.Type))
	}

	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		errs = append(errs, errors.New("API_BASE_URL must not be empty"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("API_TIMEOUT must be positive"))
	}
	if c.Feed.RefreshInterval < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

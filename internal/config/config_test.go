package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")
	t.Setenv("FEED_CONFIG_FILE", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, "feed.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "https://jsonplaceholder.typicode.com", cfg.Remote.BaseURL)
	assert.Equal(t, "/posts", cfg.Remote.PostsPath)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Zero(t, cfg.Feed.RefreshInterval)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEED_CONFIG_FILE", "")
	t.Setenv("STORAGE_TYPE", "dynamodb")
	t.Setenv("TABLE_NAME", "posts_cache")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")
	t.Setenv("API_TIMEOUT", "5s")
	t.Setenv("REFRESH_INTERVAL", "2m")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StorageDynamoDB, cfg.Storage.Type)
	assert.Equal(t, "posts_cache", cfg.Storage.TableName)
	assert.Equal(t, "http://localhost:8000", cfg.Storage.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Feed.RefreshInterval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("FEED_CONFIG_FILE", "")
	t.Setenv("STORAGE_TYPE", "")
	t.Setenv("API_TIMEOUT", "soon")
	t.Setenv("SERVER_PORT", "eighty")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.toml")
	contents := `
[storage]
type = "postgresql"
postgres_uri = "postgres://feed@localhost/feed?sslmode=disable"

[remote]
base_url = "http://api.internal"
timeout = "10s"

[feed]
refresh_interval = "1m"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("FEED_CONFIG_FILE", path)
	t.Setenv("STORAGE_TYPE", "")
	t.Setenv("API_TIMEOUT", "20s")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StoragePostgreSQL, cfg.Storage.Type)
	assert.Equal(t, "postgres://feed@localhost/feed?sslmode=disable", cfg.Storage.PostgresURI)
	assert.Equal(t, "cached_posts", cfg.Storage.TableName, "absent keys keep defaults")
	assert.Equal(t, "http://api.internal", cfg.Remote.BaseURL)
	assert.Equal(t, "/posts", cfg.Remote.PostsPath)
	assert.Equal(t, 20*time.Second, cfg.Remote.Timeout, "env wins over file")
	assert.Equal(t, time.Minute, cfg.Feed.RefreshInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")
	t.Setenv("FEED_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[feed]\nrefresh_interval = \"often\"\n"), 0o600))
	t.Setenv("FEED_CONFIG_FILE", path)

	_, err = Load()
	assert.ErrorContains(t, err, "invalid feed.refresh_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Type = "redis" },
			wantErr: "unsupported storage type: redis",
		},
		{
			name:    "postgres without uri",
			mutate:  func(c *Config) { c.Storage.Type = StoragePostgreSQL },
			wantErr: "POSTGRES_URI",
		},
		{
			name:    "mongodb without uri",
			mutate:  func(c *Config) { c.Storage.Type = StorageMongoDB },
			wantErr: "MONGODB_URI",
		},
		{
			name:    "negative refresh interval",
			mutate:  func(c *Config) { c.Feed.RefreshInterval = -time.Second },
			wantErr: "REFRESH_INTERVAL",
		},
		{
			name:    "empty endpoint",
			mutate:  func(c *Config) { c.Remote.BaseURL = " " },
			wantErr: "API_BASE_URL",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid SERVER_PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

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
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "MEDIA_BACKEND", "HISTORY_PAGE_SIZE", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "fs", cfg.Media.Backend)
	assert.Equal(t, 50, cfg.HistoryPageSize)
	assert.Equal(t, 200, cfg.HistoryMaxPageSize)
	assert.Equal(t, 4000, cfg.MaxMessageLength)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("HISTORY_PAGE_SIZE", "20")
	t.Setenv("SEND_BUFFER", "not-a-number")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg := Load()
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, 20, cfg.HistoryPageSize)
	assert.Equal(t, 256, cfg.SendBuffer, "unparsable values fall back to the default")
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no auth", func(c *Config) { c.AuthSecret = "" }, "AUTH_SECRET"},
		{"s3 without bucket", func(c *Config) { c.Media.Backend = "s3" }, "S3_BUCKET"},
		{"unknown backend", func(c *Config) { c.Media.Backend = "ftp" }, "MEDIA_BACKEND"},
		{"bad worker", func(c *Config) { c.WorkerID = 5000 }, "WORKER_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.AuthSecret = "secret"
			cfg.Media.Backend = "fs"
			cfg.Media.UploadDir = "uploads"
			cfg.Media.MaxUploadBytes = 1024
			cfg.WorkerID = 1
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FORUM_TEST_DOTENV=from-file\nFORUM_TEST_KEEP=from-file\n"), 0o600))

	t.Setenv("FORUM_TEST_KEEP", "from-env")
	t.Setenv("FORUM_TEST_DOTENV", "")
	os.Unsetenv("FORUM_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("FORUM_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("FORUM_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("FORUM_TEST_KEEP"), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

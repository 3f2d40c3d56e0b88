// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host      string
	Port      string
	LogLevel  string
	LogFormat string

	// Empty selects the in-memory store.
	DatabaseURL string
	// Empty runs fan-out inside this process only.
	RedisURL string

	KindeIssuerURL string
	AuthSecret     string
	JWKSRefresh    time.Duration

	Media MediaConfig

	HistoryPageSize    int
	HistoryMaxPageSize int
	MaxMessageLength   int
	SendBuffer         int
	WorkerID           int
	AllowedOrigins     []string
	ShutdownTimeout    time.Duration
}

type MediaConfig struct {
	Backend           string
	UploadDir         string
	MaxUploadBytes    int64
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// LoadDotEnv loads variables from the given files (".env" by default) without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() *Config {
	return &Config{
		Host:      getEnv("HOST", ""),
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KindeIssuerURL: getEnv("KINDE_ISSUER_URL", ""),
		AuthSecret:     getEnv("AUTH_SECRET", ""),
		JWKSRefresh:    getEnvDuration("JWKS_REFRESH", 24*time.Hour),

		Media: MediaConfig{
			Backend:           getEnv("MEDIA_BACKEND", "fs"),
			UploadDir:         getEnv("UPLOAD_DIR", "uploads"),
			MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},

		HistoryPageSize:    getEnvInt("HISTORY_PAGE_SIZE", 50),
		HistoryMaxPageSize: getEnvInt("HISTORY_MAX_PAGE_SIZE", 200),
		MaxMessageLength:   getEnvInt("MAX_MESSAGE_LENGTH", 4000),
		SendBuffer:         getEnvInt("SEND_BUFFER", 256),
		WorkerID:           getEnvInt("WORKER_ID", 1),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate reports settings the server can't start with.
func (c *Config) Validate() error {
	var errs []error
	if c.KindeIssuerURL == "" && c.AuthSecret == "" {
		errs = append(errs, errors.New("one of KINDE_ISSUER_URL or AUTH_SECRET is required"))
	}
	switch c.Media.Backend {
	case "fs":
		if c.Media.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for the fs media backend"))
		}
	case "s3":
		if c.Media.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 media backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MEDIA_BACKEND %q", c.Media.Backend))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		errs = append(errs, fmt.Errorf("WORKER_ID %d out of range 0-1023", c.WorkerID))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Archive
	ArchiveURL              string
	ArchiveVersion          string
	ArchiveCacheDir         string
	ArchiveSHA256           string
	FetchTimeout            time.Duration
	FetchMaxSize            int64
	AllowPrivateArchiveHost bool

	// Result cache
	CacheDatabaseURL   string
	CachePurgeSchedule string

	// Query
	PageSize     int
	QueryWorkers int

	// Rate Limit (req/min/IP)
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// MemoryCacheURL は結果キャッシュをプロセス内に置く指定。
const MemoryCacheURL = "memory"

// Load はカレントディレクトリの .env（存在すれば）と環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile は指定した .env ファイルを読み込んでからConfigを組み立てる。
// 既に設定済みの環境変数は .env で上書きしない。ファイルが存在しない場合は無視する。
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s の読み込みに失敗しました: %w", path, err)
		}
	}

	cfg := &Config{}

	var missing []string

	cfg.ArchiveURL = os.Getenv("ARCHIVE_URL")
	if cfg.ArchiveURL == "" {
		missing = append(missing, "ARCHIVE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ArchiveVersion = getEnvString("ARCHIVE_VERSION", "v1")
	cfg.ArchiveCacheDir = getEnvString("ARCHIVE_CACHE_DIR", "data/archive")
	cfg.ArchiveSHA256 = strings.ToLower(getEnvString("ARCHIVE_SHA256", ""))
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 5*time.Minute)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 2<<30)
	cfg.AllowPrivateArchiveHost = getEnvBool("ALLOW_PRIVATE_ARCHIVE_HOST", false)
	cfg.CacheDatabaseURL = getEnvString("CACHE_DATABASE_URL", "sqlite3://data/query-cache.db")
	cfg.CachePurgeSchedule = getEnvString("CACHE_PURGE_SCHEDULE", "@daily")
	cfg.PageSize = getEnvPositiveInt("PAGE_SIZE", 30)
	cfg.QueryWorkers = getEnvPositiveInt("QUERY_WORKERS", 1)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 240)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.ArchiveSHA256 != "" && len(cfg.ArchiveSHA256) != 64 {
		return nil, fmt.Errorf("ARCHIVE_SHA256 は16進64文字で指定してください")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("LOG_LEVEL が不正です: %q", cfg.LogLevel)
	}

	return cfg, nil
}

// UsesMemoryCache は結果キャッシュをプロセス内に置くかどうかを返す。
func (c *Config) UsesMemoryCache() bool {
	return c.CacheDatabaseURL == "" || c.CacheDatabaseURL == MemoryCacheURL
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数を読み込む。0以下や不正値はデフォルトに戻す。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("ARCHIVE_URL", "https://archive.example.com/vault-{version}.db")
}

// noEnvFile は存在しない .env を指す。
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".env")
}

func TestLoad_RequiredVarSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := LoadWithEnvFile(noEnvFile(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ArchiveURL != "https://archive.example.com/vault-{version}.db" {
		t.Errorf("ArchiveURL = %q", cfg.ArchiveURL)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := LoadWithEnvFile(noEnvFile(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ArchiveVersion", cfg.ArchiveVersion, "v1"},
		{"ArchiveCacheDir", cfg.ArchiveCacheDir, "data/archive"},
		{"ArchiveSHA256", cfg.ArchiveSHA256, ""},
		{"FetchTimeout", cfg.FetchTimeout, 5 * time.Minute},
		{"FetchMaxSize", cfg.FetchMaxSize, int64(2 << 30)},
		{"AllowPrivateArchiveHost", cfg.AllowPrivateArchiveHost, false},
		{"CacheDatabaseURL", cfg.CacheDatabaseURL, "sqlite3://data/query-cache.db"},
		{"CachePurgeSchedule", cfg.CachePurgeSchedule, "@daily"},
		{"PageSize", cfg.PageSize, 30},
		{"QueryWorkers", cfg.QueryWorkers, 1},
		{"RateLimitGeneral", cfg.RateLimitGeneral, 240},
		{"LogLevel", cfg.LogLevel, "info"},
		{"ServerPort", cfg.ServerPort, "8080"},
		{"CORSAllowedOrigin", cfg.CORSAllowedOrigin, "http://localhost:3000"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.UsesMemoryCache() {
		t.Error("default cache should be sqlite, not memory")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("ARCHIVE_VERSION", "v2")
	t.Setenv("ARCHIVE_CACHE_DIR", "/var/cache/timevault")
	t.Setenv("ARCHIVE_SHA256", strings.Repeat("AB", 32))
	t.Setenv("FETCH_TIMEOUT", "90s")
	t.Setenv("FETCH_MAX_SIZE", "1048576")
	t.Setenv("ALLOW_PRIVATE_ARCHIVE_HOST", "true")
	t.Setenv("CACHE_DATABASE_URL", "memory")
	t.Setenv("CACHE_PURGE_SCHEDULE", "0 4 * * *")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("QUERY_WORKERS", "4")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGIN", "https://vault.example.com")

	cfg, err := LoadWithEnvFile(noEnvFile(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ArchiveVersion != "v2" || cfg.ArchiveCacheDir != "/var/cache/timevault" {
		t.Errorf("archive = %q %q", cfg.ArchiveVersion, cfg.ArchiveCacheDir)
	}
	if cfg.ArchiveSHA256 != strings.Repeat("ab", 32) {
		t.Errorf("ArchiveSHA256 = %q, want lower-cased", cfg.ArchiveSHA256)
	}
	if cfg.FetchTimeout != 90*time.Second || cfg.FetchMaxSize != 1048576 {
		t.Errorf("fetch = %v %d", cfg.FetchTimeout, cfg.FetchMaxSize)
	}
	if !cfg.AllowPrivateArchiveHost {
		t.Error("AllowPrivateArchiveHost = false, want true")
	}
	if !cfg.UsesMemoryCache() {
		t.Error("UsesMemoryCache = false, want true")
	}
	if cfg.CachePurgeSchedule != "0 4 * * *" {
		t.Errorf("CachePurgeSchedule = %q", cfg.CachePurgeSchedule)
	}
	if cfg.PageSize != 50 || cfg.QueryWorkers != 4 || cfg.RateLimitGeneral != 60 {
		t.Errorf("page=%d workers=%d rate=%d", cfg.PageSize, cfg.QueryWorkers, cfg.RateLimitGeneral)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ServerPort != "9090" || cfg.CORSAllowedOrigin != "https://vault.example.com" {
		t.Errorf("server = %q %q", cfg.ServerPort, cfg.CORSAllowedOrigin)
	}
}

func TestLoad_InvalidNumbersFallBackToDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("PAGE_SIZE", "0")
	t.Setenv("QUERY_WORKERS", "many")
	t.Setenv("FETCH_TIMEOUT", "soon")

	cfg, err := LoadWithEnvFile(noEnvFile(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.PageSize != 30 || cfg.QueryWorkers != 1 || cfg.FetchTimeout != 5*time.Minute {
		t.Errorf("page=%d workers=%d timeout=%v", cfg.PageSize, cfg.QueryWorkers, cfg.FetchTimeout)
	}
}

func TestLoad_MissingArchiveURL_ReturnsError(t *testing.T) {
	t.Setenv("ARCHIVE_URL", "")

	_, err := LoadWithEnvFile(noEnvFile(t))
	if err == nil {
		t.Fatal("expected error for missing ARCHIVE_URL")
	}
	if !strings.Contains(err.Error(), "ARCHIVE_URL") {
		t.Errorf("error = %v, want mention of ARCHIVE_URL", err)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"ARCHIVE_SHA256", "abc"},
		{"LOG_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadWithEnvFile(noEnvFile(t)); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ReadsEnvFileWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ARCHIVE_URL=/srv/vault.db\nPAGE_SIZE=15\nSERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv が設定した値はテスト終了時に t.Setenv の復元で消える
	t.Setenv("ARCHIVE_URL", "")
	t.Setenv("PAGE_SIZE", "")
	t.Setenv("SERVER_PORT", "8081")
	os.Unsetenv("ARCHIVE_URL")
	os.Unsetenv("PAGE_SIZE")

	cfg, err := LoadWithEnvFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ArchiveURL != "/srv/vault.db" {
		t.Errorf("ArchiveURL = %q, want value from .env", cfg.ArchiveURL)
	}
	if cfg.PageSize != 15 {
		t.Errorf("PageSize = %d, want 15 from .env", cfg.PageSize)
	}
	if cfg.ServerPort != "8081" {
		t.Errorf("ServerPort = %q, want existing env to win", cfg.ServerPort)
	}
}

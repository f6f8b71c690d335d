package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/timevault/internal/archive/archivetest"
	"github.com/hitoshi/timevault/internal/config"
	"github.com/hitoshi/timevault/internal/logger"
)

// writeArchive はテスト用アーカイブをファイルに書き出してパスを返す。
func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forum.db")
	if err := os.WriteFile(path, archivetest.Build(t, archivetest.Forum()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func setTestEnv(t *testing.T, archivePath string) string {
	t.Helper()
	cacheDir := t.TempDir()
	t.Setenv("ARCHIVE_URL", archivePath)
	t.Setenv("ARCHIVE_CACHE_DIR", cacheDir)
	t.Setenv("CACHE_DATABASE_URL", "memory")
	t.Setenv("LOG_LEVEL", "info")
	t.Cleanup(func() { logger.SetLevel("info") })
	return cacheDir
}

func testConfig(t *testing.T, archivePath string) *config.Config {
	t.Helper()
	return &config.Config{
		ArchiveURL:         archivePath,
		ArchiveVersion:     "v1",
		ArchiveCacheDir:    t.TempDir(),
		FetchTimeout:       10 * time.Second,
		CacheDatabaseURL:   "sqlite3://" + filepath.Join(t.TempDir(), "cache.db"),
		CachePurgeSchedule: "@daily",
		PageSize:           30,
		QueryWorkers:       2,
		RateLimitGeneral:   600,
		LogLevel:           "info",
		ServerPort:         "0",
		CORSAllowedOrigin:  "http://localhost:3000",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t, "/srv/vault.db")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.ArchiveURL != "/srv/vault.db" {
		t.Errorf("ArchiveURL = %q", cfg.ArchiveURL)
	}

	slog.Default().Info("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t, "/srv/vault.db")
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("Init: %v", err)
	}
	slog.Default().Warn("suppressed")
	if buf.Len() != 0 {
		t.Errorf("warn log written at error level: %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("ARCHIVE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_FetchCommand_CachesArchive(t *testing.T) {
	cacheDir := setTestEnv(t, writeArchive(t))
	t.Setenv("ARCHIVE_VERSION", "2024-01")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"fetch"}); err != nil {
		t.Fatalf("Run(fetch): %v\nlogs: %s", err, buf.String())
	}

	if _, err := os.Stat(filepath.Join(cacheDir, "vault-2024-01.db")); err != nil {
		t.Errorf("cached archive missing: %v", err)
	}
	if !strings.Contains(buf.String(), "アーカイブの取得が完了しました") {
		t.Errorf("completion not logged: %s", buf.String())
	}
}

func TestRun_FetchCommand_RejectsCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	if err := os.WriteFile(path, []byte("definitely not sqlite"), 0o600); err != nil {
		t.Fatal(err)
	}
	setTestEnv(t, path)

	var buf bytes.Buffer
	err := Run(&buf, []string{"fetch"})
	if err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if !strings.Contains(err.Error(), "verification") {
		t.Errorf("error = %v, want verification failure", err)
	}
}

func TestRun_FetchCommand_MissingSource(t *testing.T) {
	setTestEnv(t, filepath.Join(t.TempDir(), "missing.db"))

	var buf bytes.Buffer
	if err := Run(&buf, []string{"fetch"}); err == nil {
		t.Fatal("expected error for missing archive")
	}
}

func TestRun_MigrateCommand(t *testing.T) {
	setTestEnv(t, "/srv/vault.db")
	dbPath := filepath.Join(t.TempDir(), "nested", "cache.db")
	t.Setenv("CACHE_DATABASE_URL", "sqlite3://"+dbPath)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err != nil {
		t.Fatalf("Run(migrate): %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestRun_MigrateCommand_MemoryCacheIsNoop(t *testing.T) {
	setTestEnv(t, "/srv/vault.db")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err != nil {
		t.Fatalf("Run(migrate): %v", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("ARCHIVE_URL", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_Healthcheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	t.Setenv("SERVER_PORT", u.Port())

	if err := Run(io.Discard, []string{"healthcheck"}); err != nil {
		t.Errorf("healthy server: %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := Run(io.Discard, []string{"healthcheck"}); err == nil {
		t.Error("expected error for 503")
	}
}

func TestRunServe_ShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t, writeArchive(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not stop after cancel")
	}
}

func TestRunServe_InvalidPurgeSchedule(t *testing.T) {
	cfg := testConfig(t, writeArchive(t))
	cfg.CachePurgeSchedule = "whenever"

	if err := runServe(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func getJSON(t *testing.T, srv *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestApp_ServesArchiveEndToEnd(t *testing.T) {
	cfg := testConfig(t, writeArchive(t))
	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	var health struct {
		Engine string `json:"engine"`
	}
	if code := getJSON(t, srv, "/health", &health); code != http.StatusOK || health.Engine != "uninitialized" {
		t.Errorf("health before load = %d %q", code, health.Engine)
	}

	var user struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if code := getJSON(t, srv, "/api/users/1", &user); code != http.StatusOK {
		t.Fatalf("GET /api/users/1 = %d", code)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q, want alice", user.Username)
	}

	if code := getJSON(t, srv, "/api/users/999", nil); code != http.StatusNotFound {
		t.Errorf("GET /api/users/999 = %d, want 404", code)
	}

	var threads struct {
		Threads []struct {
			ID int64 `json:"id"`
		} `json:"threads"`
	}
	if code := getJSON(t, srv, "/api/threads?datetime=2016-01-02", &threads); code != http.StatusOK {
		t.Fatalf("GET /api/threads = %d", code)
	}
	if len(threads.Threads) != 1 || threads.Threads[0].ID != 1 {
		t.Errorf("threads at 2016-01-02 = %+v, want only thread 1", threads.Threads)
	}

	if code := getJSON(t, srv, "/health", &health); code != http.StatusOK || health.Engine != "ready" {
		t.Errorf("health after load = %d %q", code, health.Engine)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"timevault_queries_total", "timevault_archive_loads_total", "timevault_http_status_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func TestApp_FetchFailureIsBadGateway(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.db"))
	cfg.CacheDatabaseURL = "memory"
	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	var body struct {
		Code string `json:"code"`
	}
	if code := getJSON(t, srv, "/api/threads", &body); code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
	if body.Code != "ARCHIVE_FETCH_FAILED" {
		t.Errorf("code = %q, want ARCHIVE_FETCH_FAILED", body.Code)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/timevault/internal/archive"
	"github.com/hitoshi/timevault/internal/config"
	"github.com/hitoshi/timevault/internal/database"
	"github.com/hitoshi/timevault/internal/logger"
	"github.com/hitoshi/timevault/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数（と .env）のConfigを読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("archive_version", cfg.ArchiveVersion),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandFetch:
		return runFetch(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 依存関係をワイヤリングし、クリーンアップジョブをスケジュールしてHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := New(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	job := cleanup.NewCleanupJob(a.cache, a.loader, slog.Default())
	scheduler, err := cleanup.Schedule(cfg.CachePurgeSchedule, job, slog.Default())
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     a.Handler(),
		ReadTimeout: 15 * time.Second,
		// アーカイブの初回読み込みを待つリクエストがあるため、取得タイムアウトより長くする
		WriteTimeout: cfg.FetchTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runFetch はアーカイブを取得・検証してディスクキャッシュに保存する。
// 取得したバイト列が開けることまで確認し、古いバージョンのファイルを削除する。
func runFetch(ctx context.Context, cfg *config.Config) error {
	ld := newLoader(cfg, slog.Default())

	start := time.Now()
	lastPct := int64(-1)
	data, err := ld.Load(ctx, func(stage string, loaded, total int64) {
		if total <= 0 {
			return
		}
		if pct := loaded * 100 / total; pct/10 != lastPct/10 {
			lastPct = pct
			slog.Info(stage, slog.Int64("loaded", loaded), slog.Int64("total", total))
		}
	})
	if err != nil {
		return fmt.Errorf("archive fetch failed: %w", err)
	}

	store, err := archive.Open(ctx, data)
	if err != nil {
		return fmt.Errorf("archive verification failed: %w", err)
	}
	if err := store.Close(); err != nil {
		slog.Warn("archive close failed", slog.String("error", err.Error()))
	}

	removed := ld.PurgeOtherVersions()
	slog.Info("アーカイブの取得が完了しました",
		slog.String("version", ld.Version()),
		slog.String("cache_path", ld.CachePath()),
		slog.Int("bytes", len(data)),
		slog.Int("purged_files", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// runMigrate は結果キャッシュDBのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。インメモリキャッシュでは何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.UsesMemoryCache() {
		slog.Info("in-memory result cache configured; no migrations to run")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.CacheDatabaseURL)),
	)

	if err := database.RunMigrations(cfg.CacheDatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	u := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}

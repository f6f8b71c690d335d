package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/timevault/internal/archive"
	"github.com/hitoshi/timevault/internal/cache"
	"github.com/hitoshi/timevault/internal/config"
	"github.com/hitoshi/timevault/internal/database"
	"github.com/hitoshi/timevault/internal/gateway"
	"github.com/hitoshi/timevault/internal/handler"
	"github.com/hitoshi/timevault/internal/loader"
	"github.com/hitoshi/timevault/internal/metrics"
	"github.com/hitoshi/timevault/internal/middleware"
	"github.com/hitoshi/timevault/internal/query"
	"github.com/hitoshi/timevault/internal/security"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App はserveモードで使う依存関係一式。
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	loader    *loader.Loader
	cache     *cache.Cache
	cacheDB   *sqlx.DB
	hub       *gateway.Hub
	client    *gateway.Client
	limiter   *middleware.RateLimiter
	handler   http.Handler
}

// New は設定から依存関係を組み立てる。
// 結果キャッシュDBのマイグレーションもここで適用する。アーカイブの読み込みは最初のリクエストまで行わない。
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	// 1. メトリクス
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector(a.registry)

	// 2. 結果キャッシュ
	store, db, err := openCacheStore(cfg)
	if err != nil {
		return nil, err
	}
	a.cacheDB = db
	a.cache = cache.New(store, cfg.ArchiveVersion, a.collector, logger)

	// 3. アーカイブローダー
	a.loader = newLoader(cfg, logger)

	// 4. ゲートウェイ
	a.hub = gateway.NewHub(func() *gateway.Engine {
		return gateway.NewEngine(a.loader, a.openExecutor, gateway.Options{
			Workers: cfg.QueryWorkers,
			Metrics: a.collector,
			Logger:  logger,
		})
	}, a.collector, logger)

	a.client, err = gateway.NewClient(a.hub, func(r gateway.Response) {
		if r.Type == gateway.TypeError {
			logger.Warn("archive initialization failed", slog.String("code", r.Code), slog.String("message", r.Message))
		}
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ゲートウェイへの接続に失敗しました: %w", err)
	}

	// 5. ルーター
	a.limiter = middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral))
	a.handler = handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       a.limiter,
		StatusRecorder:    a.collector,
		Logger:            logger,
		Querier:           a.client,
		Ports:             a.hub,
		State:             a.hub,
		Metrics:           metrics.Handler(a.registry),
	})

	return a, nil
}

// openExecutor はアーカイブのバイト列からクエリサービスを組み立てる。
// 準備ができた時点で古いバージョンのキャッシュをベストエフォートで削除する。
func (a *App) openExecutor(ctx context.Context, data []byte) (gateway.Executor, error) {
	store, err := archive.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	svc := query.NewService(store, a.cache, a.cfg.PageSize, a.collector, a.logger)
	go a.cache.PurgeStale(context.Background())
	return svc, nil
}

// Handler はHTTPハンドラーを返す。
func (a *App) Handler() http.Handler {
	return a.handler
}

// Close はゲートウェイ・レートリミッター・キャッシュDBを閉じる。
func (a *App) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.cacheDB != nil {
		if err := a.cacheDB.Close(); err != nil {
			a.logger.Warn("cache database close failed", slog.String("error", err.Error()))
		}
	}
}

// openCacheStore は設定に応じた結果キャッシュのストアを開く。
func openCacheStore(cfg *config.Config) (cache.Store, *sqlx.DB, error) {
	if cfg.UsesMemoryCache() {
		return cache.NewMemoryStore(), nil, nil
	}
	if err := database.RunMigrations(cfg.CacheDatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("結果キャッシュDBのマイグレーションに失敗しました: %w", err)
	}
	db, err := database.Open(cfg.CacheDatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("結果キャッシュDBへの接続に失敗しました: %w", err)
	}
	return cache.NewSQLStore(db), db, nil
}

func newLoader(cfg *config.Config, logger *slog.Logger) *loader.Loader {
	return loader.New(loader.Config{
		Source:   cfg.ArchiveURL,
		Version:  cfg.ArchiveVersion,
		CacheDir: cfg.ArchiveCacheDir,
		SHA256:   cfg.ArchiveSHA256,
		Timeout:  cfg.FetchTimeout,
		MaxSize:  cfg.FetchMaxSize,
	}, security.NewGuard(cfg.AllowPrivateArchiveHost), logger)
}

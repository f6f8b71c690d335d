package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/timevault/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	Logger            *slog.Logger

	// クエリ
	Querier Querier
	Ports   PortAttacher
	State   StateReporter

	// /metrics。nil の場合はルートを登録しない
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit（/api のみ）
//
// /health と /metrics はレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	threads := NewThreadHandler(deps.Querier)
	search := NewSearchHandler(deps.Querier)
	users := NewUserHandler(deps.Querier)
	videos := NewVideoHandler(deps.Querier)

	r.Get("/health", HealthHandler(deps.State))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", threads.ListThreads)
			r.Get("/{id}", threads.GetThread)
		})

		r.Get("/search", search.Search)

		r.Route("/users", func(r chi.Router) {
			r.Get("/by-name/{username}", users.GetUserByName)
			r.Get("/{id}", users.GetUser)
			r.Get("/{id}/posts", users.ListUserPosts)
		})

		r.Get("/videos/{id}", videos.GetVideo)

		if deps.Ports != nil {
			r.Method(http.MethodGet, "/ws", NewWSHandler(deps.Ports, deps.CORSAllowedOrigin, logger))
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFoundRoute(w)
	})

	return r
}

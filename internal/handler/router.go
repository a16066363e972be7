package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shedalert/internal/middleware"
)

// Service はフロントエンドAPIが必要とするエンジン操作をまとめたインターフェース。
type Service interface {
	AreaService
	SubscriptionService
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Service        Service
	FrontendToken  string
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → BearerAuth → RateLimit
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))

	areaHandler := NewAreaHandler(deps.Service, logger)
	subHandler := NewSubscriptionHandler(deps.Service, logger)

	// --- 認証不要のルート ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.FrontendToken))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api/areas", func(r chi.Router) {
			r.Get("/search", areaHandler.Search)
			r.Get("/search/last", areaHandler.LastSearch)
			r.Get("/{id}", areaHandler.GetArea)
		})

		r.Get("/api/quota", areaHandler.Quota)
		r.Get("/api/stage", areaHandler.Stage)

		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.Post("/", subHandler.Subscribe)
			r.Delete("/index/{index}", subHandler.UnsubscribeByIndex)
			r.Delete("/{userID}/{areaID}", subHandler.Unsubscribe)
		})
	})

	return r
}

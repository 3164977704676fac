package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionStore      middleware.SessionStore
	Cookie            middleware.CookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// 運用エンドポイント。MetricsHandlerがnilなら/metricsを公開しない
	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler

	// サービス
	AuthService    AuthServiceInterface
	ProjectService ProjectServiceInterface
	TaskService    TaskServiceInterface
	UserService    UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通: RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// 認証ルート（/auth/register, /auth/login, /auth/google）はIP単位のレート制限のみを通す。
// /api/* は Session → CSRF → RateLimit(General) の順に通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Cookie.Secure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionMW := middleware.NewSessionMiddleware(deps.SessionStore, middleware.SessionConfig{
		Cookie:  deps.Cookie,
		Metrics: deps.Metrics,
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookie)
	projectHandler := NewProjectHandler(deps.ProjectService)
	taskHandler := NewTaskHandler(deps.TaskService)
	userHandler := NewUserHandler(deps.UserService, deps.Cookie)

	// --- 認証不要のルート ---

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		// 資格情報を受け取るルートはIP単位で制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/google", authHandler.Google)
		})

		r.Post("/logout", authHandler.Logout)
		r.With(sessionMW).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)
			r.Get("/me", projectHandler.ListOwned)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Delete)
				r.Patch("/archive", projectHandler.Archive)

				r.Get("/members", projectHandler.ListMembers)
				r.Post("/members", projectHandler.AddMember)
				r.Patch("/members/{memberId}", projectHandler.UpdateMemberRole)
				r.Delete("/members/{memberId}", projectHandler.RemoveMember)

				r.Get("/activity", projectHandler.Activity)
				r.Get("/progress", projectHandler.Progress)
			})
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/", taskHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.Get)
				r.Put("/", taskHandler.Update)
				r.Delete("/", taskHandler.Delete)
			})
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Delete("/me", userHandler.Withdraw)
			r.Get("/{id}", userHandler.Get)
		})
	})

	return r
}

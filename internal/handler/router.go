package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/snapchef/internal/auth"
	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/navigation"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusObserver    middleware.StatusObserver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 公開エンドポイント
	MetricsHandler http.Handler
	WSHandler      http.Handler

	// 認証
	Provider      IdentityProvider
	Sessions      SessionController
	PendingLogins *auth.PendingLogins
	AuthConfig    AuthHandlerConfig

	// 撮影・送信・結果
	Capture   CaptureStore
	Submitter Submitter
	Results   ResultReader
	Recipes   RecipeClient
	Navigator navigation.Navigator

	// プロフィール
	Routes RouteSummaryFetcher
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF
//
// /api/* はさらに Session → RateLimit(General) を通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.Provider, deps.Sessions, deps.PendingLogins, deps.AuthConfig)
	photoHandler := NewPhotoHandler(deps.Capture)
	resultsHandler := NewResultsHandler(deps.Submitter, deps.Results, deps.Recipes, deps.Navigator)
	profileHandler := NewProfileHandler(deps.Routes)

	// --- セッション不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.WSHandler != nil {
		r.Method(http.MethodGet, "/ws", deps.WSHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.Get("/session", authHandler.Session)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/token", authHandler.Token)
		r.Post("/logout", authHandler.Logout)
	})

	// --- ログインが必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/photos", func(r chi.Router) {
			r.Get("/", photoHandler.ListPhotos)
			r.Post("/", photoHandler.AddPhoto)
			r.Delete("/", photoHandler.ClearPhotos)
			r.Delete("/{index}", photoHandler.RemovePhoto)
		})

		// POST /api/submit - 写真送信（送信専用レート制限を追加）
		r.With(deps.RateLimiter.SubmitMiddleware()).Post("/api/submit", resultsHandler.Submit)

		r.Route("/api/results", func(r chi.Router) {
			r.Get("/", resultsHandler.GetResult)
			r.Get("/dish", resultsHandler.GetDish)
			r.Get("/options/{option}", resultsHandler.GetOption)
			r.Post("/recipe", resultsHandler.ChooseRecipe)
		})

		r.Get("/api/profile/route", profileHandler.MostCommonRoute)
	})

	return r
}

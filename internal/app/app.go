// Package app はアプリケーションの初期化と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/snapchef/internal/auth"
	"github.com/hitoshi/snapchef/internal/backend"
	"github.com/hitoshi/snapchef/internal/capture"
	"github.com/hitoshi/snapchef/internal/config"
	"github.com/hitoshi/snapchef/internal/database"
	"github.com/hitoshi/snapchef/internal/handler"
	"github.com/hitoshi/snapchef/internal/logger"
	"github.com/hitoshi/snapchef/internal/metrics"
	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/navigation"
	"github.com/hitoshi/snapchef/internal/repository"
	"github.com/hitoshi/snapchef/internal/results"
	"github.com/hitoshi/snapchef/internal/security"
	"github.com/hitoshi/snapchef/internal/session"
	"github.com/hitoshi/snapchef/internal/upload"
	"golang.org/x/time/rate"
)

// pendingLoginTTL はブラウザログインのstateの有効期間。
const pendingLoginTTL = 10 * time.Minute

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込む。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// App はクライアントコアの全コンポーネントを保持する。
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB          *sql.DB
	Registry    *prometheus.Registry
	Metrics     *metrics.Collector
	Client      *backend.Client
	Hub         *navigation.Hub
	Sessions    *session.Manager
	Capture     *capture.Session
	Results     *results.Exchange
	Coordinator *upload.Coordinator
}

// New は設定からApp全体をワイヤリングする。
// セッションの復元はStartで行う。
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	// 1. ストア
	db, err := database.Open(cfg.StoreDriver, cfg.StoreDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	repo := newKVRepo(cfg.StoreDriver, db)

	var sealer session.TokenSealer
	if cfg.SessionSecret != "" {
		s, err := security.NewTokenSealer(cfg.SessionSecret)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create token sealer: %w", err)
		}
		sealer = s
	}
	store := session.NewStore(repo, sealer, log)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. バックエンド
	resolver := backend.NewResolver(cfg.BackendCandidates, &http.Client{Timeout: cfg.BackendTimeout}, log)
	resolver.SetObserver(collector)
	client := backend.NewClient(resolver)

	// 4. 状態とナビゲーション
	hub := navigation.NewHub(log, cfg.CORSAllowedOrigin)
	captureSession := capture.NewSession()
	exchange := results.NewExchange()

	sessions := session.NewManager(store, client, hub,
		session.WithLogger(log),
		session.WithObserver(collector),
		session.WithLogoutHook(func() {
			exchange.Invalidate()
			captureSession.Clear()
		}),
	)

	coordinator := upload.NewCoordinator(upload.Config{
		Photos:         captureSession,
		Decoder:        upload.URIDecoder{MaxSize: upload.DefaultMaxPhotoSize},
		Scanner:        client,
		Exchange:       exchange,
		Navigator:      hub,
		Logger:         log,
		Observer:       collector,
		DefaultZipcode: cfg.DefaultZipcode,
	})

	return &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		Registry:    registry,
		Metrics:     collector,
		Client:      client,
		Hub:         hub,
		Sessions:    sessions,
		Capture:     captureSession,
		Results:     exchange,
		Coordinator: coordinator,
	}, nil
}

// Start は保存済みセッションを復元し、完了まで待つ。
func (a *App) Start(ctx context.Context) error {
	a.Sessions.Start(ctx)
	select {
	case <-a.Sessions.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close は実行中のプロフィール取得を待ってからストアを閉じる。
func (a *App) Close() {
	a.Sessions.Close()
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("ストアのクローズに失敗しました", slog.String("error", err.Error()))
	}
}

// NewProvider は設定からIdPクライアントを生成する。
func (a *App) NewProvider() *auth.Auth0Provider {
	return auth.NewAuth0Provider(auth.Auth0Config{
		Domain:      a.Config.Auth0Domain,
		ClientID:    a.Config.Auth0ClientID,
		RedirectURL: a.Config.Auth0RedirectURL,
		Audience:    a.Config.Auth0Audience,
	})
}

// Router はUIシェル向けのHTTPハンドラーを構成する。
// 返されるRateLimiterは呼び出し元が停止する。
func (a *App) Router(provider handler.IdentityProvider) (http.Handler, *middleware.RateLimiter) {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if a.Config.SubmitRatePerMin > 0 {
		rlCfg.SubmitRate = rate.Limit(float64(a.Config.SubmitRatePerMin) / 60.0)
		rlCfg.SubmitBurst = a.Config.SubmitRatePerMin
	}
	limiter := middleware.NewRateLimiter(rlCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            a.Logger,
		StatusObserver:    a.Metrics,
		CORSAllowedOrigin: a.Config.CORSAllowedOrigin,
		RateLimiter:       limiter,

		MetricsHandler: metrics.Handler(a.Registry),
		WSHandler:      a.Hub.ServeWSHandler(),

		Provider:      provider,
		Sessions:      a.Sessions,
		PendingLogins: auth.NewPendingLogins(pendingLoginTTL),

		Capture:   a.Capture,
		Submitter: a.Coordinator,
		Results:   a.Results,
		Recipes:   a.Client,
		Navigator: a.Hub,

		Routes: a.Client,
	})
	return router, limiter
}

func newKVRepo(driver string, db *sql.DB) repository.KeyValueRepository {
	if driver == database.DriverPostgres {
		return repository.NewPostgresKVRepo(db, repository.DefaultNamespace)
	}
	return repository.NewSQLiteKVRepo(db, repository.DefaultNamespace)
}

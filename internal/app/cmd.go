package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hitoshi/snapchef/internal/database"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/recipe"
	"github.com/hitoshi/snapchef/internal/upload"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの猶予。
const shutdownTimeout = 30 * time.Second

// NewRootCommand はsnapchefのルートコマンドを生成する。
// ログは標準エラー出力に、コマンドの結果は標準出力に書き込む。
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapchef",
		Short: "Session and upload core for the snapchef recipe app",
		Long: `snapchef keeps the signed-in session, the captured photos and the latest
analysis result, and talks to the recipe backend on behalf of the UI shell.

Run "snapchef serve" to expose the core to the UI over HTTP and WebSocket,
or use the other commands to drive it from a terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .envが無い場合は環境変数のみを使う
			_ = godotenv.Load()
			return nil
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newSnapCmd(),
		newRouteCmd(),
		newHealthcheckCmd(),
	)

	return cmd
}

// withApp はAppを初期化してセッションを復元し、fnを実行する。
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, log, err := Init(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// requireSubject はログイン中ユーザーのsubを返す。未ログインの場合はエラーを返す。
func requireSubject(a *App) (string, error) {
	sub := a.Sessions.Subject()
	if sub == "" {
		return "", model.NewNotAuthenticatedError()
	}
	return sub, nil
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session core to the UI shell",
		Long: `Starts the HTTP and WebSocket bridge used by the UI shell.

Navigation events are pushed on /ws, Prometheus metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Config.ValidateAuth0(); err != nil {
					return err
				}
				if port == "" {
					port = a.Config.ServerPort
				}
				router, limiter := a.Router(a.NewProvider())
				defer limiter.Stop()

				return serve(ctx, &http.Server{
					Addr:              ":" + port,
					Handler:           router,
					ReadHeaderTimeout: 10 * time.Second,
					IdleTimeout:       60 * time.Second,
				})
			})
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default $SERVER_PORT)")

	return cmd
}

// serve はctxがキャンセルされるまでHTTPサーバーを実行する。
// キャンセル後はグレースフルシャットダウンを行う。
func serve(ctx context.Context, server *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("ブリッジを起動しました", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("ブリッジを停止しています")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("ブリッジを停止しました")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server listen failed: %w", err)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := Init(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			slog.Info("マイグレーションを実行します",
				slog.String("driver", cfg.StoreDriver),
				slog.String("dsn", maskDSN(cfg.StoreDriver, cfg.StoreDSN())),
			)
			if err := database.RunMigrations(cfg.StoreDriver, cfg.StoreDSN()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			slog.Info("マイグレーションが完了しました")
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an identity provider access token",
		Example: `  # Sign in with a token obtained by the mobile shell
  snapchef login --token "$ACCESS_TOKEN"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Config.ValidateAuth0(); err != nil {
					return err
				}

				claims, err := a.NewProvider().FetchUserInfo(ctx, token)
				if err != nil {
					return fmt.Errorf("failed to fetch user info: %w", err)
				}
				result, err := a.Sessions.Login(ctx, token, claims)
				if err != nil {
					return err
				}

				// プロフィールの補完と保存が終わるまで待つ
				select {
				case <-result.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
				return printJSON(cmd.OutOrStdout(), a.Sessions.State())
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Access token issued by the identity provider")
	cmd.MarkFlagRequired("token")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				a.Sessions.Logout(ctx)
				return printJSON(cmd.OutOrStdout(), a.Sessions.State())
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				return printJSON(cmd.OutOrStdout(), a.Sessions.State())
			})
		},
	}
}

// snapOutput はsnapコマンドの出力。
type snapOutput struct {
	SubmissionID string               `json:"submissionId"`
	Dish         *recipe.DishSummary  `json:"dish,omitempty"`
	Result       model.AnalysisResult `json:"result"`
}

func newSnapCmd() *cobra.Command {
	var opts upload.SubmitOptions

	cmd := &cobra.Command{
		Use:   "snap FILE...",
		Short: "Analyze dish photos",
		Example: `  snapchef snap --zipcode 60201 carbonara.jpg
  snapchef snap --menu "Cacio e pepe, Carbonara" plate1.jpg plate2.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				if _, err := requireSubject(a); err != nil {
					return err
				}

				for _, path := range args {
					abs, err := filepath.Abs(path)
					if err != nil {
						return fmt.Errorf("invalid path %s: %w", path, err)
					}
					a.Capture.Append(model.CapturedPhoto{URI: abs})
				}

				entry, err := a.Coordinator.Submit(ctx, opts)
				if err != nil {
					return err
				}

				out := snapOutput{SubmissionID: entry.SubmissionID, Result: entry.Result}
				if dish, err := recipe.ExtractDish(entry.Result); err == nil {
					out.Dish = &dish
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Zipcode, "zipcode", "", "Zipcode for local ingredients (default $DEFAULT_ZIPCODE)")
	cmd.Flags().StringVar(&opts.MenuText, "menu", "", "Menu text to help recognition")
	cmd.Flags().StringVar(&opts.UserText, "note", "", "Free-form note for the recipe")

	return cmd
}

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Show the recipe route you choose most often",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				sub, err := requireSubject(a)
				if err != nil {
					return err
				}
				summary, err := a.Client.MostCommonRoute(ctx, sub)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newHealthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running bridge",
		Long:  "Requests /health on a running bridge. Used by container health checks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8080", "Port of the running bridge")

	return cmd
}

// runHealthcheck は/healthエンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskDSN はログに出すDSNの認証情報をマスクする。
func maskDSN(driver, dsn string) string {
	if driver != database.DriverPostgres {
		return dsn
	}
	if len(dsn) > 20 {
		return dsn[:12] + "***@..."
	}
	return "***"
}

// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 既定値
const (
	DefaultCandidates = "http://localhost:5000,http://10.0.2.2:5000"
	DefaultZipcode    = "60201"
	DefaultStorePath  = "snapchef.db"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity provider (Auth0)
	Auth0Domain      string
	Auth0ClientID    string
	Auth0RedirectURL string
	Auth0Audience    string

	// Backend
	BackendCandidates []string
	BackendTimeout    time.Duration // 0はプラットフォーム既定
	DefaultZipcode    string

	// Store
	StoreDriver   string // sqlite | postgres
	StorePath     string
	DatabaseURL   string
	SessionSecret string

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	SubmitRatePerMin  int

	// Logging
	LogLevel string
}

// candidatesFile はBACKEND_CANDIDATES_FILEのYAML形式。
type candidatesFile struct {
	Candidates []string `yaml:"candidates"`
}

// Load は環境変数からConfigを読み込む。
// 条件付きで必須となる環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Auth0Domain = strings.TrimSuffix(strings.TrimPrefix(os.Getenv("AUTH0_DOMAIN"), "https://"), "/")
	cfg.Auth0ClientID = os.Getenv("AUTH0_CLIENT_ID")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.Auth0RedirectURL = getEnvString("AUTH0_REDIRECT_URL", "http://localhost:"+cfg.ServerPort+"/auth/callback")

	candidates, err := loadCandidates()
	if err != nil {
		return nil, err
	}
	cfg.BackendCandidates = candidates
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 0)
	cfg.DefaultZipcode = getEnvString("DEFAULT_ZIPCODE", DefaultZipcode)

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", "sqlite"))
	cfg.StorePath = getEnvString("STORE_PATH", DefaultStorePath)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")

	switch cfg.StoreDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q (allowed: sqlite, postgres)", cfg.StoreDriver)
	}

	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:8081")
	cfg.SubmitRatePerMin = getEnvInt("SUBMIT_RATE_PER_MIN", 6)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// ValidateAuth0 はIdPとの連携に必要な設定が揃っているかを検証する。
// serveやブラウザログインなど、IdPを呼び出すコマンドの起動時に使用する。
func (c *Config) ValidateAuth0() error {
	var missing []string
	if c.Auth0Domain == "" {
		missing = append(missing, "AUTH0_DOMAIN")
	}
	if c.Auth0ClientID == "" {
		missing = append(missing, "AUTH0_CLIENT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return nil
}

// StoreDSN はStoreDriverに応じた接続文字列を返す。
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.StorePath
}

// loadCandidates はバックエンドの候補ベースURLを読み込む。
// BACKEND_CANDIDATES_FILEが指定されていればYAMLファイルを優先する。
func loadCandidates() ([]string, error) {
	var raw []string

	if path := os.Getenv("BACKEND_CANDIDATES_FILE"); path != "" {
		list, err := loadCandidatesFile(path)
		if err != nil {
			return nil, err
		}
		raw = list
	} else {
		raw = strings.Split(getEnvString("BACKEND_CANDIDATES", DefaultCandidates), ",")
	}

	var candidates []string
	for _, s := range raw {
		s = strings.TrimRight(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid backend candidate URL: %q", s)
		}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no backend candidate URLs configured")
	}
	return candidates, nil
}

func loadCandidatesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}

	var f candidatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse candidates file: %w", err)
	}
	return f.Candidates, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

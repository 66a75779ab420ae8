// Package handler はUIシェル向けのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/snapchef/internal/auth"
	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/session"
)

// IdentityProvider は認証ハンドラーが必要とするIdPのインターフェース。
type IdentityProvider interface {
	GetLoginURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*auth.LoginGrant, error)
	FetchUserInfo(ctx context.Context, accessToken string) (model.UserInfo, error)
}

// SessionController はセッション操作のインターフェース。session.Managerが実装する。
type SessionController interface {
	State() session.State
	Login(ctx context.Context, token string, claims model.UserInfo) (*session.LoginResult, error)
	Logout(ctx context.Context)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// AppURL はコールバック完了後のリダイレクト先。空の場合はセッション状態をJSONで返す。
	AppURL string
}

// AuthHandler はログイン・ログアウト関連のHTTPハンドラー。
type AuthHandler struct {
	provider IdentityProvider
	sessions SessionController
	pending  *auth.PendingLogins
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(provider IdentityProvider, sessions SessionController, pending *auth.PendingLogins, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		pending:  pending,
		config:   config,
	}
}

type tokenLoginRequest struct {
	AccessToken string `json:"access_token"`
}

// Session は現在のセッション状態を返す。
// GET /session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.State())
}

// Login はPKCE付きの認可フローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	pkce, err := auth.NewPKCE()
	if err != nil {
		slog.Error("PKCEの生成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	state := h.pending.Begin(pkce.Verifier)
	http.Redirect(w, r, h.provider.GetLoginURL(state, pkce.Challenge), http.StatusTemporaryRedirect)
}

// Callback は認可コードをトークンに交換してログインする。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		slog.Warn("IdPが認可を拒否しました", slog.String("error", errParam))
		middleware.WriteAPIError(w, authFailedError())
		return
	}

	verifier, ok := h.pending.Take(r.URL.Query().Get("state"))
	if !ok {
		slog.Warn("不明または期限切れのstateです")
		middleware.WriteAPIError(w, model.NewInvalidRequestError("unknown or expired state"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	grant, err := h.provider.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if _, err := h.sessions.Login(r.Context(), grant.AccessToken, grant.Claims); err != nil {
		h.writeLoginError(w, err)
		return
	}

	if h.config.AppURL != "" {
		http.Redirect(w, r, h.config.AppURL, http.StatusTemporaryRedirect)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.State())
}

// Token はUIシェルが取得済みのアクセストークンでログインする。
// POST /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("body must be JSON"))
		return
	}
	if req.AccessToken == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("access_token is required"))
		return
	}

	claims, err := h.provider.FetchUserInfo(r.Context(), req.AccessToken)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if _, err := h.sessions.Login(r.Context(), req.AccessToken, claims); err != nil {
		h.writeLoginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.sessions.State())
}

// Logout はセッションを破棄する。何度呼び出しても成功する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	slog.Error("ログインに失敗しました", slog.String("error", err.Error()))
	if errors.Is(err, model.ErrMissingSubject) {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteAPIError(w, authFailedError())
}

func authFailedError() *model.APIError {
	return &model.APIError{
		Code:     "AUTH_FAILED",
		Message:  "Sign in did not complete.",
		Category: "auth",
		Action:   "Sign in again.",
		Status:   http.StatusBadGateway,
	}
}

// Package auth はIdP（Auth0）とのOIDC連携を提供する。
// 認可URLの生成、認可コードとトークンの交換、userinfoの取得を扱う。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/security"
)

const (
	defaultScope      = "openid profile email"
	defaultHTTPTimeout = 10 * time.Second
	maxResponseSize   = 1 << 20
)

// Auth0Config はAuth0プロバイダーの設定。
type Auth0Config struct {
	Domain      string // テナントドメイン（例: snapchef.us.auth0.com）
	ClientID    string
	RedirectURL string
	Audience    string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// nilの場合はsafeurlのクライアントを使用する
	HTTPClient *http.Client
}

// LoginGrant はログイン成功時に得られるアクセストークンとクレーム。
type LoginGrant struct {
	AccessToken string
	Claims      model.UserInfo
}

// Auth0Provider はAuth0のOIDCエンドポイントを呼び出す。
type Auth0Provider struct {
	config     Auth0Config
	httpClient *http.Client
}

// NewAuth0Provider はAuth0Providerを生成する。
func NewAuth0Provider(config Auth0Config) *Auth0Provider {
	base := "https://" + config.Domain
	if config.AuthURL == "" {
		config.AuthURL = base + "/authorize"
	}
	if config.TokenURL == "" {
		config.TokenURL = base + "/oauth/token"
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = base + "/userinfo"
	}

	client := config.HTTPClient
	if client == nil {
		client = security.NewSafeClient(defaultHTTPTimeout)
	}

	return &Auth0Provider{config: config, httpClient: client}
}

// GetLoginURL はAuth0の認可URLを生成する。
// PKCE(S256)のcode_challengeを含み、スコープにはopenid, profile, emailを含む。
func (p *Auth0Provider) GetLoginURL(state, codeChallenge string) string {
	params := url.Values{
		"client_id":             {p.config.ClientID},
		"redirect_uri":          {p.config.RedirectURL},
		"response_type":         {"code"},
		"scope":                 {defaultScope},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	if p.config.Audience != "" {
		params.Set("audience", p.config.Audience)
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// tokenResponse はAuth0のトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、クレームを取得する。
func (p *Auth0Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*LoginGrant, error) {
	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code, codeVerifier)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでクレームを取得
	claims, err := p.FetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &LoginGrant{AccessToken: tokenResp.AccessToken, Claims: claims}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
// パブリッククライアントのためclient_secretは送らず、code_verifierで検証させる。
func (p *Auth0Provider) exchangeToken(ctx context.Context, code, codeVerifier string) (*tokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.config.ClientID},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {p.config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", status, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// FetchUserInfo はアクセストークンでuserinfoエンドポイントを呼び出す。
// 返されたクレームはそのまま保持し、subが無い場合はエラーを返す。
func (p *Auth0Provider) FetchUserInfo(ctx context.Context, accessToken string) (model.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, status, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", status, string(body))
	}

	var claims model.UserInfo
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if claims.Sub() == "" {
		return nil, model.ErrMissingSubject
	}

	// nameが無いIdP接続ではnicknameを表示名として使う
	if _, ok := claims[model.KeyName]; !ok && claims.Name() != "" {
		claims[model.KeyName] = claims.Name()
	}

	return claims, nil
}

func (p *Auth0Provider) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

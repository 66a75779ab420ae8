package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/snapchef/internal/auth"
	"github.com/hitoshi/snapchef/internal/capture"
	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/navigation"
	"github.com/hitoshi/snapchef/internal/results"
	"github.com/hitoshi/snapchef/internal/session"
	"github.com/hitoshi/snapchef/internal/upload"
)

const testCSRFToken = "test-csrf-token"

// --- モック定義 ---

type mockProvider struct {
	exchangeCodeFn  func(ctx context.Context, code, verifier string) (*auth.LoginGrant, error)
	fetchUserInfoFn func(ctx context.Context, token string) (model.UserInfo, error)
}

func (m *mockProvider) GetLoginURL(state, challenge string) string {
	return "https://idp.example/authorize?state=" + state + "&code_challenge=" + challenge
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code, verifier string) (*auth.LoginGrant, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, verifier)
	}
	return nil, nil
}

func (m *mockProvider) FetchUserInfo(ctx context.Context, token string) (model.UserInfo, error) {
	if m.fetchUserInfoFn != nil {
		return m.fetchUserInfoFn(ctx, token)
	}
	return nil, nil
}

type mockSessions struct {
	state    session.State
	loginFn  func(ctx context.Context, token string, claims model.UserInfo) error
	logouts  int
	lastTok  string
	lastSubj string
}

func (m *mockSessions) State() session.State { return m.state }

func (m *mockSessions) Login(ctx context.Context, token string, claims model.UserInfo) (*session.LoginResult, error) {
	if claims.Sub() == "" {
		return nil, model.ErrMissingSubject
	}
	if m.loginFn != nil {
		if err := m.loginFn(ctx, token, claims); err != nil {
			return nil, err
		}
	}
	m.lastTok = token
	m.lastSubj = claims.Sub()
	m.state = session.State{
		Status:          session.StatusAuthenticated,
		IsAuthenticated: true,
		UserInfo:        claims,
	}
	return nil, nil
}

func (m *mockSessions) Logout(ctx context.Context) {
	m.logouts++
	m.state = session.State{Status: session.StatusUnauthenticated}
}

func signedIn(sub string) *mockSessions {
	return &mockSessions{state: session.State{
		Status:          session.StatusAuthenticated,
		IsAuthenticated: true,
		UserInfo:        model.UserInfo{"sub": sub, "name": "Test User"},
	}}
}

type mockSubmitter struct {
	submitFn func(ctx context.Context, opts upload.SubmitOptions) (*results.Entry, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, opts upload.SubmitOptions) (*results.Entry, error) {
	return m.submitFn(ctx, opts)
}

type mockRecipes struct {
	finalRecipeFn func(ctx context.Context, body any) (model.AnalysisResult, error)
}

func (m *mockRecipes) FinalRecipe(ctx context.Context, body any) (model.AnalysisResult, error) {
	return m.finalRecipeFn(ctx, body)
}

type mockRoutes struct {
	mostCommonRouteFn func(ctx context.Context, sub string) (*model.RouteSummary, error)
}

func (m *mockRoutes) MostCommonRoute(ctx context.Context, sub string) (*model.RouteSummary, error) {
	return m.mostCommonRouteFn(ctx, sub)
}

type recordingNavigator struct {
	routes []navigation.Route
}

func (n *recordingNavigator) Navigate(route navigation.Route) {
	n.routes = append(n.routes, route)
}

// --- テスト用ルーター ---

// testEnv はテスト用ルーターとその依存関係。
type testEnv struct {
	deps     *RouterDeps
	sessions *mockSessions
	capture  *capture.Session
	exchange *results.Exchange
	nav      *recordingNavigator
}

func newTestEnv(t *testing.T, sessions *mockSessions) *testEnv {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env := &testEnv{
		sessions: sessions,
		capture:  capture.NewSession(),
		exchange: results.NewExchange(),
		nav:      &recordingNavigator{},
	}
	env.deps = &RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:8081",
		RateLimiter:       rl,
		Provider:          &mockProvider{},
		Sessions:          sessions,
		PendingLogins:     auth.NewPendingLogins(10 * time.Minute),
		Capture:           env.capture,
		Submitter:         &mockSubmitter{},
		Results:           env.exchange,
		Recipes:           &mockRecipes{},
		Navigator:         env.nav,
		Routes:            &mockRoutes{},
	}
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(e.deps).ServeHTTP(w, req)
	return w
}

// newRequest はCSRFトークン付きのリクエストを生成する。
func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "snapchef_csrf", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	return req
}

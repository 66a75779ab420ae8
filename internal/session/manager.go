package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/navigation"
)

// Status はセッションの状態。
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State はセッション状態のスナップショット。
type State struct {
	Status          Status         `json:"-"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	IsLoading       bool           `json:"isLoading"`
	UserInfo        model.UserInfo `json:"userInfo"`
}

// SessionStore はセッションの永続化先。
type SessionStore interface {
	Save(ctx context.Context, token string, userInfo model.UserInfo) error
	Load(ctx context.Context) *Persisted
	Clear(ctx context.Context) error
}

// Enricher はログイン後にバックエンドのプロフィールを取得・作成する。
type Enricher interface {
	FetchOrCreateUser(ctx context.Context, sub, email, name string) (model.UserInfo, error)
}

// Observer はログインの結果を受け取る。メトリクス記録に使う。
type Observer interface {
	RecordLogin(phase string)
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithEnrichTimeout はプロフィール取得のタイムアウトを設定する。
func WithEnrichTimeout(d time.Duration) Option {
	return func(m *Manager) { m.enrichTimeout = d }
}

// WithObserver はログイン結果の通知先を設定する。
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogoutHook はログアウト時に呼ばれる関数を追加する。
func WithLogoutHook(fn func()) Option {
	return func(m *Manager) { m.logoutHooks = append(m.logoutHooks, fn) }
}

// Manager はログイン状態を管理する。
// 起動時の復元、ログイン（ローカル確定とバックエンドでの補完の2段階）、
// ログアウトを扱う。
type Manager struct {
	store         SessionStore
	enricher      Enricher
	navigator     navigation.Navigator
	logger        *slog.Logger
	observer      Observer
	enrichTimeout time.Duration
	logoutHooks   []func()

	mu         sync.RWMutex
	status     Status
	userInfo   model.UserInfo
	token      string
	generation uint64

	// persistMu はストアへの書き込み順序を状態遷移の順序と揃える
	persistMu sync.Mutex

	startOnce sync.Once
	ready     chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager はManagerを生成する。Startを呼ぶまで状態はUninitialized。
func NewManager(store SessionStore, enricher Enricher, navigator navigation.Navigator, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:         store,
		enricher:      enricher,
		navigator:     navigator,
		logger:        slog.Default(),
		enrichTimeout: 30 * time.Second,
		status:        StatusUninitialized,
		ready:         make(chan struct{}),
		baseCtx:       ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.navigator == nil {
		m.navigator = navigation.Discard{}
	}
	return m
}

// Start は保存済みセッションを復元する。2回目以降の呼び出しは何もしない。
// 復元が終わるとReadyが閉じられ、ログイン状態に応じた画面へ遷移する。
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.status = StatusLoading
		startGen := m.generation
		m.mu.Unlock()

		persisted := m.store.Load(ctx)

		m.mu.Lock()
		// 復元中にログイン・ログアウトが行われた場合はそちらを優先する
		if m.generation == startGen {
			if persisted != nil {
				m.status = StatusAuthenticated
				m.userInfo = persisted.UserInfo
				m.token = persisted.Token
			} else {
				m.status = StatusUnauthenticated
			}
		}
		authenticated := m.status == StatusAuthenticated
		m.mu.Unlock()

		close(m.ready)

		m.logger.Info("セッションの復元が完了しました",
			slog.Bool("authenticated", authenticated),
		)
		if authenticated {
			m.navigator.Navigate(navigation.RouteHome)
		} else {
			m.navigator.Navigate(navigation.RouteEntry)
		}
	})
}

// Ready は起動時の復元が完了すると閉じられるチャネルを返す。
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// State は現在の状態のスナップショットを返す。UserInfoはコピーされる。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := m.status
	// 復元前のLoadingはUIから見ると常に読み込み中
	loading := status == StatusUninitialized || status == StatusLoading
	return State{
		Status:          status,
		IsAuthenticated: status == StatusAuthenticated,
		IsLoading:       loading,
		UserInfo:        m.userInfo.Clone(),
	}
}

// Subject はログイン中ユーザーのsubを返す。未ログインの場合は空文字を返す。
func (m *Manager) Subject() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusAuthenticated {
		return ""
	}
	return m.userInfo.Sub()
}

// Login はIdPのクレームで即座にログイン状態へ遷移し、永続化する。
// その後バックエンドからプロフィールを非同期に取得してクレームに重ねる。
// 取得に失敗してもログインは成功として扱い、フォールバックのプロフィールで補う。
func (m *Manager) Login(ctx context.Context, token string, claims model.UserInfo) (*LoginResult, error) {
	if claims.Sub() == "" {
		return nil, model.ErrMissingSubject
	}
	claims = claims.Clone()

	m.persistMu.Lock()
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.status = StatusAuthenticated
	m.userInfo = claims.Clone()
	m.token = token
	m.mu.Unlock()

	if err := m.store.Save(ctx, token, claims); err != nil {
		m.logger.Error("セッションの保存に失敗しました",
			slog.String("sub", claims.Sub()),
			slog.String("error", err.Error()),
		)
	}
	m.persistMu.Unlock()

	m.logger.Info("ログインしました", slog.String("sub", claims.Sub()))
	m.navigator.Navigate(navigation.RouteHome)

	result := newLoginResult(claims)
	m.wg.Add(1)
	go m.enrich(gen, token, claims, result)

	return result, nil
}

// enrich はバックエンドのプロフィールを取得してユーザー情報を更新する。
// 取得中にログアウトや再ログインがあった場合、結果は破棄する。
func (m *Manager) enrich(gen uint64, token string, claims model.UserInfo, result *LoginResult) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.baseCtx, m.enrichTimeout)
	defer cancel()

	var (
		merged model.UserInfo
		phase  Phase
	)
	profile, err := m.fetchProfile(ctx, claims)
	if err != nil {
		enrichErr := &model.EnrichmentFailedError{Sub: claims.Sub(), Err: err}
		m.logger.Warn("プロフィールの取得に失敗したためフォールバックを使用します",
			slog.String("error", enrichErr.Error()),
		)
		merged = claims.Merge(model.FallbackProfile())
		phase = PhaseFallback
	} else {
		merged = claims.Merge(profile)
		phase = PhaseEnriched
	}

	m.persistMu.Lock()
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.persistMu.Unlock()
		m.logger.Info("古いログインのプロフィール取得結果を破棄しました",
			slog.String("sub", claims.Sub()),
		)
		result.finish(PhaseDiscarded, nil)
		m.observe(PhaseDiscarded)
		return
	}
	m.userInfo = merged.Clone()
	m.mu.Unlock()

	if err := m.store.Save(ctx, token, merged); err != nil {
		m.logger.Error("プロフィールの保存に失敗しました",
			slog.String("sub", claims.Sub()),
			slog.String("error", err.Error()),
		)
	}
	m.persistMu.Unlock()

	result.finish(phase, merged)
	m.observe(phase)
}

func (m *Manager) fetchProfile(ctx context.Context, claims model.UserInfo) (model.UserInfo, error) {
	if m.enricher == nil {
		return nil, errNoEnricher
	}
	return m.enricher.FetchOrCreateUser(ctx, claims.Sub(), claims.Email(), claims.Name())
}

// Logout は保存済みセッションを削除して未ログイン状態へ遷移する。
// 何度呼び出しても同じ結果となり、削除の失敗はログに記録するのみ。
func (m *Manager) Logout(ctx context.Context) {
	m.persistMu.Lock()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("セッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	m.generation++
	wasAuthenticated := m.status == StatusAuthenticated
	m.status = StatusUnauthenticated
	m.userInfo = nil
	m.token = ""
	m.mu.Unlock()
	m.persistMu.Unlock()

	for _, hook := range m.logoutHooks {
		hook()
	}

	if wasAuthenticated {
		m.logger.Info("ログアウトしました")
	}
	m.navigator.Navigate(navigation.RouteEntry)
}

// Close は実行中のプロフィール取得をキャンセルし、終了を待つ。
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) observe(phase Phase) {
	if m.observer != nil {
		m.observer.RecordLogin(phase.String())
	}
}

package session

import (
	"errors"
	"sync"

	"github.com/hitoshi/snapchef/internal/model"
)

var errNoEnricher = errors.New("no profile enricher configured")

// Phase はログイン処理の進行段階。
type Phase int

const (
	// PhaseLocal はIdPのクレームのみでログインが確定した段階。
	PhaseLocal Phase = iota
	// PhaseEnriched はバックエンドのプロフィールが反映された段階。
	PhaseEnriched
	// PhaseFallback はプロフィール取得に失敗しフォールバック値が反映された段階。
	PhaseFallback
	// PhaseDiscarded は取得中にログアウト等があり結果が破棄された段階。
	PhaseDiscarded
)

func (p Phase) String() string {
	switch p {
	case PhaseLocal:
		return "local"
	case PhaseEnriched:
		return "enriched"
	case PhaseFallback:
		return "fallback"
	case PhaseDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// LoginResult はLoginの進行状況を表す。
type LoginResult struct {
	done chan struct{}

	mu       sync.Mutex
	phase    Phase
	userInfo model.UserInfo
}

func newLoginResult(claims model.UserInfo) *LoginResult {
	return &LoginResult{
		done:     make(chan struct{}),
		phase:    PhaseLocal,
		userInfo: claims,
	}
}

// Done はプロフィールの補完が終わると閉じられるチャネルを返す。
func (r *LoginResult) Done() <-chan struct{} {
	return r.done
}

// Phase は現在の段階を返す。
func (r *LoginResult) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// UserInfo は現段階のユーザー情報のコピーを返す。
func (r *LoginResult) UserInfo() model.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userInfo.Clone()
}

func (r *LoginResult) finish(phase Phase, userInfo model.UserInfo) {
	r.mu.Lock()
	r.phase = phase
	if userInfo != nil {
		r.userInfo = userInfo.Clone()
	}
	r.mu.Unlock()
	close(r.done)
}

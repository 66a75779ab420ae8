package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PKCE はAuthorization Code + PKCEフローの検証子とチャレンジ。
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE はランダムなcode_verifierとS256のcode_challengeを生成する。
func NewPKCE() (*PKCE, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)
	return &PKCE{Verifier: verifier, Challenge: ChallengeFor(verifier)}, nil
}

// ChallengeFor はverifierに対するS256のcode_challengeを返す。
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// pendingLogin はstateに紐づく進行中のログイン。
type pendingLogin struct {
	verifier  string
	expiresAt time.Time
}

// PendingLogins は認可URLを発行してからコールバックを受けるまでの
// state→code_verifierの対応を保持する。stateは一度だけ使用できる。
type PendingLogins struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]pendingLogin
}

// NewPendingLogins はPendingLoginsを生成する。
func NewPendingLogins(ttl time.Duration) *PendingLogins {
	return &PendingLogins{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]pendingLogin),
	}
}

// Begin は新しいstateを発行し、verifierと対応付けて保存する。
func (p *PendingLogins) Begin(verifier string) string {
	state := uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictExpired()
	p.entries[state] = pendingLogin{verifier: verifier, expiresAt: p.now().Add(p.ttl)}
	return state
}

// Take はstateに対応するverifierを取り出して削除する。
// 未知または期限切れのstateはok=falseを返す。
func (p *PendingLogins) Take(state string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[state]
	if !ok {
		return "", false
	}
	delete(p.entries, state)

	if p.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.verifier, true
}

func (p *PendingLogins) evictExpired() {
	now := p.now()
	for state, entry := range p.entries {
		if now.After(entry.expiresAt) {
			delete(p.entries, state)
		}
	}
}

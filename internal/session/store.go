// Package session はログインセッションの永続化と状態遷移を管理する。
package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/repository"
)

// 永続化キー。モバイルアプリ版と同じ名前を使う。
const (
	KeyToken    = "auth0Token"
	KeyUserInfo = "auth0User"
)

// TokenSealer はアクセストークンを保存前に暗号化する。
type TokenSealer interface {
	Seal(token string) (string, error)
	Open(sealed string) (string, error)
}

// Persisted はストアに保存されたセッション。
type Persisted struct {
	Token    string
	UserInfo model.UserInfo
}

// Store はアクセストークンとユーザー情報をキー・バリューストアに保存する。
// 2つのエントリは常に一緒に書き込み・削除される。
type Store struct {
	repo   repository.KeyValueRepository
	sealer TokenSealer
	logger *slog.Logger
}

// NewStore はStoreを生成する。sealerがnilの場合はトークンを平文で保存する。
func NewStore(repo repository.KeyValueRepository, sealer TokenSealer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, sealer: sealer, logger: logger}
}

// Save はトークンとユーザー情報を1トランザクションで保存する。
func (s *Store) Save(ctx context.Context, token string, userInfo model.UserInfo) error {
	encoded, err := json.Marshal(userInfo)
	if err != nil {
		return &model.PersistenceError{Op: "save", Err: err}
	}

	stored := token
	if s.sealer != nil {
		stored, err = s.sealer.Seal(token)
		if err != nil {
			return &model.PersistenceError{Op: "save", Err: err}
		}
	}

	if err := s.repo.SetMany(ctx, map[string][]byte{
		KeyToken:    []byte(stored),
		KeyUserInfo: encoded,
	}); err != nil {
		return &model.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Load は保存済みのセッションを返す。
// どちらかのエントリが無い場合や、読み取り・復号・デコードに失敗した場合は
// ログに記録した上で未保存として扱い、nilを返す。
func (s *Store) Load(ctx context.Context) *Persisted {
	rawToken, tokenFound, err := s.repo.Get(ctx, KeyToken)
	if err != nil {
		s.logFailure("load", err)
		return nil
	}
	rawUser, userFound, err := s.repo.Get(ctx, KeyUserInfo)
	if err != nil {
		s.logFailure("load", err)
		return nil
	}
	if !tokenFound || !userFound {
		return nil
	}

	token := string(rawToken)
	if s.sealer != nil {
		token, err = s.sealer.Open(token)
		if err != nil {
			s.logFailure("load", err)
			return nil
		}
	}

	var userInfo model.UserInfo
	if err := json.Unmarshal(rawUser, &userInfo); err != nil {
		s.logFailure("load", err)
		return nil
	}
	if token == "" || userInfo.Sub() == "" {
		return nil
	}

	return &Persisted{Token: token, UserInfo: userInfo}
}

// Clear はトークンとユーザー情報を削除する。存在しないキーはエラーにならない。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.DeleteMany(ctx, KeyToken, KeyUserInfo); err != nil {
		return &model.PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) logFailure(op string, err error) {
	s.logger.Warn("セッションストアの読み取りに失敗したため未ログインとして扱います",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

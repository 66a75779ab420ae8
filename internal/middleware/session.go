// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// subjectContextKey はリクエストコンテキストにログイン中ユーザーのsubを格納するためのキー。
var subjectContextKey = contextKey("subject")

// SessionReader はセッション状態の参照に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionReader interface {
	State() session.State
}

// NewSessionMiddleware はセッション状態に応じてリクエストを通過させるミドルウェアを返す。
// 起動時の復元中は503（Retry-After付き）、未ログインは401を返す。
// ログイン済みの場合はsubをリクエストコンテキストに注入する。
func NewSessionMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := sessions.State()

			if state.IsLoading {
				w.Header().Set("Retry-After", "1")
				WriteAPIError(w, model.NewSessionLoadingError())
				return
			}
			if !state.IsAuthenticated || state.UserInfo.Sub() == "" {
				WriteAPIError(w, model.NewNotAuthenticatedError())
				return
			}

			ctx := ContextWithSubject(r.Context(), state.UserInfo.Sub())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext はリクエストコンテキストからsubを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SubjectFromContext(ctx context.Context) (string, error) {
	sub, ok := ctx.Value(subjectContextKey).(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("subject not found in context")
	}
	return sub, nil
}

// ContextWithSubject はコンテキストにsubを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectContextKey, sub)
}

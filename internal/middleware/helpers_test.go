package middleware

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/session"
)

// fakeSessions はSessionReaderのテスト用実装。
type fakeSessions struct {
	state session.State
}

func (f *fakeSessions) State() session.State { return f.state }

func authenticated(sub string) *fakeSessions {
	return &fakeSessions{state: session.State{
		Status:          session.StatusAuthenticated,
		IsAuthenticated: true,
		UserInfo:        model.UserInfo{"sub": sub},
	}}
}

// okHandler は200を返し、呼び出されたことを記録するハンドラー。
func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
)

// RouteSummaryFetcher はルート集計を取得する。backend.Clientが実装する。
type RouteSummaryFetcher interface {
	MostCommonRoute(ctx context.Context, sub string) (*model.RouteSummary, error)
}

// ProfileHandler はプロフィール画面のHTTPハンドラー。
type ProfileHandler struct {
	routes RouteSummaryFetcher
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(routes RouteSummaryFetcher) *ProfileHandler {
	return &ProfileHandler{routes: routes}
}

// MostCommonRoute はログイン中ユーザーが最も多く選んだルートを返す。
// GET /api/profile/route
func (h *ProfileHandler) MostCommonRoute(w http.ResponseWriter, r *http.Request) {
	sub, err := middleware.SubjectFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewNotAuthenticatedError())
		return
	}

	summary, err := h.routes.MostCommonRoute(r.Context(), sub)
	if err != nil {
		slog.Warn("ルート集計の取得に失敗しました",
			slog.String("sub", sub),
			slog.String("error", err.Error()),
		)
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

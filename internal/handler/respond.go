package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
)

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeBackendError はバックエンド呼び出しの失敗を書き込む。
// 全候補に到達できなかった場合はその旨を返す。
func writeBackendError(w http.ResponseWriter, err error) {
	var unreachable *model.EndpointUnreachableError
	if errors.As(err, &unreachable) {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteAPIError(w, &model.APIError{
		Code:     "BACKEND_FAILED",
		Message:  "The recipe server returned an error.",
		Category: "backend",
		Action:   "Please try again.",
		Status:   http.StatusBadGateway,
	})
}

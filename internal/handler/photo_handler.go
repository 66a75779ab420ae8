package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
)

// CaptureStore は撮影中の写真一覧の操作。capture.Sessionが実装する。
type CaptureStore interface {
	Append(photo model.CapturedPhoto) int
	RemoveAt(i int) error
	List() []model.CapturedPhoto
	Clear()
}

// PhotoHandler は撮影セッションのHTTPハンドラー。
type PhotoHandler struct {
	capture CaptureStore
}

// NewPhotoHandler はPhotoHandlerを生成する。
func NewPhotoHandler(capture CaptureStore) *PhotoHandler {
	return &PhotoHandler{capture: capture}
}

// photoListResponse は写真一覧のAPIレスポンス。
type photoListResponse struct {
	Photos []model.CapturedPhoto `json:"photos"`
	Count  int                   `json:"count"`
}

// ListPhotos は撮影順の写真一覧を返す。
// GET /api/photos
func (h *PhotoHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	photos := h.capture.List()
	if photos == nil {
		photos = []model.CapturedPhoto{}
	}
	writeJSON(w, http.StatusOK, photoListResponse{Photos: photos, Count: len(photos)})
}

// AddPhoto は写真を末尾に追加する。
// POST /api/photos
func (h *PhotoHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	var photo model.CapturedPhoto
	if err := json.NewDecoder(r.Body).Decode(&photo); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("body must be JSON"))
		return
	}
	photo.URI = strings.TrimSpace(photo.URI)
	if photo.URI == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("uri is required"))
		return
	}

	count := h.capture.Append(photo)
	writeJSON(w, http.StatusCreated, map[string]int{"count": count})
}

// RemovePhoto は指定位置の写真を削除する。後続の写真は1つ前に詰められる。
// DELETE /api/photos/{index}
func (h *PhotoHandler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("index must be an integer"))
		return
	}

	if err := h.capture.RemoveAt(index); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearPhotos は全ての写真を破棄する。
// DELETE /api/photos
func (h *PhotoHandler) ClearPhotos(w http.ResponseWriter, r *http.Request) {
	h.capture.Clear()
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/snapchef/internal/middleware"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/navigation"
	"github.com/hitoshi/snapchef/internal/recipe"
	"github.com/hitoshi/snapchef/internal/results"
	"github.com/hitoshi/snapchef/internal/upload"
)

// Submitter は写真の送信を行う。upload.Coordinatorが実装する。
type Submitter interface {
	Submit(ctx context.Context, opts upload.SubmitOptions) (*results.Entry, error)
}

// ResultReader は直近の解析結果を参照する。results.Exchangeが実装する。
type ResultReader interface {
	Get() (*results.Entry, bool)
}

// RecipeClient はfinal-recipeを呼び出す。backend.Clientが実装する。
type RecipeClient interface {
	FinalRecipe(ctx context.Context, body any) (model.AnalysisResult, error)
}

// ResultsHandler は送信と結果画面のHTTPハンドラー。
type ResultsHandler struct {
	submitter Submitter
	results   ResultReader
	recipes   RecipeClient
	navigator navigation.Navigator
}

// NewResultsHandler はResultsHandlerを生成する。
func NewResultsHandler(submitter Submitter, reader ResultReader, recipes RecipeClient, navigator navigation.Navigator) *ResultsHandler {
	if navigator == nil {
		navigator = navigation.Discard{}
	}
	return &ResultsHandler{
		submitter: submitter,
		results:   reader,
		recipes:   recipes,
		navigator: navigator,
	}
}

type submitRequest struct {
	Zipcode  string `json:"zipcode"`
	MenuText string `json:"menu_text"`
	UserText string `json:"user_text"`
}

type recipeRequest struct {
	Option string `json:"option"`
}

// recipeResponse はfinal-recipeの結果。
type recipeResponse struct {
	Option   model.RouteOption    `json:"option"`
	FoodName string               `json:"foodName,omitempty"`
	Recipe   model.AnalysisResult `json:"recipe"`
}

// Submit は撮影済みの写真を解析に送信する。ボディは省略できる。
// POST /api/submit
func (h *ResultsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("body must be JSON"))
		return
	}

	entry, err := h.submitter.Submit(r.Context(), upload.SubmitOptions{
		Zipcode:  req.Zipcode,
		MenuText: req.MenuText,
		UserText: req.UserText,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// GetResult は直近の解析結果を返す。
// GET /api/results
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.results.Get()
	if !ok {
		middleware.WriteError(w, model.ErrNoResult)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetDish は解析結果から料理名と説明を返す。
// GET /api/results/dish
func (h *ResultsHandler) GetDish(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.results.Get()
	if !ok {
		middleware.WriteError(w, model.ErrNoResult)
		return
	}

	dish, err := recipe.ExtractDish(entry.Result)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dish)
}

// GetOption は指定ルートのレシピ案を返す。
// GET /api/results/options/{option}
func (h *ResultsHandler) GetOption(w http.ResponseWriter, r *http.Request) {
	opt, err := model.ParseRouteOption(chi.URLParam(r, "option"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	entry, ok := h.results.Get()
	if !ok {
		middleware.WriteError(w, model.ErrNoResult)
		return
	}

	sel, err := recipe.SelectOption(entry.Result, opt)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// ChooseRecipe は選択したルートの最終レシピを取得し、レシピ画面へ遷移させる。
// POST /api/results/recipe
func (h *ResultsHandler) ChooseRecipe(w http.ResponseWriter, r *http.Request) {
	var req recipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("body must be JSON"))
		return
	}
	opt, err := model.ParseRouteOption(req.Option)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	entry, ok := h.results.Get()
	if !ok {
		middleware.WriteError(w, model.ErrNoResult)
		return
	}

	body, err := recipe.NewFinalRecipeRequest(entry.Result, opt, entry.Zipcode)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	final, err := h.recipes.FinalRecipe(r.Context(), body)
	if err != nil {
		slog.Error("最終レシピの取得に失敗しました",
			slog.String("option", string(opt)),
			slog.String("error", err.Error()),
		)
		writeBackendError(w, err)
		return
	}

	h.navigator.Navigate(navigation.RouteRecipe)
	writeJSON(w, http.StatusOK, recipeResponse{Option: opt, FoodName: body.FoodName, Recipe: final})
}

package recipe

import (
	"encoding/json"

	"github.com/hitoshi/snapchef/internal/model"
)

// resultKeys はルートと解析結果のキーの対応。
var resultKeys = map[model.RouteOption]string{
	model.RouteOriginal:    "original_result",
	model.RouteLocal:       "seasonal_result",
	model.RouteSustainable: "sustainable_result",
}

// ingredientKeys はルートと食材情報のキーの対応。
var ingredientKeys = map[model.RouteOption]string{
	model.RouteOriginal:    "original_ingredient_info",
	model.RouteLocal:       "seasonal_ingredient_info",
	model.RouteSustainable: "sustainable_ingredient_info",
}

// ResultKey はルートに対応する解析結果のキーを返す。
func ResultKey(opt model.RouteOption) (string, bool) {
	key, ok := resultKeys[opt]
	return key, ok
}

// Selection は選択されたルートのレシピと食材情報。
type Selection struct {
	Option         model.RouteOption `json:"option"`
	Recipe         json.RawMessage   `json:"recipe"`
	IngredientInfo json.RawMessage   `json:"ingredientInfo,omitempty"`
}

// SelectOption は解析結果から指定ルートのレシピを取り出す。
// 値がJSONを含む文字列の場合は展開して返す。
func SelectOption(result model.AnalysisResult, opt model.RouteOption) (*Selection, error) {
	key, ok := resultKeys[opt]
	if !ok {
		return nil, model.ErrUnknownOption
	}
	if result.IsEmpty() {
		return nil, model.ErrNoResult
	}

	var fields map[string]json.RawMessage
	if err := result.Decode(&fields); err != nil {
		return nil, model.ErrOptionUnavailable
	}

	recipe, ok := unwrap(fields[key])
	if !ok {
		return nil, model.ErrOptionUnavailable
	}
	info, _ := unwrap(fields[ingredientKeys[opt]])

	return &Selection{Option: opt, Recipe: recipe, IngredientInfo: info}, nil
}

// unwrap は埋め込みJSONを含む文字列を展開する。nullや欠落はok=false。
func unwrap(raw json.RawMessage) (json.RawMessage, bool) {
	if model.AnalysisResult(raw).IsEmpty() {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if embedded, ok := parseEmbedded(s); ok {
			b, err := json.Marshal(embedded)
			if err == nil {
				return b, true
			}
		}
	}
	return raw, true
}

// FinalRecipeRequest はfinal-recipeに送る選択内容。
type FinalRecipeRequest struct {
	Option         model.RouteOption `json:"option"`
	FoodName       string            `json:"food_name,omitempty"`
	Zipcode        string            `json:"zipcode,omitempty"`
	Recipe         json.RawMessage   `json:"recipe"`
	IngredientInfo json.RawMessage   `json:"ingredient_info,omitempty"`
}

// NewFinalRecipeRequest は解析結果と選択ルートからfinal-recipeのリクエストを組み立てる。
func NewFinalRecipeRequest(result model.AnalysisResult, opt model.RouteOption, zipcode string) (*FinalRecipeRequest, error) {
	sel, err := SelectOption(result, opt)
	if err != nil {
		return nil, err
	}
	req := &FinalRecipeRequest{
		Option:         opt,
		Zipcode:        zipcode,
		Recipe:         sel.Recipe,
		IngredientInfo: sel.IngredientInfo,
	}
	if dish, err := ExtractDish(result); err == nil {
		req.FoodName = dish.FoodName
	}
	return req, nil
}

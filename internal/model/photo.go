package model

import (
	"bytes"
	"encoding/json"
)

// CapturedPhoto は撮影またはギャラリーから選択された写真を表す。
// URIはローカルリソースの位置を示す不透明な文字列で、解釈はデコーダーに委ねる。
type CapturedPhoto struct {
	URI          string `json:"uri"`
	DishNameHint string `json:"dish_name,omitempty"`
}

// AnalysisResult はscan-food等のバックエンドが返した解析結果。
// スキーマは契約として固定されていないため、JSONのまま保持する。
type AnalysisResult json.RawMessage

// MarshalJSON は保持しているJSONをそのまま出力する。空の場合はnullを出力する。
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// UnmarshalJSON は入力JSONのコピーを保持する。
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// IsEmpty は結果が空またはnullであればtrueを返す。
func (r AnalysisResult) IsEmpty() bool {
	trimmed := bytes.TrimSpace(r)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode は結果を任意の値にデコードする。
func (r AnalysisResult) Decode(v any) error {
	return json.Unmarshal(r, v)
}

// RouteOption はレシピの提案ルートを表す。
type RouteOption string

const (
	// RouteOriginal は元の料理をそのまま再現するルート。
	RouteOriginal RouteOption = "original"
	// RouteLocal は地元の旬の食材を使うルート。
	RouteLocal RouteOption = "local"
	// RouteSustainable は環境負荷の低い食材を使うルート。
	RouteSustainable RouteOption = "sustainable"
)

// ParseRouteOption は文字列をRouteOptionに変換する。未知の値はErrUnknownOptionを返す。
func ParseRouteOption(s string) (RouteOption, error) {
	switch opt := RouteOption(s); opt {
	case RouteOriginal, RouteLocal, RouteSustainable:
		return opt, nil
	default:
		return "", ErrUnknownOption
	}
}

// RouteCounts はルート別のレシピ作成数。
type RouteCounts struct {
	Original    int `json:"original"`
	Local       int `json:"local"`
	Sustainable int `json:"sustainable"`
}

// RouteSummary はユーザーが最も多く選んだルートの集計結果。
type RouteSummary struct {
	UserID          string      `json:"userId"`
	MostCommonRoute RouteOption `json:"mostCommonRoute"`
	Count           int         `json:"count"`
	TotalRecipes    int         `json:"totalRecipes"`
	Percentage      float64     `json:"percentage"`
	RouteCounts     RouteCounts `json:"routeCounts"`
}

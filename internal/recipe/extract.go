// Package recipe は解析結果から結果画面・レシピ画面に表示する値を取り出す。
package recipe

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/security"
)

// maxDepth は入れ子の探索を打ち切る深さ。
const maxDepth = 8

var sanitizer = security.NewTextSanitizer()

// DishSummary は結果画面のヘッダーに表示する料理名と説明。
type DishSummary struct {
	FoodName    string `json:"foodName"`
	Description string `json:"description,omitempty"`
}

// ExtractDish は解析結果からfood_nameとdescriptionを探して返す。
// トップレベルに無い場合は入れ子のオブジェクトや、JSONを含む文字列フィールド
// （コードフェンスで囲まれたものを含む）を順に探す。original_resultを最優先する。
func ExtractDish(result model.AnalysisResult) (DishSummary, error) {
	if result.IsEmpty() {
		return DishSummary{}, model.ErrNoResult
	}

	var root any
	if err := result.Decode(&root); err != nil {
		return DishSummary{}, model.ErrDishNotFound
	}

	obj, ok := findDish(root, 0)
	if !ok {
		return DishSummary{}, model.ErrDishNotFound
	}

	name, _ := obj["food_name"].(string)
	desc, _ := obj["description"].(string)
	summary := DishSummary{
		FoodName:    sanitizer.Sanitize(name),
		Description: sanitizer.Sanitize(desc),
	}
	if summary.FoodName == "" {
		return DishSummary{}, model.ErrDishNotFound
	}
	return summary, nil
}

// findDish は文字列のfood_nameを持つ最初のオブジェクトを返す。
func findDish(v any, depth int) (map[string]any, bool) {
	if depth > maxDepth {
		return nil, false
	}

	switch t := v.(type) {
	case map[string]any:
		if name, ok := t["food_name"].(string); ok && strings.TrimSpace(name) != "" {
			return t, true
		}
		for _, key := range orderedKeys(t) {
			if found, ok := findDish(t[key], depth+1); ok {
				return found, true
			}
		}
	case []any:
		for _, e := range t {
			if found, ok := findDish(e, depth+1); ok {
				return found, true
			}
		}
	case string:
		if embedded, ok := parseEmbedded(t); ok {
			return findDish(embedded, depth+1)
		}
	}
	return nil, false
}

// orderedKeys はoriginal_resultを先頭に、残りを辞書順に並べたキーを返す。
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != resultKeys[model.RouteOriginal] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m[resultKeys[model.RouteOriginal]]; ok {
		keys = append([]string{resultKeys[model.RouteOriginal]}, keys...)
	}
	return keys
}

// parseEmbedded は文字列に埋め込まれたJSONオブジェクトまたは配列を解釈する。
// LLMの出力に付くマークダウンのコードフェンスは取り除く。
func parseEmbedded(s string) (any, bool) {
	s = stripCodeFence(strings.TrimSpace(s))
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// 言語指定（```json 等）を行末まで読み飛ばす
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

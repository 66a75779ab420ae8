package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses は多重エスケープされた入力に対する除去の最大反復回数。
const maxSanitizePasses = 8

// TextSanitizer はバックエンド（LLM生成）のテキストから全てのHTMLを除去し、
// 画面にそのまま表示できるプレーンテキストにする。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicyにより全てのタグと属性を除去する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、文字実体を元に戻して前後の空白を削る。
// 文字実体を戻した結果が再びタグになる入力（&lt;script&gt; など）は、
// 変化しなくなるまで除去を繰り返す。収束しない場合はエスケープしたまま返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	cur := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			return strings.TrimSpace(cur)
		}
		cur = next
	}
	return strings.TrimSpace(s.policy.Sanitize(cur))
}

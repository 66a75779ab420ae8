// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// IdP（Auth0のテナントドメイン）など、設定値から組み立てた外部URLへのアクセスに使用する。
// safeurlの設定により以下がブロックされる:
//   - https以外のスキーム、443以外のポート
//   - プライベートIP、ループバック、リンクローカル、メタデータIP
//
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
// ループバック上のバックエンド候補には使用しないこと（候補はすべてブロックされる）。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import "context"

// KeyValueRepository はキー単位のバイト列を永続化するインターフェース。
// 端末ローカルのセッション情報（アクセストークン、ユーザー情報）の保存に使用する。
type KeyValueRepository interface {
	// Get は指定キーの値を取得する。存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetMany は複数のキーを同一トランザクションで書き込む。
	SetMany(ctx context.Context, entries map[string][]byte) error

	// DeleteMany は複数のキーを同一トランザクションで削除する。
	// 存在しないキーはエラーにしない。
	DeleteMany(ctx context.Context, keys ...string) error
}

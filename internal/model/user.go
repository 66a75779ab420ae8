// Package model はドメインモデルを定義する。
package model

// UserInfo はセッションが保持するユーザー情報レコード。
// IdPのクレームとバックエンドのプロフィールをマージした結果を保持する。
// 同一性はsub（IdPのsubject）のみで判定し、その他のフィールドは表示用のベストエフォート値。
type UserInfo map[string]any

// UserInfoの既知キー。
const (
	KeySub          = "sub"
	KeyName         = "name"
	KeyNickname     = "nickname"
	KeyEmail        = "email"
	KeyPicture      = "picture"
	KeyRecipesCount = "recipesCount"
	KeyStreak       = "streak"
)

// Sub はIdPのsubjectを返す。
func (u UserInfo) Sub() string { return u.stringField(KeySub) }

// Name は表示名を返す。nameが無い場合はnicknameを返す。
func (u UserInfo) Name() string {
	if name := u.stringField(KeyName); name != "" {
		return name
	}
	return u.stringField(KeyNickname)
}

// Email はメールアドレスを返す。
func (u UserInfo) Email() string { return u.stringField(KeyEmail) }

// Picture はプロフィール画像のURLを返す。
func (u UserInfo) Picture() string { return u.stringField(KeyPicture) }

func (u UserInfo) stringField(key string) string {
	if u == nil {
		return ""
	}
	s, _ := u[key].(string)
	return s
}

// Clone はネストしたmap/sliceを含めてコピーしたUserInfoを返す。
// nilに対してはnilを返す。
func (u UserInfo) Clone() UserInfo {
	if u == nil {
		return nil
	}
	return UserInfo(cloneMap(u))
}

// Merge はuにoverのフィールドを重ねた新しいUserInfoを返す。
// キーが衝突した場合はoverの値が優先される。どちらの引数も変更しない。
func (u UserInfo) Merge(over map[string]any) UserInfo {
	merged := make(UserInfo, len(u)+len(over))
	for k, v := range u.Clone() {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = cloneValue(v)
	}
	return merged
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case UserInfo:
		return UserInfo(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// FallbackProfile はバックエンドのプロフィール取得に失敗した場合に
// クレームへ重ねるローカルのプロフィール値を返す。
func FallbackProfile() map[string]any {
	return map[string]any{
		KeyRecipesCount: 0,
		KeyStreak:       0,
	}
}

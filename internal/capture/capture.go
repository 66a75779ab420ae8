// Package capture は送信前に撮影・選択された写真の一覧を保持する。
package capture

import (
	"sync"

	"github.com/hitoshi/snapchef/internal/model"
)

// Session は撮影順に並んだ写真の一覧。
// 結果画面への遷移後もClearされるまで内容を保持する。
type Session struct {
	mu     sync.RWMutex
	photos []model.CapturedPhoto
	epoch  uint64
}

// NewSession は空のSessionを生成する。
func NewSession() *Session {
	return &Session{}
}

// Append は写真を末尾に追加し、追加後の枚数を返す。
func (s *Session) Append(photo model.CapturedPhoto) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = append(s.photos, photo)
	return len(s.photos)
}

// RemoveAt はi番目（0始まり）の写真を削除する。残りの順序は保たれる。
// エポックは進めない。
func (s *Session) RemoveAt(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.photos) {
		return model.ErrIndexOutOfRange
	}
	s.photos = append(s.photos[:i:i], s.photos[i+1:]...)
	return nil
}

// List は写真一覧のコピーを返す。
func (s *Session) List() []model.CapturedPhoto {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CapturedPhoto, len(s.photos))
	copy(out, s.photos)
	return out
}

// Snapshot は写真一覧のコピーと、その時点のエポックを返す。
func (s *Session) Snapshot() ([]model.CapturedPhoto, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CapturedPhoto, len(s.photos))
	copy(out, s.photos)
	return out, s.epoch
}

// Clear は全ての写真を削除し、エポックを進める。
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = nil
	s.epoch++
}

// Len は写真の枚数を返す。
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.photos)
}

// Epoch はClearされた回数を返す。
// 送信中の解析結果を破棄する判定に使う。AppendとRemoveAtは同じ撮影セッション内の編集なので
// エポックを進めない。結果には送信時点の写真のコピーが保存されるため、編集後も結果と写真は食い違わない。
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

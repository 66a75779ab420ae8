// Package results は直近の解析結果を結果画面へ受け渡す単一スロットを提供する。
package results

import (
	"sync"
	"time"

	"github.com/hitoshi/snapchef/internal/model"
)

// Entry は1回の送信で得られた解析結果。
type Entry struct {
	SubmissionID string                `json:"submissionId"`
	Result       model.AnalysisResult  `json:"result"`
	Photos       []model.CapturedPhoto `json:"photos"`
	Zipcode      string                `json:"zipcode"`
	ReceivedAt   time.Time             `json:"receivedAt"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Result = append(model.AnalysisResult(nil), e.Result...)
	c.Photos = append([]model.CapturedPhoto(nil), e.Photos...)
	return &c
}

// Ticket は送信開始時点のエポックを表す。
type Ticket struct {
	epoch uint64
}

// Exchange は最新の解析結果を1件だけ保持する。
// 新しい結果は常に前の結果を置き換え、マージはしない。
type Exchange struct {
	mu    sync.RWMutex
	entry *Entry
	epoch uint64
}

// NewExchange は空のExchangeを生成する。
func NewExchange() *Exchange {
	return &Exchange{}
}

// Set は結果を無条件に置き換える。
func (x *Exchange) Set(entry *Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entry = entry.clone()
}

// Get は現在の結果のコピーを返す。結果が無い場合はok=false。
func (x *Exchange) Get() (*Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.entry == nil {
		return nil, false
	}
	return x.entry.clone(), true
}

// Begin は送信開始時に呼び出し、Commitに渡すチケットを返す。
func (x *Exchange) Begin() Ticket {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Ticket{epoch: x.epoch}
}

// Commit はBegin以降にInvalidateされていなければ結果を書き込みtrueを返す。
// Invalidate済みの場合は何もせずfalseを返す。
func (x *Exchange) Commit(t Ticket, entry *Entry) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if t.epoch != x.epoch {
		return false
	}
	x.entry = entry.clone()
	return true
}

// Invalidate は結果を破棄し、進行中の送信の書き込みを無効にする。
func (x *Exchange) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entry = nil
	x.epoch++
}

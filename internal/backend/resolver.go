// Package backend はレシピバックエンドへのHTTP呼び出しを提供する。
// 候補ベースURLを上から順に試すフォールバックと、型付きのAPIクライアントを含む。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/snapchef/internal/model"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 10 << 20

// Payload は候補ごとに再送できるリクエストボディ。
type Payload struct {
	ContentType string
	Body        []byte
}

// JSONPayload はvをJSONにエンコードしたPayloadを返す。
func JSONPayload(v any) (*Payload, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return &Payload{ContentType: "application/json", Body: body}, nil
}

// Response はいずれかの候補から得られたHTTPレスポンス。
// ステータスコードに関わらずトランスポートが成功した時点のものを保持する。
type Response struct {
	StatusCode int
	Body       []byte
	BaseURL    string
}

// OK はステータスコードが2xxであればtrueを返す。
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON はボディをvにデコードする。
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", r.BaseURL, err)
	}
	return nil
}

// HTTPStatusError はバックエンドが2xx以外を返したことを表す。
type HTTPStatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// AttemptObserver は候補ごとの試行結果を受け取る。メトリクス記録に使う。
type AttemptObserver interface {
	RecordBackendAttempt(baseURL string, success bool)
}

// Resolver は候補ベースURLのリストを保持し、リクエストを順に試行する。
// 成功した候補は記憶せず、毎回先頭から試す。
type Resolver struct {
	candidates []string
	httpClient *http.Client
	logger     *slog.Logger
	observer   AttemptObserver
}

// NewResolver はResolverを生成する。candidatesの順序が優先順位となる。
func NewResolver(candidates []string, httpClient *http.Client, logger *slog.Logger) *Resolver {
	trimmed := make([]string, len(candidates))
	for i, c := range candidates {
		trimmed[i] = strings.TrimRight(c, "/")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{candidates: trimmed, httpClient: httpClient, logger: logger}
}

// SetObserver は試行結果の通知先を設定する。
func (r *Resolver) SetObserver(o AttemptObserver) {
	r.observer = o
}

// Candidates は候補ベースURLのコピーを返す。
func (r *Resolver) Candidates() []string {
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Do はpathに対するリクエストを候補ごとに試行する。
// トランスポートエラーの場合のみ次の候補に進み、HTTPレスポンスが得られた時点で
// ステータスに関わらず返す。全候補が失敗した場合はEndpointUnreachableErrorを返す。
func (r *Resolver) Do(ctx context.Context, method, path string, payload *Payload) (*Response, error) {
	attempts := make([]model.EndpointAttempt, 0, len(r.candidates))

	for _, base := range r.candidates {
		resp, err := r.try(ctx, method, base, path, payload)
		if err == nil {
			r.observe(base, true)
			return resp, nil
		}

		// 呼び出し元のキャンセルは候補の問題ではないため打ち切る
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		r.observe(base, false)
		r.logger.Warn("バックエンド候補への接続に失敗しました",
			slog.String("base_url", base),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		attempts = append(attempts, model.EndpointAttempt{BaseURL: base, Err: err})
	}

	return nil, &model.EndpointUnreachableError{Path: path, Attempts: attempts}
}

func (r *Resolver) try(ctx context.Context, method, base, path string, payload *Payload) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil && payload.ContentType != "" {
		req.Header.Set("Content-Type", payload.ContentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, BaseURL: base}, nil
}

func (r *Resolver) observe(base string, success bool) {
	if r.observer != nil {
		r.observer.RecordBackendAttempt(base, success)
	}
}

// IsUnreachable はerrが全候補到達不能を表す場合にtrueを返す。
func IsUnreachable(err error) bool {
	var target *model.EndpointUnreachableError
	return errors.As(err, &target)
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/hitoshi/snapchef/internal/model"
)

// バックエンドのエンドポイントパス。
const (
	PathScanFood    = "/scan-food"
	PathFinalRecipe = "/final-recipe"
)

// ApplicationError はバックエンドが2xxで {"error": "..."} を返したことを表す。
type ApplicationError struct {
	Path    string
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s reported an error: %s", e.Path, e.Message)
}

// Client はResolver上に型付きのAPI呼び出しを提供する。
type Client struct {
	resolver *Resolver
}

// NewClient はClientを生成する。
func NewClient(resolver *Resolver) *Client {
	return &Client{resolver: resolver}
}

// envelope はユーザー系エンドポイントの共通レスポンス形式。
type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Existing *bool           `json:"existing,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// FetchOrCreateUser はsubに対応するバックエンドのプロフィールを取得し、
// 存在しなければ作成する。成功時はdataフィールドを返す。
func (c *Client) FetchOrCreateUser(ctx context.Context, sub, email, name string) (model.UserInfo, error) {
	if sub == "" {
		return nil, model.ErrMissingSubject
	}

	payload, err := JSONPayload(map[string]string{
		"userEmail": email,
		"userName":  name,
	})
	if err != nil {
		return nil, err
	}

	path := "/users/fetch/" + url.PathEscape(sub)
	var profile model.UserInfo
	if err := c.callEnvelope(ctx, http.MethodPost, path, payload, &profile); err != nil {
		return nil, err
	}
	if profile == nil {
		profile = model.UserInfo{}
	}
	return profile, nil
}

// MostCommonRoute はユーザーが最も多く選んだレシピルートの集計を取得する。
func (c *Client) MostCommonRoute(ctx context.Context, sub string) (*model.RouteSummary, error) {
	if sub == "" {
		return nil, model.ErrMissingSubject
	}

	path := "/users/" + url.PathEscape(sub) + "/most-common-route"
	var summary model.RouteSummary
	if err := c.callEnvelope(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) callEnvelope(ctx context.Context, method, path string, payload *Payload, out any) error {
	resp, err := c.resolver.Do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &HTTPStatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(resp.Body)}
	}

	var env envelope
	if err := resp.DecodeJSON(&env); err != nil {
		return err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "success=false"
		}
		return &ApplicationError{Path: path, Message: msg}
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

// FilePart はscan-foodに送る1枚分の画像。
type FilePart struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ScanRequest はscan-foodへの送信内容。
type ScanRequest struct {
	Files    []FilePart
	Zipcode  string
	MenuText string
	UserText string
}

// Encode はリクエストをmultipartボディにエンコードする。
// 画像はfileパートとして順に並べ、zipcode等はテキストフィールドとして付加する。
func (r *ScanRequest) Encode() (*Payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for i, f := range r.Files {
		name := f.Filename
		if name == "" {
			name = fmt.Sprintf("photo_%d.jpg", i)
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file part: %w", err)
		}
	}

	fields := []struct{ name, value string }{
		{"zipcode", r.Zipcode},
		{"menu_text", r.MenuText},
		{"user_text", r.UserText},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &Payload{ContentType: w.FormDataContentType(), Body: buf.Bytes()}, nil
}

// ScanFood は画像をscan-foodに送信し、解析結果をそのまま返す。
func (c *Client) ScanFood(ctx context.Context, req *ScanRequest) (model.AnalysisResult, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}
	return c.postForResult(ctx, PathScanFood, payload)
}

// FinalRecipe は選択されたレシピをfinal-recipeに送信し、最終レシピを返す。
func (c *Client) FinalRecipe(ctx context.Context, body any) (model.AnalysisResult, error) {
	payload, err := JSONPayload(body)
	if err != nil {
		return nil, err
	}
	return c.postForResult(ctx, PathFinalRecipe, payload)
}

func (c *Client) postForResult(ctx context.Context, path string, payload *Payload) (model.AnalysisResult, error) {
	resp, err := c.resolver.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &HTTPStatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(resp.Body)}
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("%s returned a non-JSON body", path)
	}

	// バックエンドは処理失敗時も200で {"error": "..."} を返す
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &probe); err == nil && probe.Error != nil {
		return nil, &ApplicationError{Path: path, Message: *probe.Error}
	}

	return model.AnalysisResult(resp.Body), nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

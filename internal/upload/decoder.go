package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hitoshi/snapchef/internal/backend"
	"github.com/hitoshi/snapchef/internal/model"
)

// DefaultMaxPhotoSize は1枚あたりの最大サイズ。
const DefaultMaxPhotoSize = 15 << 20

// PhotoDecoder は写真のURIを送信用のバイト列に変換する。
type PhotoDecoder interface {
	Decode(ctx context.Context, photo model.CapturedPhoto) (backend.FilePart, error)
}

// fallbackContentType は形式を判定できない写真に付けるContent-Type。
const fallbackContentType = "application/octet-stream"

// imageExtensionTypes はmimeパッケージの組み込み表に無い画像拡張子。
var imageExtensionTypes = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
}

// URIDecoder はdata: URI、file:// URI、ローカルパスを解釈するPhotoDecoder。
type URIDecoder struct {
	MaxSize int64
}

// Decode はURIの内容を読み取る。空のデータや上限超過はエラーとする。
func (d URIDecoder) Decode(ctx context.Context, photo model.CapturedPhoto) (backend.FilePart, error) {
	if err := ctx.Err(); err != nil {
		return backend.FilePart{}, err
	}

	uri := strings.TrimSpace(photo.URI)
	var (
		data     []byte
		name     string
		declared string
		err      error
	)
	switch {
	case uri == "":
		return backend.FilePart{}, errors.New("empty photo uri")
	case strings.HasPrefix(uri, "data:"):
		data, declared, err = d.decodeDataURI(uri)
		name = "photo.jpg"
	case strings.HasPrefix(uri, "file://"):
		u, parseErr := url.Parse(uri)
		if parseErr != nil {
			return backend.FilePart{}, fmt.Errorf("invalid file uri: %w", parseErr)
		}
		data, err = d.readFile(u.Path)
		name = filepath.Base(u.Path)
		declared = typeByExtension(name)
	case strings.Contains(uri, "://"):
		return backend.FilePart{}, fmt.Errorf("unsupported photo uri scheme: %q", uri)
	default:
		data, err = d.readFile(uri)
		name = filepath.Base(uri)
		declared = typeByExtension(name)
	}
	if err != nil {
		return backend.FilePart{}, err
	}
	if len(data) == 0 {
		return backend.FilePart{}, errors.New("photo is empty")
	}

	return backend.FilePart{Filename: name, ContentType: contentType(data, declared), Data: data}, nil
}

// contentType は中身から判定した画像形式を優先し、判定できなければ
// URIやファイル名から得た形式、それも無ければfallbackContentTypeを返す。
// HEICのようにスニッフィングで判定できない画像もそのまま送信する。
func contentType(data []byte, declared string) string {
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if declared != "" {
		return declared
	}
	return fallbackContentType
}

func typeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if t, ok := imageExtensionTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func (d URIDecoder) maxSize() int64 {
	if d.MaxSize > 0 {
		return d.MaxSize
	}
	return DefaultMaxPhotoSize
}

// decodeDataURI は "data:[<mediatype>];base64,<data>" 形式を解釈し、
// 中身と宣言されたメディアタイプ（無ければ空）を返す。
func (d URIDecoder) decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", errors.New("malformed data uri")
	}
	meta, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", errors.New("data uri is not base64 encoded")
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > d.maxSize() {
		return nil, "", fmt.Errorf("photo exceeds %d bytes", d.maxSize())
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
	}

	var mediaType string
	if meta != "" {
		if mt, _, err := mime.ParseMediaType(meta); err == nil {
			mediaType = mt
		}
	}
	return data, mediaType, nil
}

func (d URIDecoder) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, d.maxSize()+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if int64(len(data)) > d.maxSize() {
		return nil, fmt.Errorf("photo exceeds %d bytes", d.maxSize())
	}
	return data, nil
}

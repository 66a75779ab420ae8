package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "v1:"
	nonceSize    = 24
	keySize      = 32
	hkdfInfo     = "snapchef session token"
)

// ErrUnsealFailed は封印済みトークンの復号に失敗した場合のエラー。
var ErrUnsealFailed = errors.New("failed to unseal token")

// TokenSealer は永続化するアクセストークンを暗号化する。
// SESSION_SECRETからHKDFで鍵を導出し、nacl/secretboxで封印する。
type TokenSealer struct {
	key [keySize]byte
}

// NewTokenSealer はsecretから鍵を導出してTokenSealerを生成する。
func NewTokenSealer(secret string) (*TokenSealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}

	s := &TokenSealer{}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return s, nil
}

// Seal はトークンを封印し、"v1:"接頭辞付きのbase64文字列を返す。
func (s *TokenSealer) Seal(token string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(token), &nonce, &s.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open は封印済みトークンを復号する。
// 形式不正や鍵の不一致はErrUnsealFailedを返す。
func (s *TokenSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", fmt.Errorf("%w: unknown format", ErrUnsealFailed)
	}

	box, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: too short", ErrUnsealFailed)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])

	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("%w: authentication failed", ErrUnsealFailed)
	}
	return string(plain), nil
}

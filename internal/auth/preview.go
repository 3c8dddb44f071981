package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const previewKeyInfo = "kerrokantasi-preview-code"

// PreviewSigner derives and checks the preview codes that grant read access
// to a single unpublished hearing.
type PreviewSigner struct {
	key []byte
}

// NewPreviewSigner uses previewSecret directly when set and otherwise
// derives a dedicated key from secretKey.
func NewPreviewSigner(previewSecret, secretKey string) (*PreviewSigner, error) {
	if previewSecret != "" {
		return &PreviewSigner{key: []byte(previewSecret)}, nil
	}
	if secretKey == "" {
		return nil, errors.New("preview signer needs a secret")
	}
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secretKey), nil, []byte(previewKeyInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive preview key: %w", err)
	}
	return &PreviewSigner{key: key}, nil
}

func (p *PreviewSigner) Code(id string) string {
	mac := hmac.New(sha256.New, p.key)
	_, _ = mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (p *PreviewSigner) Verify(id, code string) bool {
	if code == "" {
		return false
	}
	return hmac.Equal([]byte(code), []byte(p.Code(id)))
}

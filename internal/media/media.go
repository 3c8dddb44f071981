// Package media decodes inline base64 uploads and stores their payloads.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"
)

var (
	ErrInvalidDataURL = errors.New("expected a base64 data url")
	ErrImageTooLarge  = errors.New("image is too large")
	ErrFileTooLarge   = errors.New("file is too large")
	ErrWrongMediaType = errors.New("unexpected media type")
)

// Payload is a decoded upload.
type Payload struct {
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

func (p Payload) Extension() string {
	exts, err := mime.ExtensionsByType(p.ContentType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// DecodeImage accepts data:image/*;base64 urls up to maxSize bytes.
func DecodeImage(value string, maxSize int64) (Payload, error) {
	payload, err := decode(value, "image/", maxSize, ErrImageTooLarge)
	if err != nil {
		return Payload{}, err
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(payload.Data)); err == nil {
		payload.Width = cfg.Width
		payload.Height = cfg.Height
	}
	return payload, nil
}

// DecodeFile accepts data:application/*;base64 urls up to maxSize bytes.
func DecodeFile(value string, maxSize int64) (Payload, error) {
	return decode(value, "application/", maxSize, ErrFileTooLarge)
}

func decode(value, typePrefix string, maxSize int64, tooLarge error) (Payload, error) {
	rest, ok := strings.CutPrefix(value, "data:")
	if !ok {
		return Payload{}, ErrInvalidDataURL
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return Payload{}, ErrInvalidDataURL
	}
	contentType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return Payload{}, ErrInvalidDataURL
	}
	if !strings.HasPrefix(contentType, typePrefix) {
		return Payload{}, fmt.Errorf("%w: %s", ErrWrongMediaType, contentType)
	}
	if maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxSize+2 {
		return Payload{}, tooLarge
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, ErrInvalidDataURL
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return Payload{}, tooLarge
	}
	return Payload{ContentType: contentType, Data: data}, nil
}

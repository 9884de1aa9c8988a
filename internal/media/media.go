// Package media normalises images handed to the HTTP API before they are
// attached to a chat turn: MIME detection from magic bytes, downscaling of
// oversized images, and staging to a temp file the page can upload.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxDimension is the largest width or height passed to the chat page.
const MaxDimension = 2000

// MaxPixels bounds width*height before anything is decoded. A small,
// highly compressible file can declare a huge canvas.
const MaxPixels = 50_000_000

// DefaultMaxBytes bounds a decoded upload when the caller passes no limit.
const DefaultMaxBytes = 10 << 20

var (
	ErrUnsupported = errors.New("media: unsupported image type")
	ErrTooLarge    = errors.New("media: image too large")
	ErrEmpty       = errors.New("media: empty image")
)

// SupportedMIMETypes lists the formats the chat sites accept.
var SupportedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageData is a decoded, possibly re-encoded image.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
	Resized  bool
}

// Size returns the size in bytes
func (img *ImageData) Size() int {
	return len(img.Data)
}

// Ext returns the file extension for the image's MIME type.
func (img *ImageData) Ext() string {
	return SupportedMIMETypes[img.MimeType]
}

// DetectMIME returns the MIME type from magic bytes (not file extension)
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported reports whether mimeType is one of SupportedMIMETypes.
func IsSupported(mimeType string) bool {
	_, ok := SupportedMIMETypes[mimeType]
	return ok
}

// DecodeBase64 decodes a base64 image, accepting a data URL prefix
// ("data:image/png;base64,..."). Input whose decoded size would exceed
// maxBytes is rejected before decoding.
func DecodeBase64(s string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, fmt.Errorf("media: malformed data URL")
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, ErrEmpty
	}
	if int64(base64.StdEncoding.DecodedLen(len(s))) > maxBytes+2 {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("media: invalid base64: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), maxBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

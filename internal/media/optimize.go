package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"
)

// jpegQuality is used when a resized image is re-encoded as JPEG.
const jpegQuality = 85

// Normalize checks that data is a supported image and downscales it to fit
// MaxDimension. Images already within bounds are returned untouched.
func Normalize(data []byte) (*ImageData, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	// Header only; most uploads need no pixel decode at all
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: failed to decode image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}
	if cfg.Width <= MaxDimension && cfg.Height <= MaxDimension {
		return &ImageData{Data: data, MimeType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: failed to decode image: %w", err)
	}
	resized := imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	encoded, outType, err := encodeImage(resized, format)
	if err != nil {
		return nil, fmt.Errorf("media: failed to encode image: %w", err)
	}
	b := resized.Bounds()
	return &ImageData{
		Data:     encoded,
		MimeType: outType,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Resized:  true,
	}, nil
}

// encodeImage encodes img in its source format where Go can write it.
func encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err

	case "gif":
		// Animated GIFs lose their frames here; the sites only look at the first.
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err

	default:
		// jpeg, and webp which Go can only decode
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
		return buf.Bytes(), "image/jpeg", err
	}
}

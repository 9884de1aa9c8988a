package media

import (
	"errors"
	"fmt"
	"os"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// Staged is a normalised image written to a temp file for one turn.
type Staged struct {
	Path  string
	Image *ImageData
}

// Remove deletes the temp file. Safe to call more than once.
func (s *Staged) Remove() {
	if s == nil || s.Path == "" {
		return
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_warn("media: failed to remove staged image", "path", s.Path, "error", err)
	}
}

// Stage normalises data and writes it to a new file in dir (os.TempDir when
// empty). The caller owns the file and must call Remove once the turn ends.
func Stage(dir string, data []byte) (*Staged, error) {
	img, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dir, "chatrelay-upload-*"+img.Ext())
	if err != nil {
		return nil, fmt.Errorf("media: create temp file: %w", err)
	}
	staged := &Staged{Path: f.Name(), Image: img}

	if _, err := f.Write(img.Data); err != nil {
		f.Close()
		staged.Remove()
		return nil, fmt.Errorf("media: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		staged.Remove()
		return nil, fmt.Errorf("media: close temp file: %w", err)
	}

	L_debug("media: staged upload", "path", staged.Path, "mime", img.MimeType,
		"width", img.Width, "height", img.Height, "resized", img.Resized, "bytes", img.Size())
	return staged, nil
}

// StageBase64 decodes a base64 payload bounded by maxBytes and stages it.
func StageBase64(dir, payload string, maxBytes int64) (*Staged, error) {
	data, err := DecodeBase64(payload, maxBytes)
	if err != nil {
		return nil, err
	}
	return Stage(dir, data)
}

// Package thumbnail turns uploaded images into small JPEG previews suitable
// for email clients.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	// Register additional decoders beyond the ones imaging pulls in.
	_ "golang.org/x/image/webp"
)

const (
	// MaxWidth is the widest thumbnail ever produced.
	MaxWidth = 512

	// MaxPixels caps the decoded image area. Larger images are rejected
	// before any pixel data is allocated.
	MaxPixels = 40_000_000

	// Quality is the JPEG encoder quality.
	Quality = 80

	// ContentType is the only format the generator emits. Attachments built
	// from a Thumbnail rely on this.
	ContentType = "image/jpeg"
)

// ErrDecode is returned when the input cannot be decoded as an image.
var ErrDecode = errors.New("image could not be decoded")

// ErrTooLarge is returned when the image header declares more than MaxPixels.
var ErrTooLarge = errors.New("image dimensions too large")

// ProcessingError wraps any failure while producing a thumbnail.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("image processing failed: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Thumbnail is an encoded JPEG preview.
type Thumbnail struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
}

// Generate decodes raw image bytes, applies the EXIF orientation, scales the
// result down to at most MaxWidth pixels wide and encodes it as JPEG.
// Images already narrower than MaxWidth are never enlarged.
func Generate(raw []byte) (*Thumbnail, error) {
	if len(raw) == 0 {
		return nil, &ProcessingError{Err: ErrDecode}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ProcessingError{Err: fmt.Errorf("%w: empty dimensions", ErrDecode)}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &ProcessingError{Err: fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)}
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}

	var out image.Image = img
	if img.Bounds().Dx() > MaxWidth {
		// Height 0 keeps the aspect ratio.
		out = imaging.Resize(img, MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("failed to encode JPEG: %w", err)}
	}

	return &Thumbnail{
		Bytes:       buf.Bytes(),
		ContentType: ContentType,
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
	}, nil
}

package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the WebP decoder with image.Decode
)

// ErrUndecodable means the input is not an image format we can decode.
var ErrUndecodable = errors.New("undecodable image")

// jpegQualities is the grid of quality levels tried until the output fits.
var jpegQualities = []int{85, 75, 65, 55, 45, 35}

// Normalize decodes raw (JPEG, PNG, GIF, BMP, TIFF, WebP), applies EXIF
// orientation, fits it within maxSide, flattens transparency onto white and
// re-encodes as JPEG at the highest quality that fits maxBytes.
func Normalize(raw []byte, maxSide, maxBytes int) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	for _, quality := range jpegQualities {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", fmt.Errorf("encode jpeg (q=%d): %w", quality, err)
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), "image/jpeg", nil
		}
	}
	return nil, "", fmt.Errorf("thumbnail exceeds %d bytes even at lowest quality (%dx%d)", maxBytes, flat.Bounds().Dx(), flat.Bounds().Dy())
}

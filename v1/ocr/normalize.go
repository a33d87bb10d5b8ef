package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"mime"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// accepted maps content types to the image.Decode format name they carry.
var accepted = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
	"image/webp": "webp",
}

// Accepted reports whether contentType names a supported image container.
func Accepted(contentType string) bool {
	_, ok := accepted[mediaType(contentType)]
	return ok
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Normalizer decodes uploads and re-encodes them as PNG.
type Normalizer struct {
	// MaxPixels bounds width*height. Zero means unbounded.
	MaxPixels int
}

// Normalize decodes data. A missing or generic content type is sniffed from
// the bytes.
func (n Normalizer) Normalize(data []byte, contentType string) (image.Image, error) {
	mt := mediaType(contentType)
	if mt == "" || mt == "application/octet-stream" {
		mt = mediaType(http.DetectContentType(data))
	}
	want, ok := accepted[mt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, mt)
	}
	if n.MaxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedContainer, err)
		}
		if cfg.Width*cfg.Height > n.MaxPixels {
			return nil, fmt.Errorf("%w: %dx%d exceeds the pixel limit", ErrUnsupportedContainer, cfg.Width, cfg.Height)
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedContainer, mt, err)
	}
	if format != want {
		return nil, fmt.Errorf("%w: declared %s but found %s", ErrUnsupportedContainer, mt, format)
	}
	return img, nil
}

// NormalizePNG decodes data and returns it encoded as PNG.
func (n Normalizer) NormalizePNG(data []byte, contentType string) ([]byte, error) {
	img, err := n.Normalize(data, contentType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

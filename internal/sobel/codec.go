package sobel

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the decoded pixel count so a tiny payload cannot claim a huge canvas.
const MaxPixels = 1 << 26

var (
	ErrDecode = errors.New("image decode failed")
	ErrEncode = errors.New("image encode failed")
)

// Result describes one completed transform.
type Result struct {
	Output []byte // PNG-encoded edge magnitude image
	Format string // container the input was decoded from
	Width  int
	Height int
}

// Decode parses an encoded raster image and reports its format name.
func Decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, format, fmt.Errorf("%w: %s image of %dx%d is out of bounds", ErrDecode, format, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Transform runs the full pipeline on an uploaded payload: decode, [ProcessWith], encode.
func Transform(data []byte, opts Options) (*Result, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	edges := ProcessWith(img, opts)
	out, err := Encode(edges)
	if err != nil {
		return nil, err
	}

	b := edges.Bounds()
	return &Result{Output: out, Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

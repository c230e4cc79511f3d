package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

const (
	// MaxDimension is the longest side an item photo is stored at.
	MaxDimension = 1024
	JPEGQuality  = 85

	// decode budget, checked against the header before any pixel is allocated
	MaxSide   = 16384
	MaxPixels = 40_000_000
)

var (
	ErrUnsupported = errors.New("unsupported image format")
	ErrTooLarge    = errors.New("image too large")
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Process turns an item photo upload into the stored JPEG: at most maxBytes
// compressed, within the decode budget, longest side fitted to MaxDimension.
// maxBytes <= 0 disables the byte check only.
func Process(r io.Reader, maxBytes int64) (*Result, error) {
	data, err := readUpload(r, maxBytes)
	if err != nil {
		return nil, err
	}

	// client headers are not trusted
	if mime := http.DetectContentType(data); !allowedMIME[mime] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := checkBudget(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	out := fit(src, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	b := out.Bounds()
	return &Result{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

func readUpload(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func checkBudget(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrUnsupported, w, h)
	}
	if w > MaxSide || h > MaxSide || int64(w)*int64(h) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds decode budget", ErrTooLarge, w, h)
	}
	return nil
}

// targetSize scales w x h so the longer side is at most maxDim, keeping the aspect ratio.
func targetSize(w, h, maxDim int) (int, int) {
	long := max(w, h)
	if long <= maxDim {
		return w, h
	}
	scale := float64(maxDim) / float64(long)
	return max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)
}

func fit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := targetSize(bounds.Dx(), bounds.Dy(), maxDim)
	if w == bounds.Dx() && h == bounds.Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

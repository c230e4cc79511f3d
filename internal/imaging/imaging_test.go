package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProcess_DownscalesLargePNG(t *testing.T) {
	res, err := Process(bytes.NewReader(pngBytes(t, 2048, 512)), 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 1024 || res.Height != 256 {
		t.Fatalf("expected 1024x256, got %dx%d", res.Width, res.Height)
	}
	if !bytes.HasPrefix(res.Data, []byte{0xff, 0xd8}) {
		t.Fatalf("expected JPEG output")
	}
}

func TestProcess_KeepsSmallImages(t *testing.T) {
	res, err := Process(bytes.NewReader(pngBytes(t, 40, 30)), 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 40 || res.Height != 30 {
		t.Fatalf("expected 40x30, got %dx%d", res.Width, res.Height)
	}
}

func TestProcess_RejectsNonImages(t *testing.T) {
	_, err := Process(strings.NewReader("definitely not an image"), 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestProcess_RejectsOversizedUploads(t *testing.T) {
	data := pngBytes(t, 64, 64)
	_, err := Process(bytes.NewReader(data), int64(len(data)-1))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

// pngHeaderOnly is a PNG whose IHDR declares w x h RGBA but carries no pixel data.
func pngHeaderOnly(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.Write([]byte("\x89PNG\r\n\x1a\n"))

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestProcess_RejectsHugeDimensionsBeforeDecoding(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"square over pixel budget", 20000, 20000},
		{"one side too long", 20000, 10},
		{"area over budget", 8000, 8000},
	}

	for _, tt := range tests {
		_, err := Process(bytes.NewReader(pngHeaderOnly(tt.w, tt.h)), 10<<20)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("%s: expected ErrTooLarge, got %v", tt.name, err)
		}
	}
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{2048, 512, 1024, 256},
		{512, 2048, 256, 1024},
		{800, 600, 800, 600},
		{5000, 1, 1024, 1},
	}
	for _, tt := range tests {
		w, h := targetSize(tt.w, tt.h, 1024)
		if w != tt.wantW || h != tt.wantH {
			t.Fatalf("targetSize(%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

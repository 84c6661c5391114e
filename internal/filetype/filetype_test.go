package filetype

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want Type
		ok   bool
	}{
		{"png", pngBytes(t), PNG, true},
		{"jpeg", []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF"), JPEG, true},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), GIF, true},
		{"pdf", []byte("%PDF-1.7\n"), PDF, true},
		{"tiff", []byte("II*\x00\x08\x00\x00\x00"), TIFF, true},
		{"svg", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"/>`), SVG, true},
		{"filename", []byte("diagram.png\n"), Type{}, false},
		{"html", []byte("<html><body>hi</body></html>"), Type{}, false},
		{"empty", nil, Type{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.buf)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtFor(t *testing.T) {
	ext, ok := ExtFor("image/png; charset=binary")
	require.True(t, ok)
	assert.Equal(t, "png", ext)

	ext, ok = ExtFor("image/svg+xml")
	require.True(t, ok)
	assert.Equal(t, "svg", ext)

	_, ok = ExtFor("text/plain")
	assert.False(t, ok)
	assert.True(t, WebP.IsImage())
	assert.False(t, PDF.IsImage())
}

package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Known vault credentials shared by tests.
const (
	TestPassword  = "p"
	WrongPassword = "wrong"
	TestDeviceID  = "device-0001"
)

// TestVaultKey returns the key derived from TestPassword and TestDeviceID.
func TestVaultKey() []byte {
	return []byte{
		0x75, 0xbf, 0xa8, 0x9d, 0xf6, 0x09, 0xfa, 0x61,
		0x65, 0x93, 0xab, 0xbd, 0x42, 0x19, 0xe3, 0xf5,
		0x31, 0xa1, 0x3f, 0xdf, 0x10, 0x8a, 0x0a, 0xe0,
		0x35, 0xc6, 0xdd, 0x72, 0x77, 0xba, 0xcd, 0x28,
	}
}

// Gradient returns a w×h image with a deterministic color ramp.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// PNG encodes a w×h test image.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, Gradient(w, h)))
	return buf.Bytes()
}

// JPEG encodes a w×h test image.
func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// GIF encodes a w×h test image.
func GIF(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, Gradient(w, h), nil))
	return buf.Bytes()
}

// WriteFile writes data to name inside dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

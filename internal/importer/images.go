package importer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/TheMichaelB/strongroom/internal/models"
)

// ThumbnailMime is the format of every generated thumbnail.
const ThumbnailMime = "image/jpeg"

// ImageProcessor measures images and renders thumbnails.
type ImageProcessor struct {
	size    int
	quality int
	tempDir string
}

// NewImageProcessor creates a processor rendering size×size thumbnails.
// An empty tempDir uses the OS default.
func NewImageProcessor(size, quality int, tempDir string) *ImageProcessor {
	return &ImageProcessor{size: size, quality: quality, tempDir: tempDir}
}

// Dimensions returns the intrinsic pixel size without decoding pixels.
func (p *ImageProcessor) Dimensions(data []byte) (models.Size, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Size{}, fmt.Errorf("decode image config: %w", err)
	}
	return models.Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// Thumbnail renders a square, center-cropped JPEG thumbnail. The JPEG is
// staged in a temp file which is removed once read back.
func (p *ImageProcessor) Thumbnail(ctx context.Context, data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, squareCrop(src.Bounds()), draw.Src, nil)

	tmp, err := os.CreateTemp(p.tempDir, "thumbnail-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create thumbnail file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close thumbnail file: %w", err)
	}

	thumb, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("read thumbnail: %w", err)
	}
	return thumb, nil
}

// squareCrop returns the largest centered square inside r.
func squareCrop(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w > h {
		off := (w - h) / 2
		return image.Rect(r.Min.X+off, r.Min.Y, r.Min.X+off+h, r.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(r.Min.X, r.Min.Y+off, r.Max.X, r.Min.Y+off+w)
}

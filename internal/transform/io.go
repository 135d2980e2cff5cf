package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"  // Register BMP format
	_ "golang.org/x/image/tiff" // Register TIFF format
	_ "golang.org/x/image/webp" // Register WEBP format (decode only)

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
)

// source is a decoded input image.
type source struct {
	img   image.Image
	isPNG bool
}

// ReadSize reads the pixel size from the image header without decoding
// the pixel data.
func ReadSize(path string) (Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return Size{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Size{}, fmt.Errorf("failed to read image header of %s: %w", path, err)
	}

	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// decode reads and decodes path. Inputs that are not images, or whose
// header declares more than maxPixels pixels, are rejected before the
// pixel data is decoded.
func decode(path string, maxPixels int) (*source, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}

	if !filetype.IsImage(buf) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode header of %s: %w", path, err)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf(
			"%w: %dx%d > %d",
			ErrTooLarge,
			cfg.Width,
			cfg.Height,
			maxPixels,
		)
	}

	img, err := imaging.Decode(
		bytes.NewReader(buf),
		imaging.AutoOrientation(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &source{
		img:   img,
		isPNG: filetype.Is(buf, "png"),
	}, nil
}

// persist encodes img into a temporary file next to dst and renames it
// into place, so readers never observe a partially written derivative.
func persist(
	ctx context.Context,
	dst string,
	img image.Image,
	format imaging.Format,
	compression int,
) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	encodeErr := imaging.Encode(tmp, img, format, encodeOptions(compression)...)
	closeErr := tmp.Close()
	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if encodeErr != nil {
			return fmt.Errorf("failed to encode %s: %w", dst, encodeErr)
		}
		return fmt.Errorf("failed to write %s: %w", dst, closeErr)
	}

	// A timed out request must not publish its late result.
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}

	return nil
}

// encodeOptions maps the 0-100 compression setting onto the encoders.
// JPEG takes it as quality. PNG is lossless, so it selects the zlib level.
func encodeOptions(compression int) []imaging.EncodeOption {
	if compression <= 0 {
		return nil
	}

	level := png.DefaultCompression
	switch {
	case compression < 34:
		level = png.BestSpeed
	case compression >= 67:
		level = png.BestCompression
	}

	return []imaging.EncodeOption{
		imaging.JPEGQuality(compression),
		imaging.PNGCompressionLevel(level),
	}
}

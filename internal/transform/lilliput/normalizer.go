// Package lilliput builds working copies with discord/lilliput. It needs
// cgo. The binary always links it; WORKING_COPY_ENGINE=lilliput selects it
// at runtime.
package lilliput

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/discord/lilliput"

	"github.com/giobyte8/imagecache/internal/transform"
)

// Upper bound for the encoded working copy.
const outputBufferSize = 64 * 1024 * 1024

// Normalizer re-encodes originals into working copies without changing
// their geometry. EXIF orientation is applied.
type Normalizer struct {
	timeout   time.Duration
	maxPixels int
}

// NewNormalizer bounds every call by timeout and rejects sources larger
// than maxPixels. Zero disables either limit.
func NewNormalizer(timeout time.Duration, maxPixels int) *Normalizer {
	return &Normalizer{timeout: timeout, maxPixels: maxPixels}
}

func (n *Normalizer) Normalize(
	ctx context.Context,
	src, dst string,
	compression int,
) (transform.Size, error) {
	size, err := transform.Bounded(ctx, n.timeout, func(ctx context.Context) (transform.Size, error) {
		return n.normalize(ctx, src, dst, compression)
	})
	if err != nil {
		return transform.Size{}, &transform.TransformError{Path: src, Err: err}
	}
	return size, nil
}

func (n *Normalizer) normalize(
	ctx context.Context,
	src, dst string,
	compression int,
) (transform.Size, error) {
	slog.Debug("Normalizing working copy", "src", src, "dst", dst)

	ext := strings.ToLower(filepath.Ext(dst))
	if !supported(ext) {
		return transform.Size{}, fmt.Errorf("%w: %s", transform.ErrUnsupportedFormat, dst)
	}

	inputBuf, err := os.ReadFile(src)
	if err != nil {
		return transform.Size{}, fmt.Errorf("failed to read original file %s: %w", src, err)
	}

	decoder, err := lilliput.NewDecoder(inputBuf)
	if err != nil {
		return transform.Size{}, fmt.Errorf("%w: %s: %v", transform.ErrUnsupportedFormat, src, err)
	}
	defer decoder.Close()

	header, err := decoder.Header()
	if err != nil {
		return transform.Size{}, fmt.Errorf("failed to get image header for %s: %w", src, err)
	}

	width, height := header.Width(), header.Height()
	if width == 0 || height == 0 {
		return transform.Size{}, fmt.Errorf(
			"invalid image dimensions: width=%d, height=%d",
			width,
			height,
		)
	}
	if n.maxPixels > 0 && width*height > n.maxPixels {
		return transform.Size{}, fmt.Errorf(
			"%w: %dx%d > %d",
			transform.ErrTooLarge,
			width,
			height,
			n.maxPixels,
		)
	}

	ops := lilliput.NewImageOps(max(width, height))
	defer ops.Close()

	opts := &lilliput.ImageOptions{
		FileType:             ext,
		Width:                width,
		Height:               height,
		ResizeMethod:         lilliput.ImageOpsNoResize,
		NormalizeOrientation: true,
		EncodeOptions:        encodeOptions(compression),
	}

	out, err := ops.Transform(decoder, opts, make([]byte, outputBufferSize))
	if err != nil {
		return transform.Size{}, fmt.Errorf("failed to encode working copy for %s: %w", src, err)
	}

	if err := ctx.Err(); err != nil {
		return transform.Size{}, err
	}

	if err := writeFile(dst, out); err != nil {
		return transform.Size{}, err
	}

	// Orientation may have swapped the axes.
	return transform.ReadSize(dst)
}

func supported(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return false
}

func encodeOptions(compression int) map[int]int {
	if compression <= 0 {
		return nil
	}

	return map[int]int{
		lilliput.JpegQuality:    compression,
		lilliput.WebpQuality:    compression,
		lilliput.PngCompression: compression * 9 / 100,
	}
}

// writeFile writes data next to dst and renames it into place.
func writeFile(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write working copy %s: %w", dst, firstErr(writeErr, closeErr))
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

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

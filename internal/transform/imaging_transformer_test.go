package transform

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/imagecache/internal/resize"
	"github.com/giobyte8/imagecache/internal/telemetry"
	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
)

func fixture(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: alpha})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, w, h int, alpha uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, fixture(w, h, alpha)))
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, fixture(w, h, 255), &jpeg.Options{Quality: 90}))
}

func decodeFile(t *testing.T, path string) (image.Image, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	return img, format
}

func newTransformer(maxPixels int) (*ImagingTransformer, *metrics.RecordingMetricsSvc) {
	rec := metrics.NewRecordingMetricsSvc()
	return NewImagingTransformer(0, maxPixels, telemetry.New(rec)), rec
}

func TestTransform_Strategies(t *testing.T) {
	tests := []struct {
		name       string
		strategies resize.Strategies
		wantW      int
		wantH      int
	}{
		{"or smaller", resize.Strategies{resize.OrSmaller}, 100, 50},
		{"cover", resize.Strategies{resize.Cover}, 100, 100},
		{"stretch", resize.Strategies{resize.Stretch}, 100, 100},
		{"or bigger", resize.Strategies{resize.OrBigger}, 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src.jpg")
			dst := filepath.Join(dir, "out", "7", "src.jpg")
			writeJPEG(t, src, 400, 200)

			tr, rec := newTransformer(0)
			size, err := tr.Transform(context.Background(), src, dst, Params{
				Width:       100,
				Height:      100,
				Compression: 80,
				Strategies:  tt.strategies,
			})
			require.NoError(t, err)

			assert.Equal(t, Size{Width: tt.wantW, Height: tt.wantH}, size)
			onDisk, err := ReadSize(dst)
			require.NoError(t, err)
			assert.Equal(t, size, onDisk)
			assert.Equal(t, 1, rec.Count(metrics.DerivativeCreated))
		})
	}
}

func TestTransform_ExactWinsOverOtherStrategies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "exact", "src.jpg")
	writeJPEG(t, src, 400, 200)

	tr, _ := newTransformer(0)
	size, err := tr.Transform(context.Background(), src, dst, Params{
		Width:      120,
		Height:     90,
		Strategies: resize.Strategies{resize.Cover, resize.Exact, resize.Stretch},
	})
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 120, Height: 90}, size)

	img, format := decodeFile(t, dst)
	assert.Equal(t, "png", format)

	// 400x200 shrinks to 120x60, centered with 15px bands above and below.
	_, _, _, a := img.At(60, 2).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	r, g, b, _ := img.At(60, 2).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
}

func TestTransform_ExactKeepsTransparency(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "logo.png")
	dst := filepath.Join(dir, "exact", "logo.png")
	writePNG(t, src, 40, 20, 0)

	tr, _ := newTransformer(0)
	size, err := tr.Transform(context.Background(), src, dst, Params{
		Width:      100,
		Height:     100,
		Strategies: resize.Strategies{resize.Exact},
	})
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 100, Height: 100}, size)

	img, _ := decodeFile(t, dst)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Less(t, a, uint32(0xffff))
}

func TestTransform_ExactOpaquePNGGetsWhite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "flat.png")
	dst := filepath.Join(dir, "exact", "flat.png")
	writePNG(t, src, 40, 20, 255)

	tr, _ := newTransformer(0)
	_, err := tr.Transform(context.Background(), src, dst, Params{
		Width:      100,
		Height:     100,
		Strategies: resize.Strategies{resize.Exact},
	})
	require.NoError(t, err)

	img, _ := decodeFile(t, dst)
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{r, g, b, a})
}

func TestTransform_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	writePNG(t, src, 300, 300, 255)

	tr, _ := newTransformer(0)
	p := Params{Width: 64, Height: 64, Compression: 85, Strategies: resize.Strategies{resize.OrSmaller}}

	first := filepath.Join(dir, "a", "src.png")
	second := filepath.Join(dir, "b", "src.png")
	_, err := tr.Transform(context.Background(), src, first, p)
	require.NoError(t, err)
	_, err = tr.Transform(context.Background(), src, second, p)
	require.NoError(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransform_CorruptSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jpg")
	dst := filepath.Join(dir, "out", "broken.jpg")
	require.NoError(t, os.WriteFile(src, []byte("definitely not an image"), 0644))

	tr, rec := newTransformer(0)
	_, err := tr.Transform(context.Background(), src, dst, Params{
		Width: 10, Height: 10, Strategies: resize.Strategies{resize.OrSmaller},
	})

	var te *TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, src, te.Path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NoFileExists(t, dst)
	assert.Equal(t, 0, rec.Count(metrics.DerivativeCreated))
}

func TestTransform_TruncatedSource(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full.png")
	writePNG(t, full, 50, 50, 255)
	data, err := os.ReadFile(full)
	require.NoError(t, err)

	src := filepath.Join(dir, "truncated.png")
	require.NoError(t, os.WriteFile(src, data[:len(data)/2], 0644))

	tr, _ := newTransformer(0)
	_, err = tr.Transform(context.Background(), src, filepath.Join(dir, "out.png"), Params{
		Width: 10, Height: 10, Strategies: resize.Strategies{resize.OrSmaller},
	})

	var te *TransformError
	assert.True(t, errors.As(err, &te))
}

func TestTransform_RejectsOversizedSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.png")
	writePNG(t, src, 100, 100, 255)

	tr, _ := newTransformer(100 * 99)
	_, err := tr.Transform(context.Background(), src, filepath.Join(dir, "out.png"), Params{
		Width: 10, Height: 10, Strategies: resize.Strategies{resize.OrSmaller},
	})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestTransform_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "out", "src.png")
	writePNG(t, src, 50, 50, 255)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, _ := newTransformer(0)
	_, err := tr.Transform(ctx, src, dst, Params{
		Width: 10, Height: 10, Strategies: resize.Strategies{resize.OrSmaller},
	})

	var te *TransformError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}

func TestBounded_ReturnsOnTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Bounded(context.Background(), 20*time.Millisecond, func(ctx context.Context) (Size, error) {
		<-release
		return Size{Width: 1, Height: 1}, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBounded_PassesResultThrough(t *testing.T) {
	size, err := Bounded(context.Background(), 0, func(ctx context.Context) (Size, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return Size{Width: 3, Height: 4}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, Size{Width: 3, Height: 4}, size)
}

func TestNewImagingTransformer_NilTelemetry(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "out", "src.png")
	writePNG(t, src, 40, 20, 255)

	tr := NewImagingTransformer(0, 0, nil)
	size, err := tr.Transform(context.Background(), src, dst, Params{
		Width: 20, Height: 20, Strategies: resize.Strategies{resize.OrSmaller},
	})

	require.NoError(t, err)
	assert.Equal(t, Size{Width: 20, Height: 10}, size)
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "orig", "photo.jpg")
	dst := filepath.Join(dir, "imgs", "3", "photo.jpg")
	writeJPEG(t, src, 321, 123)

	tr, rec := newTransformer(0)
	size, err := tr.Normalize(context.Background(), src, dst, 85)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 321, Height: 123}, size)
	assert.FileExists(t, dst)

	// Working copies are not derivatives.
	assert.Equal(t, 0, rec.Count(metrics.DerivativeCreated))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestNormalize_UnsupportedTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 10, 10)

	tr, _ := newTransformer(0)
	_, err := tr.Normalize(context.Background(), src, filepath.Join(dir, "photo.xyz"), 85)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 17, 9, 255)

	size, err := ReadSize(path)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 17, Height: 9}, size)

	_, err = ReadSize(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

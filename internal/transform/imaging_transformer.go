package transform

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/giobyte8/imagecache/internal/resize"
	"github.com/giobyte8/imagecache/internal/telemetry"
	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
)

const sharpenSigma = 0.5

var (
	opaqueWhite      = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	translucentWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 127}
)

// ImagingTransformer implements Transformer and Normalizer in pure Go on
// top of disintegration/imaging.
type ImagingTransformer struct {
	timeout   time.Duration
	maxPixels int
	telemetry *telemetry.TelemetrySvc
}

// NewImagingTransformer bounds every call by timeout and rejects sources
// larger than maxPixels. Zero disables either limit. A nil tel records
// nothing.
func NewImagingTransformer(
	timeout time.Duration,
	maxPixels int,
	tel *telemetry.TelemetrySvc,
) *ImagingTransformer {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &ImagingTransformer{
		timeout:   timeout,
		maxPixels: maxPixels,
		telemetry: tel,
	}
}

func (t *ImagingTransformer) Transform(
	ctx context.Context,
	src, dst string,
	p Params,
) (Size, error) {
	size, err := t.bounded(ctx, func(ctx context.Context) (Size, error) {
		return t.transform(ctx, src, dst, p)
	})
	if err != nil {
		return Size{}, wrap(src, err)
	}

	t.telemetry.Metrics().Increment(
		metrics.DerivativeCreated,
		map[string]string{
			"strategy": p.Strategies.String(),
			"width":    fmt.Sprintf("%d", size.Width),
			"height":   fmt.Sprintf("%d", size.Height),
		},
	)
	return size, nil
}

func (t *ImagingTransformer) Normalize(
	ctx context.Context,
	src, dst string,
	compression int,
) (Size, error) {
	size, err := t.bounded(ctx, func(ctx context.Context) (Size, error) {
		format, err := imaging.FormatFromFilename(dst)
		if err != nil {
			return Size{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, dst)
		}

		in, err := decode(src, t.maxPixels)
		if err != nil {
			return Size{}, err
		}

		if err := persist(ctx, dst, in.img, format, compression); err != nil {
			return Size{}, err
		}
		b := in.img.Bounds()
		return Size{Width: b.Dx(), Height: b.Dy()}, nil
	})

	return size, wrap(src, err)
}

func (t *ImagingTransformer) bounded(
	ctx context.Context,
	work func(ctx context.Context) (Size, error),
) (Size, error) {
	return Bounded(ctx, t.timeout, work)
}

// Bounded runs work under timeout, zero meaning no limit. On expiry the
// caller gets an error right away while work winds down on its own; work
// must check its context before publishing a result.
func Bounded(
	ctx context.Context,
	timeout time.Duration,
	work func(ctx context.Context) (Size, error),
) (Size, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		size Size
		err  error
	}
	done := make(chan result, 1)

	go func() {
		size, err := work(ctx)
		done <- result{size: size, err: err}
	}()

	select {
	case r := <-done:
		return r.size, r.err
	case <-ctx.Done():
		return Size{}, fmt.Errorf("transform aborted: %w", ctx.Err())
	}
}

func (t *ImagingTransformer) transform(
	ctx context.Context,
	src, dst string,
	p Params,
) (Size, error) {
	slog.Debug(
		"Generating derivative",
		"src", src,
		"dst", dst,
		"strategy", p.Strategies.String(),
	)

	in, err := decode(src, t.maxPixels)
	if err != nil {
		return Size{}, err
	}

	var out *image.NRGBA
	var format imaging.Format

	if p.Strategies.IsExact() {
		out = pad(in, p.Width, p.Height)

		// Keep the alpha channel of the canvas.
		format = imaging.PNG
	} else {
		format, err = imaging.FormatFromFilename(dst)
		if err != nil {
			return Size{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, dst)
		}
		out = fit(in.img, p.Width, p.Height, p.Strategies)
	}

	if err := ctx.Err(); err != nil {
		return Size{}, err
	}

	if err := persist(ctx, dst, out, format, p.Compression); err != nil {
		return Size{}, err
	}

	b := out.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}, nil
}

// fit resizes img into the width x height box following strategies.
func fit(img image.Image, width, height int, ss resize.Strategies) *image.NRGBA {
	b := img.Bounds()
	w, h := resize.TargetSize(b.Dx(), b.Dy(), width, height, ss)

	out := scale(img, w, h)
	if ss.Has(resize.Cover) {
		cw, ch := resize.CropSize(w, h, width, height)
		out = imaging.CropCenter(out, cw, ch)
	}

	return imaging.Sharpen(out, sharpenSigma)
}

// pad places the source, shrunk to fit, at the center of a canvas of
// exactly width x height. The canvas is translucent when the source is a
// PNG with transparent pixels, opaque white otherwise.
func pad(in *source, width, height int) *image.NRGBA {
	background := opaqueWhite
	if in.isPNG && hasTransparency(in.img) {
		background = translucentWhite
	}
	canvas := imaging.New(width, height, background)

	b := in.img.Bounds()
	w, h := resize.PaddedSize(b.Dx(), b.Dy(), width, height)
	scaled := imaging.Sharpen(scale(in.img, w, h), sharpenSigma)

	return imaging.Overlay(
		canvas,
		scaled,
		image.Pt(
			resize.CenterOffset(width, w),
			resize.CenterOffset(height, h),
		),
		1.0,
	)
}

func scale(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/giobyte8/imagecache/internal/config"
	"github.com/giobyte8/imagecache/internal/layout"
	"github.com/giobyte8/imagecache/internal/telemetry"
	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
	"github.com/giobyte8/imagecache/internal/transform"
)

// Nameable is anything that carries a stored image file name, such as a
// database record.
type Nameable interface {
	FileName() string
}

// FileName adapts a plain string to Nameable.
type FileName string

func (f FileName) FileName() string {
	return string(f)
}

// Image describes an image ready to be referenced from a page.
type Image struct {

	// Web path, relative to the web root
	Src string `json:"src"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Set when the placeholder is served instead of the requested image
	Placeholder bool `json:"placeholder,omitempty"`
}

func (i *Image) String() string {
	return i.Src
}

// ImageStorage stores uploaded originals and serves their derivatives.
// The file system is the only cache: a derivative exists on disk or it
// gets generated.
type ImageStorage struct {
	settings    *config.Settings
	layout      *layout.Layout
	transformer transform.Transformer
	normalizer  transform.Normalizer
	telemetry   *telemetry.TelemetrySvc
}

func NewImageStorage(
	settings *config.Settings,
	transformer transform.Transformer,
	normalizer transform.Normalizer,
	telemetry *telemetry.TelemetrySvc,
) (*ImageStorage, error) {
	if settings == nil {
		return nil, fmt.Errorf("image storage settings cannot be nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if transformer == nil || normalizer == nil {
		return nil, fmt.Errorf("image storage needs a transformer and a normalizer")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("image storage telemetry cannot be nil")
	}

	return &ImageStorage{
		settings:    settings,
		layout:      layout.New(settings),
		transformer: transformer,
		normalizer:  normalizer,
		telemetry:   telemetry,
	}, nil
}

// Layout exposes the path scheme used by the storage.
func (s *ImageStorage) Layout() *layout.Layout {
	return s.layout
}

// GetConfig resolves opts against the type presets and the global
// settings.
func (s *ImageStorage) GetConfig(opts config.Options) (config.Effective, error) {
	return s.settings.Resolve(opts)
}

// GetImage returns the derivative of file described by opts, generating
// it on a cache miss. A missing source or a failed generation yields the
// placeholder, or nil when the placeholder is not readable either. Only
// configuration errors are returned.
func (s *ImageStorage) GetImage(
	ctx context.Context,
	file Nameable,
	opts config.Options,
) (*Image, error) {
	eff, err := s.settings.Resolve(opts)
	if err != nil {
		return nil, err
	}

	name := nameOf(file)
	s.telemetry.Metrics().Increment(
		metrics.DerivativeRequested,
		map[string]string{"destDir": s.layout.DestDirKey(eff)},
	)

	if !ValidFileName(name) {
		if name != "" {
			slog.Warn("Invalid image file name", "file", name)
		}
		return s.placeholder(eff), nil
	}

	// Originals and working copies are served as they are.
	if eff.Orig || eff.Compressed {
		path := s.layout.DerivativePath(name, eff)
		size, err := transform.ReadSize(path)
		if err != nil {
			slog.Debug("Stored image not readable", "path", path, "error", err)
			return s.placeholder(eff), nil
		}
		return s.image(path, size), nil
	}

	src := s.layout.WorkingCopyPath(name)
	if !readable(src) {
		slog.Debug("Working copy not readable", "path", src)
		return s.placeholder(eff), nil
	}

	dst := s.layout.DerivativePath(name, eff)
	if size, err := transform.ReadSize(dst); err == nil {
		s.telemetry.Metrics().Increment(
			metrics.DerivativeCacheHit,
			map[string]string{"destDir": s.layout.DestDirKey(eff)},
		)
		return s.image(dst, size), nil
	}

	size, err := s.transformer.Transform(ctx, src, dst, transform.Params{
		Width:       eff.Width,
		Height:      eff.Height,
		Compression: eff.Compression,
		Strategies:  eff.Transform,
	})
	if err != nil {
		slog.Warn(
			"Derivative generation failed, serving placeholder",
			"file", name,
			"dst", dst,
			"error", err,
		)
		return s.placeholder(eff), nil
	}

	return s.image(dst, size), nil
}

// GetImageLink returns the web path of the image GetImage would return, or
// an empty string when there is none.
func (s *ImageStorage) GetImageLink(
	ctx context.Context,
	file Nameable,
	opts config.Options,
) (string, error) {
	img, err := s.GetImage(ctx, file, opts)
	if err != nil || img == nil {
		return "", err
	}
	return img.Src, nil
}

func (s *ImageStorage) image(path string, size transform.Size) *Image {
	return &Image{
		Src:    s.layout.WebPath(path),
		Width:  size.Width,
		Height: size.Height,
	}
}

// placeholder describes the placeholder image at the requested size.
func (s *ImageStorage) placeholder(eff config.Effective) *Image {
	path := s.layout.PlaceholderPath()
	if !readable(path) {
		slog.Warn("Placeholder image not readable", "path", path)
		return nil
	}

	s.telemetry.Metrics().Increment(metrics.PlaceholderServed, nil)
	return &Image{
		Src:         s.layout.WebPath(path),
		Width:       eff.Width,
		Height:      eff.Height,
		Placeholder: true,
	}
}

// ValidFileName reports whether name can be a stored file name: a single,
// non-empty path element.
func ValidFileName(name string) bool {
	return name != "" &&
		name != "." &&
		name != ".." &&
		!strings.ContainsAny(name, `/\`)
}

func nameOf(file Nameable) string {
	if file == nil {
		return ""
	}
	return file.FileName()
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

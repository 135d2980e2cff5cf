package config

import (
	"time"

	"github.com/giobyte8/imagecache/internal/resize"
)

const (
	DefaultImagesDir        = "data/images"
	DefaultOrigDir          = "orig"
	DefaultCompressionDir   = "imgs"
	DefaultPlaceholder      = "img/noimg.jpg"
	DefaultWidth            = 1024
	DefaultHeight           = 1024
	DefaultCompression      = 85
	DefaultShardWidth       = 42
	DefaultTransformTimeout = 30 * time.Second
	DefaultMaxPixels        = 50_000_000

	ShardModeLegacy = "legacy"
	ShardModeHash   = "hash"
)

// DefaultAllowedImgTagAttrs lists the attribute prefixes passed through to
// the rendered <img> tag. "data" lets every data-* attribute through.
var DefaultAllowedImgTagAttrs = []string{
	"alt",
	"width",
	"height",
	"class",
	"hidden",
	"id",
	"style",
	"title",
	"data",
}

// Settings holds the global defaults. Loaded once at startup and treated
// as read-only afterwards.
type Settings struct {

	// Absolute path of the web root. Web paths returned to callers are
	// relative to it.
	WebDir string `validate:"required"`

	// Images root, relative to WebDir.
	ImagesDir string `validate:"required"`

	// Subdirectories of ImagesDir holding uploaded originals and their
	// working copies.
	OrigDir        string `validate:"required"`
	CompressionDir string `validate:"required,nefield=OrigDir"`

	// Placeholder image, relative to WebDir.
	Placeholder string

	Width       int               `validate:"min=1"`
	Height      int               `validate:"min=1"`
	Compression int               `validate:"min=0,max=100"`
	Transform   resize.Strategies `validate:"min=1"`

	AllowedImgTagAttrs []string
	ImgTagAttrs        map[string]string
	Lazy               bool

	// Named type presets, keyed by type name.
	Types map[string]Preset `validate:"dive"`

	ShardMode  string `validate:"oneof=legacy hash"`
	ShardWidth int    `validate:"min=1"`

	TransformTimeout time.Duration `validate:"min=0"`
	MaxPixels        int           `validate:"min=0"`
}

// Preset is a partial override of Settings. Nil fields inherit the global
// value.
type Preset struct {
	Width              *int              `validate:"omitempty,min=1"`
	Height             *int              `validate:"omitempty,min=1"`
	Compression        *int              `validate:"omitempty,min=0,max=100"`
	Transform          resize.Strategies
	Lazy               *bool
	AllowedImgTagAttrs []string
	Attrs              map[string]string
}

// Options are the per-call overrides. They win over the type preset,
// which wins over Settings.
type Options struct {
	Type        string
	Width       *int
	Height      *int
	Compression *int
	Transform   resize.Strategies

	// DestDir replaces the type name or the w{W}h{H} token as the
	// derivative directory.
	DestDir string

	// Orig and Compressed return the original or the working copy
	// instead of a derivative.
	Orig       bool
	Compressed bool

	Lazy *bool

	// Arbitrary attributes. Only keys starting with an allowed prefix
	// survive resolution.
	Attrs map[string]string
}

// Effective is the resolved parameter set of one request.
type Effective struct {

	// Type is set only when it names a registered preset.
	Type string

	Width       int
	Height      int
	Compression int
	Transform   resize.Strategies

	DestDir    string
	Orig       bool
	Compressed bool

	Lazy               bool
	Placeholder        string
	AllowedImgTagAttrs []string
	ImgTagAttrs        map[string]string
}

// Defaults returns Settings filled with the default values for webDir.
func Defaults(webDir string) *Settings {
	return &Settings{
		WebDir:             webDir,
		ImagesDir:          DefaultImagesDir,
		OrigDir:            DefaultOrigDir,
		CompressionDir:     DefaultCompressionDir,
		Placeholder:        DefaultPlaceholder,
		Width:              DefaultWidth,
		Height:             DefaultHeight,
		Compression:        DefaultCompression,
		Transform:          resize.Strategies{resize.OrSmaller},
		AllowedImgTagAttrs: append([]string(nil), DefaultAllowedImgTagAttrs...),
		ImgTagAttrs:        map[string]string{},
		Types:              map[string]Preset{},
		ShardMode:          ShardModeLegacy,
		ShardWidth:         DefaultShardWidth,
		TransformTimeout:   DefaultTransformTimeout,
		MaxPixels:          DefaultMaxPixels,
	}
}

// HasType reports whether name is a registered preset.
func (s *Settings) HasType(name string) bool {
	_, ok := s.Types[name]
	return ok
}

// TypeNames returns the registered preset names.
func (s *Settings) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	return names
}

package config

import (
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Resolve merges the three configuration layers into the parameter set of
// one request: opts override the preset named by opts.Type, which
// overrides the global settings. Referencing an unregistered type is a
// ConfigError.
func (s *Settings) Resolve(opts Options) (Effective, error) {
	eff := Effective{
		Width:              s.Width,
		Height:             s.Height,
		Compression:        s.Compression,
		Transform:          slices.Clone(s.Transform),
		Lazy:               s.Lazy,
		Placeholder:        s.Placeholder,
		AllowedImgTagAttrs: slices.Clone(s.AllowedImgTagAttrs),
		ImgTagAttrs:        maps.Clone(s.ImgTagAttrs),
	}
	if eff.ImgTagAttrs == nil {
		eff.ImgTagAttrs = map[string]string{}
	}

	if opts.Type != "" {
		preset, ok := s.Types[opts.Type]
		if !ok {
			return Effective{}, &ConfigError{
				Field: "type",
				Value: opts.Type,
				Err:   ErrUnknownType,
			}
		}
		preset.apply(&eff)
		eff.Type = opts.Type
	}

	if err := s.checkDestDir(opts.DestDir); err != nil {
		return Effective{}, err
	}

	opts.apply(&eff)
	return eff, nil
}

// checkDestDir keeps explicit destinations inside the images root and out
// of the originals and working copy directories.
func (s *Settings) checkDestDir(destDir string) error {
	if destDir == "" {
		return nil
	}
	if _, err := parseDestDir(destDir); err != nil {
		return err
	}
	if filepath.IsAbs(destDir) {
		return invalid(OptDestDir, destDir, "must be a relative path inside the images directory")
	}

	first, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(destDir)), "/")
	if first == "." || first == s.OrigDir || first == s.CompressionDir {
		return invalid(OptDestDir, destDir, "must not point at the originals or working copy directory")
	}
	return nil
}

func (p Preset) apply(eff *Effective) {
	if p.Width != nil {
		eff.Width = *p.Width
	}
	if p.Height != nil {
		eff.Height = *p.Height
	}
	if p.Compression != nil {
		eff.Compression = *p.Compression
	}
	if len(p.Transform) > 0 {
		eff.Transform = slices.Clone(p.Transform)
	}
	if p.Lazy != nil {
		eff.Lazy = *p.Lazy
	}
	if p.AllowedImgTagAttrs != nil {
		eff.AllowedImgTagAttrs = slices.Clone(p.AllowedImgTagAttrs)
	}

	mergeAttrs(eff, p.Attrs)
}

func (o Options) apply(eff *Effective) {
	attrs := maps.Clone(o.Attrs)
	if attrs == nil {
		attrs = map[string]string{}
	}

	// Dimensions given on the call double as <img> attributes.
	if o.Width != nil {
		eff.Width = *o.Width
		attrs["width"] = strconv.Itoa(*o.Width)
	}
	if o.Height != nil {
		eff.Height = *o.Height
		attrs["height"] = strconv.Itoa(*o.Height)
	}
	if o.Compression != nil {
		eff.Compression = *o.Compression
	}
	if len(o.Transform) > 0 {
		eff.Transform = slices.Clone(o.Transform)
	}
	if o.Lazy != nil {
		eff.Lazy = *o.Lazy
	}

	eff.DestDir = o.DestDir
	eff.Orig = o.Orig
	eff.Compressed = o.Compressed

	mergeAttrs(eff, attrs)
}

// mergeAttrs copies the allowed keys of attrs over eff.ImgTagAttrs.
func mergeAttrs(eff *Effective, attrs map[string]string) {
	for key, value := range attrs {
		if attrAllowed(key, eff.AllowedImgTagAttrs) {
			eff.ImgTagAttrs[key] = value
		}
	}
}

func attrAllowed(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

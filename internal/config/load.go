package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/giobyte8/imagecache/internal/resize"
)

var validate = validator.New()

// LoadFromEnv reads Settings from environment variables, falling back to
// the defaults for unset ones. Presets are read from the YAML file named
// by IMAGE_TYPES_FILE, if any.
func LoadFromEnv() (*Settings, error) {
	webDir := os.Getenv("WEB_DIR")
	if webDir == "" {
		return nil, invalid("WEB_DIR", webDir, "required")
	}

	s := Defaults(webDir)
	s.ImagesDir = envOr("IMAGES_DIR", s.ImagesDir)
	s.OrigDir = envOr("ORIG_DIR", s.OrigDir)
	s.CompressionDir = envOr("COMPRESSION_DIR", s.CompressionDir)
	s.Placeholder = envOr("PLACEHOLDER", s.Placeholder)
	s.ShardMode = envOr("SHARD_MODE", s.ShardMode)

	var err error
	if s.Width, err = envInt("IMAGE_WIDTH", s.Width); err != nil {
		return nil, err
	}
	if s.Height, err = envInt("IMAGE_HEIGHT", s.Height); err != nil {
		return nil, err
	}
	if s.Compression, err = envInt("IMAGE_COMPRESSION", s.Compression); err != nil {
		return nil, err
	}
	if s.ShardWidth, err = envInt("SHARD_WIDTH", s.ShardWidth); err != nil {
		return nil, err
	}
	if s.MaxPixels, err = envInt("MAX_PIXELS", s.MaxPixels); err != nil {
		return nil, err
	}

	if raw := os.Getenv("IMAGE_TRANSFORM"); raw != "" {
		s.Transform, err = resize.ParseStrategies(raw)
		if err != nil {
			return nil, &ConfigError{Field: "IMAGE_TRANSFORM", Value: raw, Err: err}
		}
	}

	if raw := os.Getenv("ALLOWED_IMG_TAG_ATTRS"); raw != "" {
		s.AllowedImgTagAttrs = splitList(raw)
	}

	if raw := os.Getenv("IMAGE_LAZY"); raw != "" {
		if s.Lazy, err = parseBool("IMAGE_LAZY", raw); err != nil {
			return nil, err
		}
	}

	if raw := os.Getenv("TRANSFORM_TIMEOUT"); raw != "" {
		s.TransformTimeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, invalid("TRANSFORM_TIMEOUT", raw, "not a duration")
		}
	}

	if typesFile := os.Getenv("IMAGE_TYPES_FILE"); typesFile != "" {
		s.Types, err = LoadTypes(typesFile)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("IMAGE_TYPES_FILE is not set. No type presets registered.")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type typesDoc struct {
	Types map[string]presetDoc `yaml:"types"`
}

type presetDoc struct {
	Width              *int              `yaml:"width"`
	Height             *int              `yaml:"height"`
	Compression        *int              `yaml:"compression"`
	Transform          transformDoc      `yaml:"transform"`
	Lazy               *bool             `yaml:"lazy"`
	AllowedImgTagAttrs []string          `yaml:"allowedImgTagAttrs"`
	Attrs              map[string]string `yaml:"attrs"`
}

// transformDoc accepts either a single strategy or a list of them.
type transformDoc resize.Strategies

func (t *transformDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s resize.Strategy
		if err := node.Decode(&s); err != nil {
			return err
		}
		*t = transformDoc{s}
	case yaml.SequenceNode:
		var list []resize.Strategy
		if err := node.Decode(&list); err != nil {
			return err
		}
		var set resize.Strategies
		for _, s := range list {
			set = set.With(s)
		}
		*t = transformDoc(set)
	default:
		return fmt.Errorf("line %d: transform must be a strategy or a list", node.Line)
	}
	return nil
}

// LoadTypes parses a YAML file of type presets:
//
//	types:
//	  thumb:
//	    width: 200
//	    height: 200
//	    transform: [shrink_only, exact]
//	    attrs:
//	      class: thumb
func LoadTypes(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read types file %s: %w", path, err)
	}

	return ParseTypes(data)
}

// ParseTypes parses the YAML document described in LoadTypes.
func ParseTypes(data []byte) (map[string]Preset, error) {
	var doc typesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Field: "types", Value: "<yaml>", Err: err}
	}

	types := make(map[string]Preset, len(doc.Types))
	for name, p := range doc.Types {
		if name == "" {
			return nil, invalid("types", name, "type name must not be empty")
		}
		types[name] = Preset{
			Width:              p.Width,
			Height:             p.Height,
			Compression:        p.Compression,
			Transform:          resize.Strategies(p.Transform),
			Lazy:               p.Lazy,
			AllowedImgTagAttrs: p.AllowedImgTagAttrs,
			Attrs:              p.Attrs,
		}
	}

	return types, nil
}

// Validate checks ranges of the global settings and of every preset.
// Type names become directory names, so they must be a single path
// element distinct from the originals and working copy directories.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		for name := range s.Types {
			if err := s.checkTypeName(name); err != nil {
				return err
			}
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ConfigError{
			Field: fe.Namespace(),
			Value: fe.Value(),
			Err:   fmt.Errorf("%w: failed %q rule", ErrInvalidValue, fe.Tag()),
		}
	}

	return &ConfigError{Field: "settings", Value: nil, Err: err}
}

func (s *Settings) checkTypeName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return invalid("types", name, "not a valid type name")
	case strings.ContainsAny(name, `/\`):
		return invalid("types", name, "type name must not contain a path separator")
	case name == s.OrigDir || name == s.CompressionDir:
		return invalid("types", name, "type name collides with the originals or working copy directory")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalid(key, raw, "not an integer")
	}
	return n, nil
}

// splitList splits "a, b,c" into its trimmed, non-empty parts.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

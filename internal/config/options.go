package config

import (
	"strconv"
	"strings"

	"github.com/giobyte8/imagecache/internal/resize"
)

// Reserved option keys. Any other key is treated as an attribute.
const (
	OptType        = "type"
	OptWidth       = "width"
	OptHeight      = "height"
	OptCompression = "compression"
	OptTransform   = "transform"
	OptDestDir     = "destDir"
	OptOrig        = "orig"
	OptCompressed  = "compressed"
	OptLazy        = "lazy"
)

// ParseOptions builds Options from a loosely typed key/value map, as
// received from query strings or queue messages. Malformed values are
// reported as ConfigError.
func ParseOptions(values map[string]string) (Options, error) {
	var opts Options
	var err error

	for key, raw := range values {
		value := strings.TrimSpace(raw)

		switch key {
		case OptType:
			opts.Type = value
		case OptWidth:
			opts.Width, err = parseDimension(key, value)
		case OptHeight:
			opts.Height, err = parseDimension(key, value)
		case OptCompression:
			opts.Compression, err = parseCompression(value)
		case OptTransform:
			opts.Transform, err = resize.ParseStrategies(value)
			if err != nil {
				err = &ConfigError{Field: key, Value: value, Err: err}
			}
		case OptDestDir:
			opts.DestDir, err = parseDestDir(value)
		case OptOrig:
			opts.Orig, err = parseBool(key, value)
		case OptCompressed:
			opts.Compressed, err = parseBool(key, value)
		case OptLazy:
			var lazy bool
			lazy, err = parseBool(key, value)
			opts.Lazy = &lazy
		default:
			if opts.Attrs == nil {
				opts.Attrs = make(map[string]string)
			}
			opts.Attrs[key] = raw
		}

		if err != nil {
			return Options{}, err
		}
	}

	return opts, nil
}

func parseDimension(key, value string) (*int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, invalid(key, value, "not an integer")
	}
	if n < 1 {
		return nil, invalid(key, value, "must be at least 1")
	}
	return &n, nil
}

func parseCompression(value string) (*int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, invalid(OptCompression, value, "not an integer")
	}
	if n < 0 || n > 100 {
		return nil, invalid(OptCompression, value, "must be within [0, 100]")
	}
	return &n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, invalid(key, value, "not a boolean")
	}
	return b, nil
}

// parseDestDir rejects directories escaping the images root.
func parseDestDir(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if strings.HasPrefix(value, "/") || strings.Contains(value, "..") {
		return "", invalid(OptDestDir, value, "must be a relative path inside the images directory")
	}
	return value, nil
}

package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/giobyte8/imagecache/internal/resize"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image exceeds pixel limit")
)

// Params holds everything needed to build one derivative.
type Params struct {
	Width  int
	Height int

	// Quality passed to the encoder. 0 leaves the format default.
	Compression int

	Strategies resize.Strategies
}

// Size is the pixel size of a persisted image.
type Size struct {
	Width  int
	Height int
}

// Transformer builds a derivative of the image at src and persists it at
// dst. dst only becomes visible once completely written.
type Transformer interface {
	Transform(ctx context.Context, src, dst string, p Params) (Size, error)
}

// Normalizer re-encodes src into dst keeping its geometry. It builds the
// working copy of a freshly stored original.
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string, compression int) (Size, error)
}

// TransformError wraps any failure while decoding, transforming or
// persisting an image.
type TransformError struct {
	Path string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Path, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func wrap(path string, err error) error {
	if err == nil {
		return nil
	}

	var te *TransformError
	if errors.As(err, &te) {
		return err
	}
	return &TransformError{Path: path, Err: err}
}

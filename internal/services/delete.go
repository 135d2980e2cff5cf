package services

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
)

// DeleteImage removes file and its derivatives. Derivatives of the types
// listed in excludedTypes are kept. Without exclusions the original and
// the working copy are removed too.
//
// Deletion is best effort: failures are logged and skipped. Only a
// cancelled context stops it early.
func (s *ImageStorage) DeleteImage(
	ctx context.Context,
	file Nameable,
	excludedTypes []string,
) error {
	name := nameOf(file)
	if !ValidFileName(name) {
		slog.Warn("Refusing to delete invalid file name", "file", name)
		return nil
	}

	removed := 0
	remove := func(path string) {
		err := os.Remove(path)
		switch {
		case err == nil:
			slog.Debug("Removed image file", "path", path)
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			slog.Error("Failed to remove image file", "path", path, "error", err)
		}
	}

	if len(excludedTypes) == 0 {
		remove(s.layout.OriginalPath(name))
		remove(s.layout.WorkingCopyPath(name))
	}

	for _, typeName := range s.settings.TypeNames() {
		if slices.Contains(excludedTypes, typeName) {
			continue
		}
		remove(s.layout.TypePath(name, typeName))
	}

	err := s.sweep(ctx, name, remove)

	s.telemetry.Metrics().Increment(
		metrics.ImageDeleted,
		map[string]string{"removed": strconv.Itoa(removed)},
	)
	return err
}

// sweep walks the images root for leftovers of name under directories
// that are neither a registered type nor the originals or working copies,
// such as explicit destinations or w{W}h{H} directories.
func (s *ImageStorage) sweep(
	ctx context.Context,
	name string,
	remove func(path string),
) error {
	base := s.layout.BaseDir()
	if _, err := os.Stat(base); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Images root not accessible", "path", base, "error", err)
		}
		return nil
	}

	skipped := append(s.settings.TypeNames(), s.layout.OrigDir(), s.layout.CompressionDir())
	shard := s.layout.Shard(name)

	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			slog.Warn("Sweep failed to read path", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if filepath.Dir(path) == base && slices.Contains(skipped, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Name() == name && filepath.Base(filepath.Dir(path)) == shard {
			remove(path)
		}
		return nil
	})
}

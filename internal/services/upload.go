package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
	"github.com/giobyte8/imagecache/internal/transform"
)

// FileUpload is a file received from a client, already stored in a
// temporary location.
type FileUpload interface {
	Name() string
	TempPath() string

	// Err reports a failed transfer. Such uploads are never stored.
	Err() error
}

// UploadError reports an upload whose transfer failed before it reached
// the storage.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q failed: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// SaveUpload stores the uploaded file under a new unique name, builds its
// working copy and returns the name. The temporary file is moved.
func (s *ImageStorage) SaveUpload(ctx context.Context, upload FileUpload) (string, error) {
	if err := upload.Err(); err != nil {
		return "", &UploadError{Name: upload.Name(), Err: err}
	}
	return s.store(ctx, upload.Name(), upload.TempPath(), moveFile)
}

// SaveImage is SaveUpload for bytes already on disk. The file at path is
// copied and stays owned by the caller.
func (s *ImageStorage) SaveImage(ctx context.Context, name, path string) (string, error) {
	return s.store(ctx, name, path, copyFile)
}

func (s *ImageStorage) store(
	ctx context.Context,
	name, path string,
	transfer func(src, dst string) error,
) (string, error) {
	fileName, err := s.uniqueName(name, extensionOf(name, path))
	if err != nil {
		return "", err
	}

	origPath := s.layout.OriginalPath(fileName)
	if err := transfer(path, origPath); err != nil {
		return "", &transform.TransformError{Path: path, Err: err}
	}

	size, err := s.normalizer.Normalize(
		ctx,
		origPath,
		s.layout.WorkingCopyPath(fileName),
		s.settings.Compression,
	)
	if err != nil {
		slog.Warn(
			"Working copy could not be built, removing original",
			"name", name,
			"file", fileName,
			"error", err,
		)
		if rmErr := os.Remove(origPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Error("Failed to roll back original", "path", origPath, "error", rmErr)
		}
		return "", err
	}

	slog.Info(
		"Image stored",
		"name", name,
		"file", fileName,
		"width", size.Width,
		"height", size.Height,
	)
	s.telemetry.Metrics().Increment(metrics.UploadSaved, nil)
	return fileName, nil
}

// moveFile renames src to dst, copying when both live on different
// devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		slog.Warn("Failed to remove uploaded temp file", "path", src, "error", err)
	}
	return nil
}

// copyFile copies src into a temp file next to dst and renames it into
// place.
func copyFile(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, in)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to copy %s: %w", src, err)
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

package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
	"github.com/giobyte8/imagecache/internal/transform"
)

type upload struct {
	name string
	path string
	err  error
}

func (u upload) Name() string     { return u.name }
func (u upload) TempPath() string { return u.path }
func (u upload) Err() error       { return u.err }

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return files
}

func TestSaveUpload_MovesFileAndBuildsWorkingCopy(t *testing.T) {
	f := newFixture(t)
	tmp := filepath.Join(t.TempDir(), "php-upload-123")
	writeImage(t, tmp, 120, 80, false)

	name, err := f.storage.SaveUpload(context.Background(), upload{name: "Holiday.JPG", path: tmp})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(name, ".JPG"))
	assert.NoFileExists(t, tmp)
	assert.FileExists(t, f.storage.Layout().OriginalPath(name))

	size, err := transform.ReadSize(f.storage.Layout().WorkingCopyPath(name))
	require.NoError(t, err)
	assert.Equal(t, transform.Size{Width: 120, Height: 80}, size)
	assert.Equal(t, 1, f.rec.Count(metrics.UploadSaved))
}

func TestSaveUpload_TransferError(t *testing.T) {
	f := newFixture(t)
	transferErr := errors.New("partial upload")

	_, err := f.storage.SaveUpload(context.Background(), upload{name: "a.jpg", err: transferErr})

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "a.jpg", ue.Name)
	assert.ErrorIs(t, err, transferErr)
	assert.Empty(t, listFiles(t, f.storage.Layout().BaseDir()))
}

func TestSaveUpload_RollsBackCorruptImage(t *testing.T) {
	f := newFixture(t)
	tmp := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(tmp, []byte("\xff\xd8\xff\xe0 truncated jpeg"), 0644))

	name, err := f.storage.SaveUpload(context.Background(), upload{name: "broken.jpg", path: tmp})

	assert.Empty(t, name)
	var te *transform.TransformError
	require.True(t, errors.As(err, &te))

	origDir := filepath.Join(f.storage.Layout().BaseDir(), f.storage.Layout().OrigDir())
	assert.Empty(t, listFiles(t, origDir))
	assert.Equal(t, 0, f.rec.Count(metrics.UploadSaved))
}

func TestSaveImage_CopiesSource(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "logo.png")
	writeImage(t, src, 30, 30, true)

	name, err := f.storage.SaveImage(context.Background(), "logo.png", src)
	require.NoError(t, err)

	assert.FileExists(t, src)
	assert.FileExists(t, f.storage.Layout().OriginalPath(name))
	assert.FileExists(t, f.storage.Layout().WorkingCopyPath(name))
}

func TestSaveImage_SniffsMissingExtension(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "blob")
	writeImage(t, src, 10, 10, true)

	name, err := f.storage.SaveImage(context.Background(), "blob", src)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".png"), name)
}

func TestSaveImage_MissingSource(t *testing.T) {
	f := newFixture(t)

	_, err := f.storage.SaveImage(context.Background(), "a.jpg", filepath.Join(t.TempDir(), "nope.jpg"))

	var te *transform.TransformError
	assert.True(t, errors.As(err, &te))
}

func TestGenerateName(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-zA-Z0-9]{10}[0-9a-f]{10}\.jpg$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name, err := generateName("photo.jpg", "jpg")
		require.NoError(t, err)
		assert.Regexp(t, pattern, name)
		assert.False(t, seen[name])
		seen[name] = true
	}

	name, err := generateName("noext", "")
	require.NoError(t, err)
	assert.Len(t, name, 20)
}

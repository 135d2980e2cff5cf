package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/imagecache/internal/resize"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func testSettings() *Settings {
	s := Defaults("/srv/www")
	s.Types = map[string]Preset{
		"thumb": {
			Width:     intPtr(200),
			Height:    intPtr(150),
			Transform: resize.Strategies{resize.Exact},
			Lazy:      boolPtr(true),
			Attrs: map[string]string{
				"class":   "thumb",
				"onclick": "alert(1)",
			},
		},
	}
	return s
}

func TestResolve_GlobalDefaults(t *testing.T) {
	eff, err := testSettings().Resolve(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultWidth, eff.Width)
	assert.Equal(t, DefaultHeight, eff.Height)
	assert.Equal(t, DefaultCompression, eff.Compression)
	assert.Equal(t, resize.Strategies{resize.OrSmaller}, eff.Transform)
	assert.Empty(t, eff.Type)
	assert.False(t, eff.Lazy)
}

func TestResolve_Precedence(t *testing.T) {
	s := testSettings()

	// Type preset overrides global.
	eff, err := s.Resolve(Options{Type: "thumb"})
	require.NoError(t, err)
	assert.Equal(t, 200, eff.Width)
	assert.Equal(t, 150, eff.Height)
	assert.Equal(t, DefaultCompression, eff.Compression)
	assert.Equal(t, "thumb", eff.Type)
	assert.True(t, eff.Lazy)
	assert.True(t, eff.Transform.IsExact())

	// Call option overrides type preset.
	eff, err = s.Resolve(Options{
		Type:      "thumb",
		Width:     intPtr(50),
		Lazy:      boolPtr(false),
		Transform: resize.Strategies{resize.Cover},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, eff.Width)
	assert.Equal(t, 150, eff.Height)
	assert.False(t, eff.Lazy)
	assert.Equal(t, resize.Strategies{resize.Cover}, eff.Transform)

	// Call option overrides global without a type.
	eff, err = s.Resolve(Options{Compression: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, eff.Compression)
	assert.Equal(t, DefaultWidth, eff.Width)
}

func TestResolve_UnknownTypeIsConfigError(t *testing.T) {
	_, err := testSettings().Resolve(Options{Type: "banner"})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "type", cfgErr.Field)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestResolve_AttributePassthrough(t *testing.T) {
	s := testSettings()

	eff, err := s.Resolve(Options{
		Type:  "thumb",
		Width: intPtr(64),
		Attrs: map[string]string{
			"data-src":    "x",
			"title":       "hello",
			"class":       "call",
			"onmouseover": "nope",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"class":    "call",
		"data-src": "x",
		"title":    "hello",
		"width":    "64",
	}, eff.ImgTagAttrs)
}

func TestResolve_DoesNotLeakIntoSettings(t *testing.T) {
	s := testSettings()

	eff, err := s.Resolve(Options{Attrs: map[string]string{"alt": "a"}})
	require.NoError(t, err)
	eff.Transform[0] = resize.Stretch
	eff.AllowedImgTagAttrs[0] = "mutated"

	assert.Empty(t, s.ImgTagAttrs)
	assert.Equal(t, resize.OrSmaller, s.Transform[0])
	assert.Equal(t, "alt", s.AllowedImgTagAttrs[0])
}

func TestResolve_DestinationFlags(t *testing.T) {
	eff, err := testSettings().Resolve(Options{DestDir: "custom", Orig: true, Compressed: true})
	require.NoError(t, err)
	assert.Equal(t, "custom", eff.DestDir)
	assert.True(t, eff.Orig)
	assert.True(t, eff.Compressed)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]string{
		"type":        "thumb",
		"width":       "300",
		"height":      "200",
		"compression": "70",
		"transform":   "shrink_only,cover",
		"destDir":     "avatars",
		"orig":        "false",
		"compressed":  "true",
		"lazy":        "1",
		"data-id":     "7",
	})
	require.NoError(t, err)

	assert.Equal(t, "thumb", opts.Type)
	assert.Equal(t, 300, *opts.Width)
	assert.Equal(t, 200, *opts.Height)
	assert.Equal(t, 70, *opts.Compression)
	assert.Equal(t, resize.Strategies{resize.ShrinkOnly, resize.Cover}, opts.Transform)
	assert.Equal(t, "avatars", opts.DestDir)
	assert.False(t, opts.Orig)
	assert.True(t, opts.Compressed)
	assert.True(t, *opts.Lazy)
	assert.Equal(t, map[string]string{"data-id": "7"}, opts.Attrs)
}

func TestParseOptions_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"zero width":          {"width": "0"},
		"text height":         {"height": "tall"},
		"compression too big": {"compression": "101"},
		"unknown transform":   {"transform": "squash"},
		"escaping dest dir":   {"destDir": "../etc"},
		"bad bool":            {"orig": "maybe"},
	}

	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOptions(values)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	s := testSettings()
	require.NoError(t, s.Validate())

	s.Width = 0
	var cfgErr *ConfigError
	require.True(t, errors.As(s.Validate(), &cfgErr))

	s = testSettings()
	s.Compression = 101
	assert.Error(t, s.Validate())

	s = testSettings()
	s.Types["broken"] = Preset{Height: intPtr(0)}
	assert.Error(t, s.Validate())

	s = testSettings()
	s.ShardMode = "random"
	assert.Error(t, s.Validate())
}

func TestParseTypes(t *testing.T) {
	types, err := ParseTypes([]byte(`
types:
  thumb:
    width: 200
    height: 200
    transform: exact
    attrs:
      class: thumb
  banner:
    width: 1200
    compression: 60
    transform: [shrink_only, cover, cover]
    lazy: true
`))
	require.NoError(t, err)
	require.Len(t, types, 2)

	thumb := types["thumb"]
	assert.Equal(t, 200, *thumb.Width)
	assert.Equal(t, resize.Strategies{resize.Exact}, thumb.Transform)
	assert.Equal(t, "thumb", thumb.Attrs["class"])
	assert.Nil(t, thumb.Compression)

	banner := types["banner"]
	assert.Nil(t, banner.Height)
	assert.Equal(t, 60, *banner.Compression)
	assert.Equal(t, resize.Strategies{resize.ShrinkOnly, resize.Cover}, banner.Transform)
	assert.True(t, *banner.Lazy)

	_, err = ParseTypes([]byte("types:\n  x:\n    transform: squash\n"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	typesFile := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(typesFile, []byte("types:\n  thumb:\n    width: 100\n"), 0644))

	t.Setenv("WEB_DIR", dir)
	t.Setenv("IMAGE_WIDTH", "800")
	t.Setenv("IMAGE_TRANSFORM", "shrink_only, stretch")
	t.Setenv("ALLOWED_IMG_TAG_ATTRS", "alt, data")
	t.Setenv("IMAGE_LAZY", "true")
	t.Setenv("TRANSFORM_TIMEOUT", "5s")
	t.Setenv("IMAGE_TYPES_FILE", typesFile)

	s, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, dir, s.WebDir)
	assert.Equal(t, 800, s.Width)
	assert.Equal(t, DefaultHeight, s.Height)
	assert.Equal(t, resize.Strategies{resize.ShrinkOnly, resize.Stretch}, s.Transform)
	assert.Equal(t, []string{"alt", "data"}, s.AllowedImgTagAttrs)
	assert.True(t, s.Lazy)
	assert.Equal(t, 5*time.Second, s.TransformTimeout)
	assert.True(t, s.HasType("thumb"))
}

func TestLoadFromEnv_ValidatesRanges(t *testing.T) {
	t.Setenv("WEB_DIR", t.TempDir())
	t.Setenv("IMAGE_COMPRESSION", "150")

	_, err := LoadFromEnv()
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadFromEnv_RequiresWebDir(t *testing.T) {
	t.Setenv("WEB_DIR", "")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestValidate_TypeNamesAreDirectoryNames(t *testing.T) {
	for _, name := range []string{"orig", "imgs", "a/b", `a\b`, "..", "."} {
		s := testSettings()
		s.Types[name] = Preset{Width: intPtr(10)}

		var cfgErr *ConfigError
		require.True(t, errors.As(s.Validate(), &cfgErr), name)
		assert.ErrorIs(t, cfgErr, ErrInvalidValue, name)
	}
}

func TestResolve_RejectsEscapingDestDir(t *testing.T) {
	for _, destDir := range []string{"/etc", "../up", "a/../../up", "orig", "imgs/x", "./orig", "."} {
		_, err := testSettings().Resolve(Options{DestDir: destDir})

		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), destDir)
	}

	eff, err := testSettings().Resolve(Options{DestDir: "gallery/large"})
	require.NoError(t, err)
	assert.Equal(t, "gallery/large", eff.DestDir)
}

func TestLoadFromEnv_RejectsTypeShadowingOriginals(t *testing.T) {
	dir := t.TempDir()
	typesFile := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(typesFile, []byte("types:\n  orig:\n    width: 100\n"), 0644))

	t.Setenv("WEB_DIR", dir)
	t.Setenv("IMAGE_TYPES_FILE", typesFile)

	_, err := LoadFromEnv()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "orig", cfgErr.Value)
}

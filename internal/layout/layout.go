package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/giobyte8/imagecache/internal/config"
)

// Layout computes where originals, working copies and derivatives live.
// Every path is a pure function of the file name and the resolved
// configuration, which makes the derivative path the cache key.
type Layout struct {
	webDir         string
	baseDir        string
	origDir        string
	compressionDir string
	placeholder    string
	types          map[string]config.Preset
	sharder        Sharder
}

func New(s *config.Settings) *Layout {
	var sharder Sharder = LegacySharder{}
	if s.ShardMode == config.ShardModeHash {
		sharder = HashSharder{Width: s.ShardWidth}
	}

	return &Layout{
		webDir:         filepath.Clean(s.WebDir),
		baseDir:        filepath.Join(s.WebDir, s.ImagesDir),
		origDir:        s.OrigDir,
		compressionDir: s.CompressionDir,
		placeholder:    filepath.Join(s.WebDir, s.Placeholder),
		types:          s.Types,
		sharder:        sharder,
	}
}

// BaseDir is the absolute images root.
func (l *Layout) BaseDir() string {
	return l.baseDir
}

// OrigDir and CompressionDir are the directory names, relative to BaseDir,
// of the originals and the working copies.
func (l *Layout) OrigDir() string {
	return l.origDir
}

func (l *Layout) CompressionDir() string {
	return l.compressionDir
}

func (l *Layout) Shard(fileName string) string {
	return l.sharder.Shard(fileName)
}

func (l *Layout) OriginalPath(fileName string) string {
	return l.pathIn(l.origDir, fileName)
}

func (l *Layout) WorkingCopyPath(fileName string) string {
	return l.pathIn(l.compressionDir, fileName)
}

// PlaceholderPath is the absolute path of the placeholder image.
func (l *Layout) PlaceholderPath() string {
	return l.placeholder
}

// DerivativePath is where the derivative for eff is stored.
func (l *Layout) DerivativePath(fileName string, eff config.Effective) string {
	return l.pathIn(l.DestDirKey(eff), fileName)
}

// TypePath is the derivative path of a registered type.
func (l *Layout) TypePath(fileName, typeName string) string {
	return l.pathIn(typeName, fileName)
}

// DestDirKey names the derivative directory. In order of priority: the
// original dir, the working copy dir, an explicit destination, the type
// name, and finally a w{W}h{H} token.
func (l *Layout) DestDirKey(eff config.Effective) string {
	switch {
	case eff.Orig:
		return l.origDir
	case eff.Compressed:
		return l.compressionDir
	case eff.DestDir != "":
		return eff.DestDir
	case eff.Type != "" && l.isType(eff.Type):
		return eff.Type
	default:
		return fmt.Sprintf("w%dh%d", eff.Width, eff.Height)
	}
}

// WebPath strips the web root from path and returns a slash separated,
// rooted path suitable for an <img src>.
func (l *Layout) WebPath(path string) string {
	rel := strings.TrimPrefix(filepath.Clean(path), l.webDir)
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

func (l *Layout) pathIn(dir, fileName string) string {
	return filepath.Join(l.baseDir, dir, l.sharder.Shard(fileName), fileName)
}

func (l *Layout) isType(name string) bool {
	_, ok := l.types[name]
	return ok
}

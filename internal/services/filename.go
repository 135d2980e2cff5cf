package services

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 10
	hashSuffixLen = 5
)

// uniqueName generates a file name for an upload called original that is
// not taken yet in the originals directory.
func (s *ImageStorage) uniqueName(original, ext string) (string, error) {
	for {
		name, err := generateName(original, ext)
		if err != nil {
			return "", err
		}

		_, err = os.Stat(s.layout.OriginalPath(name))
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check original path for %s: %w", name, err)
		}
	}
}

// generateName builds a random token, followed by a short hash of the
// token and a short hash derived from the original name.
func generateName(original, ext string) (string, error) {
	token, err := randomToken(tokenLength)
	if err != nil {
		return "", err
	}

	nameHash := []byte(md5Hex(original))
	mrand.Shuffle(len(nameHash), func(i, j int) {
		nameHash[i], nameHash[j] = nameHash[j], nameHash[i]
	})

	name := token + last(md5Hex(token), hashSuffixLen) + last(md5Hex(string(nameHash)), hashSuffixLen)
	if ext != "" {
		name += "." + ext
	}
	return name, nil
}

func randomToken(n int) (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random token: %w", err)
		}
		b.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func last(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// extensionOf returns the extension of name, without the dot. Names
// without one get the extension sniffed from the bytes at path.
func extensionOf(name, path string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		return ext
	}

	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}

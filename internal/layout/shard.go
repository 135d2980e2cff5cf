package layout

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sharder maps a file name onto a low-cardinality subdirectory name, to
// bound the number of entries per directory.
type Sharder interface {
	Shard(fileName string) string
}

// LegacySharder is the first byte of the name modulo 42. It is not a hash
// and it keeps existing trees on disk addressable.
type LegacySharder struct{}

const legacyShardModulus = 42

func (LegacySharder) Shard(fileName string) string {
	if fileName == "" {
		return "0"
	}
	return strconv.Itoa(int(fileName[0]) % legacyShardModulus)
}

// HashSharder spreads names over Width buckets using xxhash of the whole
// name.
type HashSharder struct {
	Width int
}

func (h HashSharder) Shard(fileName string) string {
	width := h.Width
	if width < 1 {
		width = legacyShardModulus
	}
	return strconv.FormatUint(xxhash.Sum64String(fileName)%uint64(width), 10)
}

package pathutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// StartBlock returns the LTFS "ltfs.startblock" extended attribute for the
// file at path, used to order restore reads by on-tape position and
// minimize head travel (spec.md §4.6). When the attribute is absent (not
// an LTFS-backed file, or filesystem does not expose it), it falls back to
// the file's inode number, per spec.md's documented fallback.
func StartBlock(path string) (uint64, error) {
	buf := make([]byte, 32)
	n, err := unix.Lgetxattr(path, "ltfs.startblock", buf)
	if err == nil && n > 0 {
		var block uint64
		if _, scanErr := fmt.Sscanf(string(buf[:n]), "%d", &block); scanErr == nil {
			return block, nil
		}
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return 0, fmt.Errorf("start block fallback stat: %w", statErr)
	}
	return inodeOf(info)
}

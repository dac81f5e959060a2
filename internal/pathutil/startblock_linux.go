package pathutil

import (
	"fmt"
	"os"
	"syscall"
)

// inodeOf extracts the inode number from a Linux os.FileInfo when the
// ltfs.startblock xattr is unavailable.
func inodeOf(info os.FileInfo) (uint64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("inode fallback: unsupported stat type")
	}
	return stat.Ino, nil
}

//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize returns allocated disk usage in bytes. Stat blocks are
// used so sparse badger value logs are not overcounted.
func getActualFileSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// Blocks are 512 bytes regardless of the filesystem block size
	return stat.Blocks * 512, nil
}

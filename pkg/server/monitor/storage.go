package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/storage"
)

// StorageMonitor tracks storage usage with caching to avoid expensive
// filesystem or database calls.
type StorageMonitor struct {
	usage         func() (int64, error)
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor measures the on-disk size of dataDir.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		usage:         func() (int64, error) { return calculateDirSize(dataDir) },
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// NewStoreMonitor measures usage through the store's own statistics, for
// backends without a local data directory.
func NewStoreMonitor(store storage.Store, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		usage: func() (int64, error) {
			ctx, cancel := context.WithTimeout(context.Background(), config.StatsTimeout)
			defer cancel()
			stats, err := store.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return int64(stats.SizeBytes), nil
		},
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current storage usage in bytes. The value is cached for
// 10 seconds.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := sm.usage()
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// calculateDirSize recursively calculates directory size in bytes.
// Uses actual disk usage (not logical size) to handle sparse files correctly.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actualSize, err := getActualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actualSize
			}
		}
		return nil
	})
	return size, err
}

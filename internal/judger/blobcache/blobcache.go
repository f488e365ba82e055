// Package blobcache keeps test data blobs on local disk so repeated judging
// of the same problem does not re-download from object storage. Blobs are
// stored zstd-compressed and decompressed into the judge work directory on
// demand.
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gavel/internal/common/storage"
	appErr "gavel/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

type cacheEntry struct {
	key       string
	path      string
	sizeBytes int64
}

// Cache is a size-bounded LRU of compressed blobs.
type Cache struct {
	rootDir  string
	maxBytes int64
	store    storage.BlobStore

	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lruKeys   []string
	totalSize int64
	inflight  map[string]chan struct{}
}

// New creates a cache rooted at rootDir. maxBytes bounds the compressed
// on-disk footprint.
func New(rootDir string, maxBytes int64, store storage.BlobStore) (*Cache, error) {
	if rootDir == "" {
		return nil, appErr.ValidationError("root_dir", "required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create cache dir %s", rootDir)
	}
	return &Cache{
		rootDir:  rootDir,
		maxBytes: maxBytes,
		store:    store,
		entries:  make(map[string]*cacheEntry),
		inflight: make(map[string]chan struct{}),
	}, nil
}

// Materialize writes the decompressed blob to dstPath, fetching and caching
// it first if needed. Concurrent requests for the same key download once.
func (c *Cache) Materialize(ctx context.Context, key, dstPath string) error {
	path, err := c.ensure(ctx, key)
	if err != nil {
		return err
	}
	return decompressTo(path, dstPath)
}

func (c *Cache) ensure(ctx context.Context, key string) (string, error) {
	for {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			c.touchLocked(key)
			c.mu.Unlock()
			return entry.path, nil
		}
		wait, busy := c.inflight[key]
		if !busy {
			wait = make(chan struct{})
			c.inflight[key] = wait
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	path, err := c.download(ctx, key)

	c.mu.Lock()
	close(c.inflight[key])
	delete(c.inflight, key)
	if err == nil {
		c.addLocked(key, path)
	}
	c.mu.Unlock()
	return path, err
}

func (c *Cache) download(ctx context.Context, key string) (string, error) {
	reader, err := c.store.Get(ctx, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.BlobReadError, "fetch blob %s", key)
	}
	defer reader.Close()

	path := c.localPath(key)
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "create cache file")
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	if _, err := io.Copy(enc, reader); err != nil {
		enc.Close()
		file.Close()
		os.Remove(tempPath)
		return "", appErr.Wrapf(err, appErr.BlobReadError, "cache blob %s", key)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", appErr.Wrap(err, appErr.StorageError)
	}
	return path, nil
}

func (c *Cache) addLocked(key, path string) {
	size := fileSize(path)
	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
	}
	c.entries[key] = &cacheEntry{key: key, path: path, sizeBytes: size}
	c.totalSize += size
	c.touchLocked(key)
	c.evictLocked()
}

func (c *Cache) touchLocked(key string) {
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, key)
}

func (c *Cache) evictLocked() {
	for c.maxBytes > 0 && c.totalSize > c.maxBytes && len(c.lruKeys) > 1 {
		key := c.lruKeys[0]
		c.lruKeys = c.lruKeys[1:]
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		delete(c.entries, key)
		c.totalSize -= entry.sizeBytes
		_ = os.Remove(entry.path)
	}
}

func (c *Cache) localPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.rootDir, hex.EncodeToString(sum[:])+".zst")
}

func decompressTo(srcPath, dstPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.BlobReadError, "open cached blob")
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrap(err, appErr.BlobReadError)
	}
	defer dec.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create %s", dstPath)
	}
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		return appErr.Wrapf(err, appErr.BlobReadError, "decompress to %s", dstPath)
	}
	return out.Close()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

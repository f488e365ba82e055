package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore implements BlobStore on a local directory. Used for
// single-machine deployments and deterministic tests.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root failed: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q not found", key)
		}
		return nil, fmt.Errorf("open blob failed: %w", err)
	}
	return file, nil
}

func (s *FSStore) Put(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create blob dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob failed: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blob failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob failed: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FSStore) Stat(ctx context.Context, key string) (BlobStat, error) {
	path, err := s.resolve(key)
	if err != nil {
		return BlobStat{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return BlobStat{}, fmt.Errorf("stat blob failed: %w", err)
	}
	sum := sha256.Sum256([]byte(key))
	return BlobStat{SizeBytes: info.Size(), ETag: hex.EncodeToString(sum[:8])}, nil
}

// resolve maps a blob key onto the root, rejecting traversal outside it.
func (s *FSStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

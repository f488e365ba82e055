package blobcache

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"gavel/internal/common/storage"
	appErr "gavel/pkg/errors"
)

type countingStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	gets  atomic.Int64
}

func (s *countingStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, appErr.Newf(appErr.BlobNotFound, "blob %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *countingStore) Put(_ context.Context, key string, reader io.Reader, _ int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *countingStore) Stat(_ context.Context, key string) (storage.BlobStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return storage.BlobStat{}, appErr.Newf(appErr.BlobNotFound, "blob %s", key)
	}
	return storage.BlobStat{SizeBytes: int64(len(data))}, nil
}

func TestMaterializeRoundTrip(t *testing.T) {
	t.Parallel()
	store := &countingStore{blobs: map[string][]byte{"p1/1.in": []byte("hello input\n")}}
	cache, err := New(t.TempDir(), 0, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "input.txt")
	if err := cache.Materialize(context.Background(), "p1/1.in", dst); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello input\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestMaterializeDownloadsOnce(t *testing.T) {
	t.Parallel()
	store := &countingStore{blobs: map[string][]byte{"k": []byte("data")}}
	cache, err := New(t.TempDir(), 0, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir := t.TempDir()

	for i := 0; i < 5; i++ {
		if err := cache.Materialize(context.Background(), "k", filepath.Join(dir, "out")); err != nil {
			t.Fatalf("materialize %d: %v", i, err)
		}
	}
	if got := store.gets.Load(); got != 1 {
		t.Fatalf("store hit %d times, want 1", got)
	}
}

func TestConcurrentMaterializeSingleFlight(t *testing.T) {
	t.Parallel()
	store := &countingStore{blobs: map[string][]byte{"k": bytes.Repeat([]byte("x"), 4096)}}
	cache, err := New(t.TempDir(), 0, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dst := filepath.Join(dir, "out"+string(rune('a'+i)))
			if err := cache.Materialize(context.Background(), "k", dst); err != nil {
				t.Errorf("materialize: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := store.gets.Load(); got != 1 {
		t.Fatalf("store hit %d times, want 1", got)
	}
}

func TestEvictionKeepsMostRecent(t *testing.T) {
	t.Parallel()
	// Incompressible payloads so the compressed footprint tracks the sizes.
	rng := rand.New(rand.NewSource(1))
	big := func() []byte {
		buf := make([]byte, 64*1024)
		rng.Read(buf)
		return buf
	}
	store := &countingStore{blobs: map[string][]byte{
		"a": big(),
		"b": big(),
		"c": big(),
	}}
	cache, err := New(t.TempDir(), 140*1024, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir := t.TempDir()
	ctx := context.Background()
	dst := filepath.Join(dir, "out")

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Materialize(ctx, key, dst); err != nil {
			t.Fatalf("materialize %s: %v", key, err)
		}
	}
	// Three entries exceed the bound, so the oldest must have been evicted.
	if err := cache.Materialize(ctx, "a", dst); err != nil {
		t.Fatalf("re-materialize a: %v", err)
	}
	if got := store.gets.Load(); got != 4 {
		t.Fatalf("store hit %d times, want 4 (a was evicted and re-fetched)", got)
	}
}

func TestMaterializeMissingBlob(t *testing.T) {
	t.Parallel()
	store := &countingStore{blobs: map[string][]byte{}}
	cache, err := New(t.TempDir(), 0, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = cache.Materialize(context.Background(), "missing", filepath.Join(t.TempDir(), "out"))
	if appErr.GetCode(err) != appErr.BlobReadError {
		t.Fatalf("expected BlobReadError, got %v", err)
	}
}

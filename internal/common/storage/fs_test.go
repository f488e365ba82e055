package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	payload := []byte("1 2\n")
	if err := store.Put(ctx, "problems/1/case1.in", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reader, err := store.Get(ctx, "problems/1/case1.in")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read blob failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	stat, err := store.Stat(ctx, "problems/1/case1.in")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if stat.SizeBytes != int64(len(payload)) {
		t.Fatalf("stat size = %d, want %d", stat.SizeBytes, len(payload))
	}
}

func TestFSStorePutReplacesExisting(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "k", strings.NewReader("old"), 3); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := store.Put(ctx, "k", strings.NewReader("newer"), 5); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	reader, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "newer" {
		t.Fatalf("got %q, want %q", got, "newer")
	}
}

func TestFSStoreMissingBlob(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "no/such/blob"); err == nil {
		t.Fatal("expected error for missing blob")
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		if _, err := store.Get(ctx, key); err == nil {
			t.Fatalf("key %q: expected error", key)
		}
	}
}

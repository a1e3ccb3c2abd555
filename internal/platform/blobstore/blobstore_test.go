package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"fs":     fsStore,
	}
}

// ---------------------------------------------------------------------------
// Store contract
// ---------------------------------------------------------------------------

func TestStore_PutGetDelete(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := "%PDF-1.4 fake"

			obj, err := store.Put(ctx, "abc.pdf", "application/pdf", strings.NewReader(content))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if obj.Ref != "abc.pdf" {
				t.Errorf("expected Ref=abc.pdf, got %s", obj.Ref)
			}
			if obj.Size != int64(len(content)) {
				t.Errorf("expected Size=%d, got %d", len(content), obj.Size)
			}

			got, err := ReadAll(ctx, store, obj.Ref)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != content {
				t.Errorf("expected content %q, got %q", content, got)
			}

			if err := store.Delete(ctx, obj.Ref); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.Get(ctx, obj.Ref); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(context.Background(), "nope.pdf"); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound, got %v", err)
			}
			if err := store.Delete(context.Background(), "nope.pdf"); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound, got %v", err)
			}
		})
	}
}

func TestStore_RejectsBadNames(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrMissingFileName) {
				t.Errorf("expected ErrMissingFileName, got %v", err)
			}
			for _, bad := range []string{"../escape.pdf", "a/b.pdf", `a\b.pdf`} {
				if _, err := store.Put(ctx, bad, "text/plain", strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
					t.Errorf("Put(%q): expected ErrInvalidName, got %v", bad, err)
				}
			}
		})
	}
}

func TestStore_TooLarge(t *testing.T) {
	store := NewInMemoryStore()
	r := io.LimitReader(zeroReader{}, MaxFileSize+1)
	if _, err := store.Put(context.Background(), "big.pdf", "application/pdf", r); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected nothing stored, got %d", store.Len())
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestFileStore_FailedReadLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, err = store.Put(context.Background(), "partial.pdf", "application/pdf", failingReader{})
	if err == nil {
		t.Fatal("expected error from failing reader")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty dir, found %d entries", len(entries))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestInMemoryStore_ConcurrentPut(t *testing.T) {
	store := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("%d.pdf", i)
			if _, err := store.Put(context.Background(), name, "application/pdf", strings.NewReader(name)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if store.Len() != 50 {
		t.Errorf("expected 50 blobs, got %d", store.Len())
	}
}

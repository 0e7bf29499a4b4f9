package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/academyhq/academy/internal/domain"
)

func TestNewStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	newDir := filepath.Join(tmpDir, "subdir", "nested")

	store, err := NewStore(newDir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if store.Path() != newDir {
		t.Errorf("Path() = %v, want %v", store.Path(), newDir)
	}

	info, err := os.Stat(newDir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestStore_Read_NotFound(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	_, err := store.Read("collection", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Error("ErrNotFound should match domain.ErrNotFound")
	}
}

func TestStore_Write_Overwrite(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	store.Write("c", "k", []byte("first, longer payload"))
	store.Write("c", "k", []byte("second"))

	data, err := store.Read("c", "k")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Read() = %q, want second", data)
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	store.Write("c", "k", []byte("x"))

	if err := store.Delete("c", "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Read("c", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete("c", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	tmpDir := t.TempDir()
	store, _ := NewStore(tmpDir)

	store.Write("c", "ch01/a01", []byte("1"))
	store.Write("c", "plain", []byte("2"))
	os.WriteFile(filepath.Join(tmpDir, "c", "notes.txt"), []byte("ignored"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "c", ".tmp-123"), []byte("ignored"), 0644)

	ids, err := store.List("c")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "ch01/a01" || ids[1] != "plain" {
		t.Errorf("List() = %v, want [ch01/a01 plain]", ids)
	}
}

func TestStore_List_EmptyCollection(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	ids, err := store.List("nothing")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List() returned %d items, want 0", len(ids))
	}
}

func TestStore_IDEscaping(t *testing.T) {
	tmpDir := t.TempDir()
	store, _ := NewStore(tmpDir)

	if err := store.Write("c", "../escape", []byte("x")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "escape.json")); err == nil {
		t.Error("id with path separators escaped the collection directory")
	}
	data, err := store.Read("c", "../escape")
	if err != nil || string(data) != "x" {
		t.Errorf("Read() = %q, %v", data, err)
	}
}

func TestCollection(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	col := store.Collection("work_records")
	ctx := context.Background()

	if _, err := col.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := col.Put(ctx, "a1", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	keys, _ := col.List(ctx)
	if len(keys) != 1 || keys[0] != "a1" {
		t.Errorf("List() = %v, want [a1]", keys)
	}
	if err := col.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := col.Delete(ctx, "a1"); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := col.Put(cancelled, "a1", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() with cancelled context error = %v", err)
	}
}

func TestStore_Concurrency(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	var wg sync.WaitGroup
	iterations := 10

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			store.Write("concurrent", string(rune('a'+n)), []byte(`{"value":1}`))
		}(i)
		go func() {
			defer wg.Done()
			store.List("concurrent")
		}()
	}
	wg.Wait()

	ids, _ := store.List("concurrent")
	if len(ids) != iterations {
		t.Errorf("List() returned %d items, want %d", len(ids), iterations)
	}
}

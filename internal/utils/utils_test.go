package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	if err := WriteFileAtomic(path, []byte("first\n"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second\n"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "second\n" {
		t.Fatalf("expected replaced content, got %q", b)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.json")
	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}

func TestValueCacheUnchanged(t *testing.T) {
	c := NewValueCache(time.Minute)
	v := 21.5
	if c.Unchanged("ph", &v) {
		t.Fatalf("empty cache must report changed")
	}
	c.Set("ph", &v)
	same := 21.5
	if !c.Unchanged("ph", &same) {
		t.Fatalf("equal value must report unchanged")
	}
	other := 21.6
	if c.Unchanged("ph", &other) {
		t.Fatalf("different value must report changed")
	}
	if c.Unchanged("ph", nil) {
		t.Fatalf("failed read after a value must report changed")
	}
	c.Set("tds", nil)
	if !c.Unchanged("tds", nil) {
		t.Fatalf("repeated failure must report unchanged")
	}
}

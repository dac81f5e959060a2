package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripBasePath(t *testing.T) {
	got := StripBasePath("/data/sub/file.txt", "/data")
	if got != "sub/file.txt" {
		t.Errorf("expected sub/file.txt, got %q", got)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("expected stable hash, got %q then %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestHashFileIdenticalContentDedup(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "x.bin")
	p2 := filepath.Join(dir, "y.bin")
	content := []byte("duplicate payload")
	os.WriteFile(p1, content, 0644)
	os.WriteFile(p2, content, 0644)

	h1, _ := HashFile(p1)
	h2, _ := HashFile(p2)
	if h1 != h2 {
		t.Errorf("expected identical hashes for identical content, got %q vs %q", h1, h2)
	}
}

func TestNewOpaqueNameShape(t *testing.T) {
	name, err := NewOpaqueName()
	if err != nil {
		t.Fatal(err)
	}
	if len(name) != 68 { // 64 chars + ".enc"
		t.Errorf("expected 68-char name (64 + .enc), got %d: %q", len(name), name)
	}
	for _, c := range name[:64] {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			t.Errorf("unexpected character %q in opaque name", c)
		}
	}
}

func TestNewOpaqueNameUnique(t *testing.T) {
	a, _ := NewOpaqueName()
	b, _ := NewOpaqueName()
	if a == b {
		t.Error("expected two distinct opaque names")
	}
}

func TestNewRandomKeyLength(t *testing.T) {
	key, err := NewRandomKey(128)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 128 {
		t.Errorf("expected 128-char key, got %d", len(key))
	}
}

func TestSplitDirFile(t *testing.T) {
	dir, filename := SplitDirFile("a/b/c.txt")
	if dir != "a/b" || filename != "c.txt" {
		t.Errorf("expected a/b, c.txt got %q, %q", dir, filename)
	}

	dir2, filename2 := SplitDirFile("c.txt")
	if dir2 != "" || filename2 != "c.txt" {
		t.Errorf("expected empty dir, c.txt got %q, %q", dir2, filename2)
	}
}

func TestIsUnderDir(t *testing.T) {
	if !IsUnderDir("a/b/c.txt", "") {
		t.Error("expected empty scope to cover everything")
	}
	if !IsUnderDir("data/sub/c.txt", "data") {
		t.Error("expected data/sub/c.txt to be under data")
	}
	if !IsUnderDir("data/c.txt", "data") {
		t.Error("expected data/c.txt to be under data")
	}
	if IsUnderDir("data2/c.txt", "data") {
		t.Error("did not expect data2/c.txt to be under data (component-aware prefix)")
	}
	if IsUnderDir("other/c.txt", "data") {
		t.Error("did not expect other/c.txt to be under data")
	}
}

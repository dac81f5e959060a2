package tarstream

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteEntriesThenReadMember(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.enc")
	if err := os.WriteFile(src, []byte("ciphertext-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	device := filepath.Join(dir, "fake-tape-device")
	if err := os.WriteFile(device, nil, 0644); err != nil {
		t.Fatal(err)
	}

	entries := []Entry{{Name: "abc123.enc", Path: src, Size: int64(len("ciphertext-bytes"))}}
	written, err := WriteEntries(device, 512, entries)
	if err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	if written == 0 || written%512 != 0 {
		t.Errorf("expected block-aligned write count, got %d", written)
	}

	rc, err := ReadMember(device, "abc123.enc")
	if err != nil {
		t.Fatalf("ReadMember: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "ciphertext-bytes" {
		t.Errorf("got %q, want %q", got, "ciphertext-bytes")
	}
}

func TestReadMemberNotFound(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.enc")
	os.WriteFile(src, []byte("x"), 0644)
	device := filepath.Join(dir, "dev")
	os.WriteFile(device, nil, 0644)

	WriteEntries(device, 512, []Entry{{Name: "present.enc", Path: src, Size: 1}})

	if _, err := ReadMember(device, "missing.enc"); err == nil {
		t.Error("expected error for missing member")
	}
}

package sizeparse

import "testing"

func TestResolveAbsolute(t *testing.T) {
	n, err := Resolve("1048576", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1048576 {
		t.Errorf("expected 1048576, got %d", n)
	}
}

func TestResolveSuffix(t *testing.T) {
	n, err := Resolve("10G", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 10_000_000_000 {
		t.Errorf("expected 10G bytes, got %d", n)
	}
}

func TestResolvePercent(t *testing.T) {
	// tape-keep-free bound to *total* capacity (Open Question i).
	total := int64(512 * 1024 * 1024 * 1024)
	n, err := Resolve("10%", total)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := total / 10
	if n != want {
		t.Errorf("expected %d, got %d", want, n)
	}
}

func TestResolvePercentBoundary100(t *testing.T) {
	// spec.md §8 boundary: 100% keep-free means no file is ever written.
	total := int64(1000)
	n, err := Resolve("100%", total)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != total {
		t.Errorf("expected %d, got %d", total, n)
	}
}

func TestResolveCountInteger(t *testing.T) {
	n, err := ResolveCount("2", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestResolveCountPercent(t *testing.T) {
	n, err := ResolveCount("5%", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
}

func TestResolveEmpty(t *testing.T) {
	n, err := Resolve("", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoseOO/tapebackarr/internal/catalog"
)

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(filepath.Join(t.TempDir(), "cat.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeSourceTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunIngestsNewFiles(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})

	cat := openTestCatalog(t)
	stage := &Stage{
		Catalog: cat,
		Lister:  &LocalLister{BaseDir: src},
		Fetcher: &LocalFetcher{BaseDir: src},
		Workers: 2,
	}

	result, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 2 {
		t.Errorf("expected 2 downloaded, got %+v", result)
	}

	f, err := cat.FileByRelPath("a.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if !f.Downloaded {
		t.Error("expected a.txt marked downloaded")
	}
}

func TestRunDedupsIdenticalContent(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{
		"orig.txt": "same content",
		"copy.txt": "same content",
	})

	cat := openTestCatalog(t)
	stage := &Stage{
		Catalog: cat,
		Lister:  &LocalLister{BaseDir: src},
		Fetcher: &LocalFetcher{BaseDir: src},
		Workers: 1,
	}

	result, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Downloaded != 1 || result.Skipped != 1 {
		t.Errorf("expected 1 downloaded + 1 skipped duplicate, got %+v", result)
	}

	pairs, err := cat.Duplicates()
	if err != nil {
		t.Fatalf("Duplicates: %v", err)
	}
	if len(pairs) != 1 {
		t.Errorf("expected 1 duplicate pair, got %d", len(pairs))
	}
}

func TestRunSkipsAlreadyIngested(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{"a.txt": "alpha"})

	cat := openTestCatalog(t)
	stage := &Stage{
		Catalog: cat,
		Lister:  &LocalLister{BaseDir: src},
		Fetcher: &LocalFetcher{BaseDir: src},
		Workers: 1,
	}

	if _, err := stage.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Downloaded != 0 || result.Skipped != 1 {
		t.Errorf("expected second run to skip the already-ingested file, got %+v", result)
	}
}

func TestRunDetectsDeletedFiles(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})

	cat := openTestCatalog(t)
	stage := &Stage{
		Catalog: cat,
		Lister:  &LocalLister{BaseDir: src},
		Fetcher: &LocalFetcher{BaseDir: src},
		Workers: 2,
	}
	if _, err := stage.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	if err := os.Remove(filepath.Join(src, "b.txt")); err != nil {
		t.Fatal(err)
	}

	result, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("expected 1 deleted file detected, got %+v", result)
	}

	f, err := cat.FileByRelPath("b.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if !f.Deleted {
		t.Error("expected b.txt flagged deleted")
	}
}

func TestRunWithFilelistScopeDoesNotMisdeleteOutsideFiles(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{
		"sub/a.txt":   "alpha",
		"other/c.txt": "charlie",
	})

	cat := openTestCatalog(t)
	stage := &Stage{
		Catalog: cat,
		Lister:  &LocalLister{BaseDir: src},
		Fetcher: &LocalFetcher{BaseDir: src},
		Workers: 2,
	}
	if _, err := stage.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A second run restricted to only "sub/" must not flag other/c.txt as
	// deleted just because this narrower listing doesn't mention it.
	narrow := &Stage{
		Catalog:               cat,
		Lister:                &fixedLister{paths: []string{"sub/a.txt"}},
		Fetcher:               &LocalFetcher{BaseDir: src},
		Workers:               1,
		SkipDeletionDetection: true,
	}
	result, err := narrow.Run(context.Background())
	if err != nil {
		t.Fatalf("narrow Run: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("expected filelist-scoped run to skip deletion detection, got %+v", result)
	}

	f, err := cat.FileByRelPath("other/c.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if f.Deleted {
		t.Error("other/c.txt wrongly flagged deleted by a narrow filelist run")
	}
}

func TestDetectDeletedHonorsDeletionScope(t *testing.T) {
	cat := openTestCatalog(t)
	if _, err := cat.InsertFile("a.txt", "sub/a.txt"); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if _, err := cat.InsertFile("c.txt", "other/c.txt"); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	stage := &Stage{Catalog: cat, DeletionScope: "sub"}
	count, err := stage.detectDeleted(map[string]bool{})
	if err != nil {
		t.Fatalf("detectDeleted: %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the in-scope file flagged, got count=%d", count)
	}

	inScope, err := cat.FileByRelPath("sub/a.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if !inScope.Deleted {
		t.Error("expected sub/a.txt flagged deleted")
	}

	outOfScope, err := cat.FileByRelPath("other/c.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if outOfScope.Deleted {
		t.Error("other/c.txt is outside DeletionScope and must not be flagged")
	}
}

type fixedLister struct {
	paths []string
}

func (f *fixedLister) List(ctx context.Context) ([]string, error) {
	return f.paths, nil
}

func TestDiskUsageGuardOverLimit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 1024), 0644); err != nil {
		t.Fatal(err)
	}

	guard := &DiskUsageGuard{Dirs: []string{dir}, MaxBytes: 512}
	over, err := guard.OverLimit()
	if err != nil {
		t.Fatalf("OverLimit: %v", err)
	}
	if !over {
		t.Error("expected guard to report over limit")
	}

	// MaxBytes of 0 is a real, always-triggered limit (spec.md §8:
	// "max-storage-usage at 0 prevents all ingest"), not a disabled guard.
	guard.MaxBytes = 0
	over, err = guard.OverLimit()
	if err != nil {
		t.Fatalf("OverLimit: %v", err)
	}
	if !over {
		t.Error("expected max-storage-usage of 0 to always report over limit")
	}

	// A negative MaxBytes is the disabled sentinel (no cap configured).
	guard.MaxBytes = -1
	over, err = guard.OverLimit()
	if err != nil {
		t.Fatalf("OverLimit: %v", err)
	}
	if over {
		t.Error("expected disabled guard (MaxBytes<0) to never report over limit")
	}
}

func TestDiskUsageGuardZeroBytesStillOverLimit(t *testing.T) {
	dir := t.TempDir()
	guard := &DiskUsageGuard{Dirs: []string{dir}, MaxBytes: 0}
	over, err := guard.OverLimit()
	if err != nil {
		t.Fatalf("OverLimit: %v", err)
	}
	if !over {
		t.Error("expected max-storage-usage of 0 to block ingest even with zero bytes currently used")
	}
}

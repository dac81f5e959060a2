package repair

import (
	"os"
	"path/filepath"
	"strings"
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

func TestRepairBrokenDownloadsDeletesRow(t *testing.T) {
	cat := openTestCatalog(t)
	if _, err := cat.InsertFile("a.txt", "a.txt"); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	stage := &Stage{Catalog: cat}
	n, err := stage.RepairBrokenDownloads()
	if err != nil {
		t.Fatalf("RepairBrokenDownloads: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}

	entries, err := cat.BrokenDownloadEntries()
	if err != nil {
		t.Fatalf("BrokenDownloadEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no broken-download rows left, got %d", len(entries))
	}
}

func TestRepairBrokenEncryptsClearsClaimAndRemovesPartialFile(t *testing.T) {
	cat := openTestCatalog(t)
	encDir := t.TempDir()

	id, err := cat.InsertFile("a.txt", "a.txt")
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if err := cat.MarkDownloaded(id, 5, 1, "h"); err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if err := cat.ClaimEncryptedName(id, "partial.enc"); err != nil {
		t.Fatalf("ClaimEncryptedName: %v", err)
	}
	partial := filepath.Join(encDir, "partial.enc")
	if err := os.WriteFile(partial, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	stage := &Stage{Catalog: cat, EncDir: encDir}
	n, err := stage.RepairBrokenEncrypts()
	if err != nil {
		t.Fatalf("RepairBrokenEncrypts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}

	if _, statErr := os.Stat(partial); !os.IsNotExist(statErr) {
		t.Errorf("expected partial cipher file removed, stat err = %v", statErr)
	}

	f, err := cat.FileByRelPath("a.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}
	if f.FilenameEncrypted != nil {
		t.Errorf("expected encrypted-name claim cleared, got %v", *f.FilenameEncrypted)
	}
}

func setUpMissingCipherFixture(t *testing.T, name, path string) *catalog.Catalog {
	t.Helper()
	cat := openTestCatalog(t)
	id, err := cat.InsertFile(name, path)
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if err := cat.MarkDownloaded(id, 5, 1, "h"); err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if err := cat.ClaimEncryptedName(id, path+".enc"); err != nil {
		t.Fatalf("ClaimEncryptedName: %v", err)
	}
	if err := cat.MarkEncrypted(id, 5, "cipherhash"); err != nil {
		t.Fatalf("MarkEncrypted: %v", err)
	}
	return cat
}

func TestRepairMissingCipherFilesYesDeletes(t *testing.T) {
	cat := setUpMissingCipherFixture(t, "a.txt", "a.txt")
	stage := &Stage{Catalog: cat, EncDir: t.TempDir(), In: strings.NewReader("y\n"), Out: &strings.Builder{}}

	n, err := stage.RepairMissingCipherFiles()
	if err != nil {
		t.Fatalf("RepairMissingCipherFiles: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	remaining, err := cat.FilesReadyToWrite()
	if err != nil {
		t.Fatalf("FilesReadyToWrite: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no files ready to write, got %d", len(remaining))
	}
}

func TestRepairMissingCipherFilesNoSkips(t *testing.T) {
	cat := setUpMissingCipherFixture(t, "a.txt", "a.txt")
	stage := &Stage{Catalog: cat, EncDir: t.TempDir(), In: strings.NewReader("n\n"), Out: &strings.Builder{}}

	n, err := stage.RepairMissingCipherFiles()
	if err != nil {
		t.Fatalf("RepairMissingCipherFiles: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deleted, got %d", n)
	}

	remaining, err := cat.FilesReadyToWrite()
	if err != nil {
		t.Fatalf("FilesReadyToWrite: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected row preserved, got %d", len(remaining))
	}
}

func TestRepairMissingCipherFilesSkipsPresentFiles(t *testing.T) {
	encDir := t.TempDir()
	cat := setUpMissingCipherFixture(t, "a.txt", "a.txt")
	if err := os.WriteFile(filepath.Join(encDir, "a.txt.enc"), []byte("ciphertext"), 0644); err != nil {
		t.Fatal(err)
	}

	stage := &Stage{Catalog: cat, EncDir: encDir, In: strings.NewReader(""), Out: &strings.Builder{}}
	n, err := stage.RepairMissingCipherFiles()
	if err != nil {
		t.Fatalf("RepairMissingCipherFiles: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deleted since cipher file is present, got %d", n)
	}
}

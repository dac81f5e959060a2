package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cipher"
	"github.com/RoseOO/tapebackarr/internal/tapelib"
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

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard("foo/*.txt") {
		t.Error("expected wildcard detected")
	}
	if containsWildcard("foo/bar.txt") {
		t.Error("expected no wildcard detected")
	}
}

func TestSplitLinesAndReadFilelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(path, []byte("a.txt\nb.txt\n\nc.txt"), 0644); err != nil {
		t.Fatal(err)
	}
	lines, err := readFilelist(path)
	if err != nil {
		t.Fatalf("readFilelist: %v", err)
	}
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(lines) != len(want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRestoreSingleFileIdempotent(t *testing.T) {
	cat := openTestCatalog(t)
	restoreDir := t.TempDir()

	id, err := cat.InsertFile("a.txt", "a.txt")
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	jobID, err := cat.CreateRestoreJob()
	if err != nil {
		t.Fatalf("CreateRestoreJob: %v", err)
	}
	if err := cat.AddRestoreJobFiles(jobID, []int64{id}); err != nil {
		t.Fatalf("AddRestoreJobFiles: %v", err)
	}

	dest := filepath.Join(restoreDir, "a.txt")
	if err := os.WriteFile(dest, []byte("already here"), 0644); err != nil {
		t.Fatal(err)
	}

	stage := &Stage{
		Catalog:    cat,
		Cipher:     &cipher.Fake{EncryptErr: nil, DecryptErr: errAlwaysFails{}},
		RestoreDir: restoreDir,
		Lib:        tapelib.New("/dev/nonexistent-changer", "/dev/nonexistent-drive", t.TempDir()),
	}

	f, err := cat.FileByRelPath("a.txt")
	if err != nil {
		t.Fatalf("FileByRelPath: %v", err)
	}

	if err := stage.restoreSingleFile(context.Background(), jobID, f); err != nil {
		t.Fatalf("restoreSingleFile: %v", err)
	}

	files, err := cat.RestoreJobFiles(jobID, nil, boolPtr(true))
	if err != nil {
		t.Fatalf("RestoreJobFiles: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("expected file marked restored via idempotent skip, got %d", len(files))
	}
}

type errAlwaysFails struct{}

func (errAlwaysFails) Error() string { return "decrypt should not have been called" }

func boolPtr(b bool) *bool { return &b }

func TestListAndStatus(t *testing.T) {
	cat := openTestCatalog(t)
	id, _ := cat.InsertFile("a.txt", "a.txt")
	cat.MarkDownloaded(id, 5, 1, "h")
	cat.ClaimEncryptedName(id, "enc1.enc")
	cat.MarkEncrypted(id, 5, "cipherhash")
	tape, _ := cat.EnsureTape("TAPE001L5")
	cat.MarkWritten(id, tape.ID, nil)

	jobID, err := cat.CreateRestoreJob()
	if err != nil {
		t.Fatalf("CreateRestoreJob: %v", err)
	}
	if err := cat.AddRestoreJobFiles(jobID, []int64{id}); err != nil {
		t.Fatalf("AddRestoreJobFiles: %v", err)
	}

	stage := &Stage{Catalog: cat}

	list, err := stage.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].RemainingFiles != 1 {
		t.Errorf("unexpected list: %+v", list)
	}

	total, remaining, err := stage.Status(jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if total.Count != 1 || remaining.Count != 1 {
		t.Errorf("expected 1 total and 1 remaining, got total=%+v remaining=%+v", total, remaining)
	}
}

func TestAbortDeletesJob(t *testing.T) {
	cat := openTestCatalog(t)
	id, _ := cat.InsertFile("a.txt", "a.txt")
	jobID, _ := cat.CreateRestoreJob()
	cat.AddRestoreJobFiles(jobID, []int64{id})

	stage := &Stage{Catalog: cat}
	if err := stage.Abort(jobID); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if _, err := cat.RestoreJobStats(jobID, false); err != nil {
		t.Fatalf("RestoreJobStats after abort: %v", err)
	}
	stats, err := cat.RestoreJobStats(jobID, false)
	if err != nil {
		t.Fatalf("RestoreJobStats: %v", err)
	}
	if stats.Count != 0 {
		t.Errorf("expected 0 files mapped after abort, got %d", stats.Count)
	}
}

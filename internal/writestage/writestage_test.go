package writestage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

func TestPickSampleCapsAtAvailable(t *testing.T) {
	files := []*catalog.File{{ID: 1}, {ID: 2}, {ID: 3}}
	sample := pickSample(files, 10)
	if len(sample) != 3 {
		t.Errorf("expected sample capped at len(files), got %d", len(sample))
	}
	sample = pickSample(files, 2)
	if len(sample) != 2 {
		t.Errorf("expected sample of 2, got %d", len(sample))
	}
}

func TestPickSampleIsRandomNotFirstN(t *testing.T) {
	files := []*catalog.File{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}

	sawNonPrefix := false
	for i := 0; i < 50; i++ {
		sample := pickSample(files, 2)
		if len(sample) != 2 {
			t.Fatalf("expected sample of 2, got %d", len(sample))
		}
		if !(sample[0].ID == files[0].ID && sample[1].ID == files[1].ID) {
			sawNonPrefix = true
			break
		}
	}
	if !sawNonPrefix {
		t.Error("expected pickSample to vary across calls, always got the first-n prefix")
	}

	// Original slice must be left untouched.
	if files[0].ID != 1 || files[1].ID != 2 {
		t.Errorf("pickSample mutated its input slice: %+v", files)
	}
}

func TestNameOfHandlesNilFilenameEncrypted(t *testing.T) {
	if got := nameOf(&catalog.File{}); got != "" {
		t.Errorf("expected empty name for nil FilenameEncrypted, got %q", got)
	}
	name := "abc.enc"
	if got := nameOf(&catalog.File{FilenameEncrypted: &name}); got != name {
		t.Errorf("expected %q, got %q", name, got)
	}
}

func setUpSealedTapeFixture(t *testing.T) (*Stage, *catalog.Tape) {
	t.Helper()
	mount := t.TempDir()
	encDir := t.TempDir()

	cat := openTestCatalog(t)
	tape, err := cat.EnsureTape("TAPE001L5")
	if err != nil {
		t.Fatalf("EnsureTape: %v", err)
	}

	id, err := cat.InsertFile("a.txt", "a.txt")
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if err := cat.MarkDownloaded(id, 5, 1, "plainhash"); err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if err := cat.ClaimEncryptedName(id, "encname1.enc"); err != nil {
		t.Fatalf("ClaimEncryptedName: %v", err)
	}

	cipherPath := filepath.Join(encDir, "encname1.enc")
	if err := os.WriteFile(cipherPath, []byte("ciphertext"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cat.MarkEncrypted(id, 10, sha256Hex("ciphertext")); err != nil {
		t.Fatalf("MarkEncrypted: %v", err)
	}
	if err := cat.MarkWritten(id, tape.ID, nil); err != nil {
		t.Fatalf("MarkWritten: %v", err)
	}

	mounted := filepath.Join(mount, "encname1.enc")
	if err := os.WriteFile(mounted, []byte("ciphertext"), 0644); err != nil {
		t.Fatal(err)
	}

	stage := &Stage{
		Catalog:     cat,
		Lib:         tapelib.New("/dev/nonexistent-changer", "/dev/nonexistent-drive", mount),
		Cipher:      &cipher.Fake{},
		EncDir:      encDir,
		Format:      FormatLTFS,
		VerifyFiles: "100%",
	}
	return stage, tape
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestVerifySampleLTFSMatches(t *testing.T) {
	stage, tape := setUpSealedTapeFixture(t)
	if err := stage.VerifySample(context.Background(), tape); err != nil {
		t.Errorf("VerifySample: %v", err)
	}
}

func TestVerifySampleLTFSMismatchFails(t *testing.T) {
	stage, tape := setUpSealedTapeFixture(t)
	// Corrupt the tape-side copy so the read-back hash no longer matches.
	mounted := filepath.Join(stage.Lib.MountPoint, "encname1.enc")
	if err := os.WriteFile(mounted, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := stage.VerifySample(context.Background(), tape); err == nil {
		t.Error("expected mismatch error, got nil")
	}
}

func TestSealDatabaseAndManifestWriteEncryptedFiles(t *testing.T) {
	stage, tape := setUpSealedTapeFixture(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	if err := os.WriteFile(dbPath, []byte("fake db bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	stage.DatabasePath = dbPath

	if err := stage.sealDatabase(context.Background(), tape, 1234567890); err != nil {
		t.Fatalf("sealDatabase: %v", err)
	}
	if err := stage.sealManifest(context.Background(), tape, 1234567890); err != nil {
		t.Fatalf("sealManifest: %v", err)
	}

	dbOut := filepath.Join(stage.Lib.MountPoint, "tapebackup_1234567890.db.enc")
	if _, err := os.Stat(dbOut); err != nil {
		t.Errorf("expected sealed db file, got %v", err)
	}
	manifestOut := filepath.Join(stage.Lib.MountPoint, "tapebackup_1234567890.txt.enc")
	if _, err := os.Stat(manifestOut); err != nil {
		t.Errorf("expected sealed manifest file, got %v", err)
	}
}

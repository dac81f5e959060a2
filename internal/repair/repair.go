// Package repair recovers the two classes of stale catalog state
// described by spec.md §4.7 (broken-download, broken-encrypt), plus an
// interactive sweep for files-ready-to-write whose cipher file has gone
// missing from local-enc-dir.
package repair

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/logging"
)

// Stage runs repair sweeps against one catalog.
type Stage struct {
	Catalog *catalog.Catalog
	EncDir  string
	In      io.Reader // prompt input, defaults to os.Stdin
	Out     io.Writer // prompt output, defaults to os.Stdout
	Log     *logging.Logger
}

// Result tallies what each sweep found.
type Result struct {
	BrokenDownloadsDeleted int
	BrokenEncryptsCleared  int
	MissingCipherDeleted   int
}

// Run performs every repairable-state sweep in sequence (spec.md §4.7).
// Running it twice with no intervening changes is a no-op on the second
// run, since each sweep only acts on rows matching its broken pattern.
func (s *Stage) Run() (Result, error) {
	var result Result

	deleted, err := s.RepairBrokenDownloads()
	if err != nil {
		return result, fmt.Errorf("repair broken downloads: %w", err)
	}
	result.BrokenDownloadsDeleted = deleted

	cleared, err := s.RepairBrokenEncrypts()
	if err != nil {
		return result, fmt.Errorf("repair broken encrypts: %w", err)
	}
	result.BrokenEncryptsCleared = cleared

	missing, err := s.RepairMissingCipherFiles()
	if err != nil {
		return result, fmt.Errorf("repair missing cipher files: %w", err)
	}
	result.MissingCipherDeleted = missing

	return result, nil
}

// RepairBrokenDownloads deletes every row with downloaded=false and no
// duplicate-of-id — an Ingest that never completed.
func (s *Stage) RepairBrokenDownloads() (int, error) {
	entries, err := s.Catalog.BrokenDownloadEntries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range entries {
		if err := s.Catalog.DeleteFile(f.ID); err != nil {
			return n, fmt.Errorf("delete file %d: %w", f.ID, err)
		}
		s.logf("removed broken-download row for %s", f.Path)
		n++
	}
	return n, nil
}

// RepairBrokenEncrypts clears the encrypted-name claim (and deletes the
// partial cipher file, if any) on every row whose encrypt never
// completed, leaving the row as still-downloaded so the next `encrypt`
// run reprocesses it.
func (s *Stage) RepairBrokenEncrypts() (int, error) {
	entries, err := s.Catalog.BrokenEncryptEntries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range entries {
		if f.FilenameEncrypted != nil {
			path := filepath.Join(s.EncDir, *f.FilenameEncrypted)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return n, fmt.Errorf("remove partial cipher file %s: %w", path, err)
			}
		}
		if err := s.Catalog.ClearEncryptedClaim(f.ID); err != nil {
			return n, fmt.Errorf("clear encrypted claim on file %d: %w", f.ID, err)
		}
		s.logf("cleared broken-encrypt claim for %s", f.Path)
		n++
	}
	return n, nil
}

// decision is one operator answer to the missing-cipher-file prompt.
type decision int

const (
	decisionYes decision = iota
	decisionNo
	decisionAll
	decisionNoToAll
)

// RepairMissingCipherFiles walks files-ready-to-write whose cipher file
// is no longer present in local-enc-dir and offers each for deletion,
// prompting `[Y/n/a/2]` per spec.md §4.7 (yes this one / no / yes to all
// remaining / no to all remaining).
func (s *Stage) RepairMissingCipherFiles() (int, error) {
	in := s.In
	if in == nil {
		in = os.Stdin
	}
	out := s.Out
	if out == nil {
		out = os.Stdout
	}

	files, err := s.Catalog.FilesReadyToWrite()
	if err != nil {
		return 0, err
	}

	reader := bufio.NewReader(in)
	answerAll := false
	n := 0
	for _, f := range files {
		if f.FilenameEncrypted == nil {
			continue
		}
		path := filepath.Join(s.EncDir, *f.FilenameEncrypted)
		if _, statErr := os.Stat(path); statErr == nil {
			continue
		}

		var d decision
		if answerAll {
			d = decisionYes
		} else {
			d, err = promptMissingCipher(out, reader, f.Path)
			if err != nil {
				return n, fmt.Errorf("read prompt answer: %w", err)
			}
		}

		switch d {
		case decisionNoToAll:
			return n, nil
		case decisionNo:
			continue
		case decisionAll:
			answerAll = true
			fallthrough
		case decisionYes:
			if err := s.Catalog.DeleteFile(f.ID); err != nil {
				return n, fmt.Errorf("delete file %d: %w", f.ID, err)
			}
			s.logf("deleted file %s with missing cipher file", f.Path)
			n++
		}
	}
	return n, nil
}

func promptMissingCipher(out io.Writer, reader *bufio.Reader, path string) (decision, error) {
	fmt.Fprintf(out, "cipher file for %s is missing, delete row? [Y/n/a/2] ", path)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return decisionNo, err
	}
	switch line[:min(1, len(line))] {
	case "n", "N":
		return decisionNo, nil
	case "a", "A":
		return decisionAll, nil
	case "2":
		return decisionNoToAll, nil
	default:
		return decisionYes, nil
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Stage) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Info(fmt.Sprintf(format, args...), nil)
}

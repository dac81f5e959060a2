// Package ingest implements the Ingest stage: enumerate source files,
// fetch them locally (or read them in-place in local mode), hash and
// dedup against the catalog, and flag files that have disappeared from
// the source since the last run (spec.md §4.3).
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cmdutil"
	"github.com/RoseOO/tapebackarr/internal/logging"
	"github.com/RoseOO/tapebackarr/internal/pathutil"
)

// Fetcher retrieves one source file to local-data-dir (or confirms it is
// already local, in local mode) and reports its size/mtime. Remote mode
// is grounded on original_source's rsync invocation; tests inject a fake.
type Fetcher interface {
	Fetch(ctx context.Context, relPath string) (localPath string, mtime int64, err error)
}

// LocalFetcher treats baseDir/relPath as already present — the "local
// files" mode from spec.md §4.3/§6 (`--local`).
type LocalFetcher struct {
	BaseDir string
}

func (f *LocalFetcher) Fetch(ctx context.Context, relPath string) (string, int64, error) {
	full := filepath.Join(f.BaseDir, relPath)
	info, err := os.Stat(full)
	if err != nil {
		return "", 0, err
	}
	return full, info.ModTime().Unix(), nil
}

// Lister enumerates the paths under the configured source, relative to
// source's base directory — local directory walk or remote `find` over
// ssh depending on mode (spec.md §4.3).
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// LocalLister walks a local directory tree.
type LocalLister struct {
	BaseDir string
}

func (l *LocalLister) List(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.Walk(l.BaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.BaseDir, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// RemoteLister runs `ssh server find dataDir -type f` to enumerate the
// remote source tree, grounded on original_source's get_remote_filelist.
type RemoteLister struct {
	Server  string
	DataDir string
}

func (l *RemoteLister) List(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "ssh", l.Server, fmt.Sprintf("find %q -type f", l.DataDir))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ssh find: %w", err)
	}
	var rels []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		rel, err := filepath.Rel(l.DataDir, line)
		if err != nil {
			continue
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// RemoteFetcher rsyncs one remote file down into local-data-dir over ssh,
// grounded on original_source's `rsync --protect-args -ae ssh` invocation.
type RemoteFetcher struct {
	Server    string
	RemoteDir string
	LocalDir  string
}

func (f *RemoteFetcher) Fetch(ctx context.Context, relPath string) (string, int64, error) {
	dest := filepath.Join(f.LocalDir, filepath.Dir(relPath))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", 0, fmt.Errorf("create destination dir: %w", err)
	}

	src := fmt.Sprintf("%s:%s", f.Server, filepath.Join(f.RemoteDir, relPath))
	cmd := exec.CommandContext(ctx, "rsync", "--protect-args", "-ae", "ssh", src, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", 0, fmt.Errorf("rsync %s: %s", relPath, cmdutil.ErrorDetail(err, &stderr))
	}

	local := filepath.Join(f.LocalDir, relPath)
	info, err := os.Stat(local)
	if err != nil {
		return "", 0, err
	}
	return local, info.ModTime().Unix(), nil
}

// StorageGuard reports whether the configured max-storage-usage threshold
// has already been exceeded, so Ingest can stop admitting new files
// (spec.md §4.3 capacity guard, sizeparse-resolved threshold).
type StorageGuard interface {
	OverLimit() (bool, error)
}

// Stage runs the Ingest worker pool: a bounded set of worker goroutines,
// admitted one file at a time through a semaphore. All workers share the
// Stage's single Catalog; no worker opens a catalog session of its own.
type Stage struct {
	Catalog *catalog.Catalog
	Lister  Lister
	Fetcher Fetcher
	Guard   StorageGuard
	Workers int
	Log     *logging.Logger

	// DeletionScope bounds which catalog rows are eligible for
	// deletion-flagging to those whose base directory is a prefix of
	// DeletionScope (spec.md §4.3: "so that a narrow walk does not
	// mis-delete files outside it"). Empty means the walk covered the
	// whole data directory, so every not-deleted row is eligible.
	DeletionScope string

	// SkipDeletionDetection disables the deleted-files pass entirely,
	// for listers with no directory scope to bound by — e.g. an
	// explicit --filelist allowlist, where any file outside the list
	// would otherwise be wrongly flagged deleted.
	SkipDeletionDetection bool
}

// Result summarizes one Ingest run, mirroring original_source's
// downloaded/skipped/failed/deleted counters.
type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
	Deleted    int
}

// Run enumerates the source, fans out fetch+hash+dedup work across
// Stage.Workers goroutines (explicit slot indices, spec.md §9's worker
// pool recommendation), and finally marks files missing from the source
// as deleted.
func (s *Stage) Run(ctx context.Context) (Result, error) {
	paths, err := s.Lister.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list source: %w", err)
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		result Result
	)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for slot, relPath := range paths {
		if ctx.Err() != nil {
			break
		}
		if s.Guard != nil {
			over, gErr := s.Guard.OverLimit()
			if gErr == nil && over {
				s.logf("max-storage-size reached, stopping ingest")
				break
			}
		}

		if _, err := s.Catalog.FileByRelPath(relPath); err == nil {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		} else if err != catalog.ErrNotFound {
			return result, fmt.Errorf("lookup %s: %w", relPath, err)
		}

		filename := filepath.Base(relPath)
		id, err := s.Catalog.InsertFile(filename, relPath)
		if err != nil {
			return result, fmt.Errorf("insert %s: %w", relPath, err)
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return result, ctx.Err()
		}
		wg.Add(1)
		go func(slotIdx int, relPath string, id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processOne(ctx, slotIdx, relPath, id, &mu, &result)
		}(slot, relPath, id)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if !s.SkipDeletionDetection {
		deleted, err := s.detectDeleted(present)
		if err != nil {
			return result, fmt.Errorf("detect deleted files: %w", err)
		}
		result.Deleted = deleted
	}

	return result, nil
}

// processOne fetches, hashes, and dedups a single file. Named slotIdx to
// mirror original_source's per-thread identity in log lines.
func (s *Stage) processOne(ctx context.Context, slotIdx int, relPath string, id int64, mu *sync.Mutex, result *Result) {
	localPath, mtime, err := s.Fetcher.Fetch(ctx, relPath)
	if err != nil {
		s.logf("worker %d: fetch failed for %s: %v", slotIdx, relPath, err)
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}

	hash, err := pathutil.HashFile(localPath)
	if err != nil {
		s.logf("worker %d: hash failed for %s: %v", slotIdx, relPath, err)
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}

	if primary, err := s.Catalog.FileByPlaintextHash(hash); err == nil {
		if foldErr := s.Catalog.FoldIntoDuplicate(id, primary.ID, mtime); foldErr != nil {
			s.logf("worker %d: fold duplicate failed for %s: %v", slotIdx, relPath, foldErr)
		}
		if _, local := s.Fetcher.(*LocalFetcher); !local {
			os.Remove(localPath)
		}
		mu.Lock()
		result.Skipped++
		mu.Unlock()
		return
	} else if err != catalog.ErrNotFound {
		s.logf("worker %d: duplicate lookup failed for %s: %v", slotIdx, relPath, err)
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}

	if markErr := s.Catalog.MarkDownloaded(id, info.Size(), mtime, hash); markErr != nil {
		s.logf("worker %d: mark downloaded failed for %s: %v", slotIdx, relPath, markErr)
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}

	mu.Lock()
	result.Downloaded++
	mu.Unlock()
}

// detectDeleted flags catalog rows whose relative path no longer appears
// in the current source listing, matching original_source's
// "Detect deleted files" pass. Only rows under s.DeletionScope are
// eligible, so a walk of a subdirectory never flags files outside it.
func (s *Stage) detectDeleted(present map[string]bool) (int, error) {
	files, err := s.Catalog.NotDeletedFiles()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range files {
		if present[f.Path] {
			continue
		}
		if !pathutil.IsUnderDir(f.Path, s.DeletionScope) {
			continue
		}
		if err := s.Catalog.SetFileDeleted(f.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Stage) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Info(fmt.Sprintf(format, args...), nil)
}

// DiskUsageGuard sums the size of the local data/encrypted/verify
// directories and reports whether that total has reached MaxBytes,
// matching original_source's calculate_over_max_storage_usage/
// folder_size (spec.md §4.3, ambient disk-capacity guard). MaxBytes
// of 0 is a real, always-triggered limit (spec.md §8: "max-storage-usage
// at 0 prevents all ingest" — current usage is never less than zero). A
// negative MaxBytes is the disabled sentinel, matching original_source's
// unset/empty max_storage_usage ("" or None): no threshold configured,
// ingest is never blocked on capacity.
type DiskUsageGuard struct {
	Dirs     []string
	MaxBytes int64
}

func (g *DiskUsageGuard) OverLimit() (bool, error) {
	if g.MaxBytes < 0 {
		return false, nil
	}
	var total int64
	for _, dir := range g.Dirs {
		size, err := folderSize(dir)
		if err != nil {
			return false, err
		}
		total += size
	}
	return total >= g.MaxBytes, nil
}

func folderSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

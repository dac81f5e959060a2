// Package restore implements the Restore stage: start/continue/abort/
// list/status over a RestoreJob, swapping tapes as the operator loads
// them and decrypting files back to their original relative path
// (spec.md §4.6).
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cipher"
	"github.com/RoseOO/tapebackarr/internal/logging"
	"github.com/RoseOO/tapebackarr/internal/pathutil"
	"github.com/RoseOO/tapebackarr/internal/tapelib"
)

// Stage runs Restore operations against one catalog/tape library pair.
type Stage struct {
	Catalog    *catalog.Catalog
	Lib        *tapelib.Controller
	Cipher     cipher.Cipher
	EncDir     string // not read by this stage; ciphertext is read from Lib.MountPoint
	RestoreDir string
	Log        *logging.Logger
}

// TapeRemaining is one row of the "load these tapes next" cue printed at
// the end of a continue round.
type TapeRemaining struct {
	Label string
	Count int
	Bytes int64
}

// Result summarizes one continue round.
type Result struct {
	Restored  int
	Failed    int
	Remaining []TapeRemaining
	Finished  bool
}

// Start resolves patterns (and an optional filelist) to file IDs with
// written=true, optionally filtered by tape, creates a RestoreJob with
// those files mapped in, then performs one continue round automatically
// (spec.md §4.6 start).
func (s *Stage) Start(ctx context.Context, patterns []string, tapeLabel string, filelistPath string) (int64, Result, error) {
	if filelistPath != "" {
		lines, err := readFilelist(filelistPath)
		if err != nil {
			return 0, Result{}, fmt.Errorf("read filelist: %w", err)
		}
		patterns = append(patterns, lines...)
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	written := true
	files, err := s.Catalog.FilesMatching(patterns, tapeLabel, &written)
	if err != nil {
		return 0, Result{}, fmt.Errorf("resolve patterns: %w", err)
	}

	s.warnUnmatchedLiterals(patterns, files)

	ids := make([]int64, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	if len(ids) == 0 {
		return 0, Result{}, fmt.Errorf("no written files matched the given patterns")
	}

	jobID, err := s.Catalog.CreateRestoreJob()
	if err != nil {
		return 0, Result{}, fmt.Errorf("create restore job: %w", err)
	}
	if err := s.Catalog.AddRestoreJobFiles(jobID, ids); err != nil {
		return jobID, Result{}, fmt.Errorf("add restore job files: %w", err)
	}

	result, err := s.Continue(ctx, jobID)
	return jobID, result, err
}

// warnUnmatchedLiterals logs a warning for every literal (non-wildcard)
// pattern that matched nothing, matching original_source's
// resolve_file_ids check.
func (s *Stage) warnUnmatchedLiterals(patterns []string, matched []*catalog.File) {
	matchedPaths := make(map[string]bool, len(matched))
	for _, f := range matched {
		matchedPaths[f.Path] = true
	}
	for _, p := range patterns {
		if containsWildcard(p) {
			continue
		}
		if !matchedPaths[p] {
			s.logf("file %s not found", p)
		}
	}
}

func containsWildcard(p string) bool {
	for _, r := range p {
		if r == '*' {
			return true
		}
	}
	return false
}

// Continue runs one round against jobID (or the latest job if jobID<=0):
// find the currently-loaded tapes, restore every unrestored file on one
// of them (tape by tape), and report what remains for the next swap
// (spec.md §4.6 continue).
func (s *Stage) Continue(ctx context.Context, jobID int64) (Result, error) {
	var result Result

	if jobID <= 0 {
		job, err := s.Catalog.RestoreJobLatest()
		if err != nil {
			return result, fmt.Errorf("find latest restore job: %w", err)
		}
		jobID = job.ID
	}

	loaded, err := s.Lib.Inventory(ctx)
	if err != nil {
		return result, fmt.Errorf("query library inventory: %w", err)
	}
	var loadedLabels []string
	for _, slot := range loaded {
		if slot.Barcode != "" {
			loadedLabels = append(loadedLabels, slot.Barcode)
		}
	}

	restoredFalse := false
	files, err := s.Catalog.RestoreJobFiles(jobID, loadedLabels, &restoredFalse)
	if err != nil {
		return result, fmt.Errorf("list restore job files: %w", err)
	}

	byTape := groupByTapeLabel(files, s.Catalog)
	for tapeLabel, tapeFiles := range byTape {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		restored, failed, err := s.restoreFromTape(ctx, jobID, tapeLabel, tapeFiles)
		result.Restored += restored
		result.Failed += failed
		if err != nil {
			return result, fmt.Errorf("restore from tape %s: %w", tapeLabel, err)
		}
	}

	stats, err := s.Catalog.RestoreJobStats(jobID, true)
	if err != nil {
		return result, fmt.Errorf("compute remaining stats: %w", err)
	}
	if stats.Count == 0 {
		if err := s.Catalog.FinishRestoreJob(jobID); err != nil {
			return result, fmt.Errorf("finish restore job: %w", err)
		}
		result.Finished = true
		return result, nil
	}

	remaining, err := s.Catalog.RestoreJobFiles(jobID, nil, &restoredFalse)
	if err != nil {
		return result, fmt.Errorf("list remaining files: %w", err)
	}
	result.Remaining = nextTapesInfo(remaining, s.Catalog)

	return result, nil
}

func groupByTapeLabel(files []*catalog.File, cat *catalog.Catalog) map[string][]*catalog.File {
	grouped := make(map[string][]*catalog.File)
	labelByID := tapeLabelLookup(cat)
	for _, f := range files {
		if f.TapeID == nil {
			continue
		}
		label := labelByID(*f.TapeID)
		grouped[label] = append(grouped[label], f)
	}
	return grouped
}

func tapeLabelLookup(cat *catalog.Catalog) func(int64) string {
	cache := map[int64]string{}
	return func(tapeID int64) string {
		if label, ok := cache[tapeID]; ok {
			return label
		}
		label, err := cat.TapeLabelByID(tapeID)
		if err != nil {
			return ""
		}
		cache[tapeID] = label
		return label
	}
}

func nextTapesInfo(files []*catalog.File, cat *catalog.Catalog) []TapeRemaining {
	labelByID := tapeLabelLookup(cat)
	counts := map[string]*TapeRemaining{}
	var order []string
	for _, f := range files {
		if f.TapeID == nil {
			continue
		}
		label := labelByID(*f.TapeID)
		if counts[label] == nil {
			counts[label] = &TapeRemaining{Label: label}
			order = append(order, label)
		}
		counts[label].Count++
		if f.FileSizeEncrypted != nil {
			counts[label].Bytes += *f.FileSizeEncrypted
		}
	}
	sort.Strings(order)
	out := make([]TapeRemaining, 0, len(order))
	for _, label := range order {
		out = append(out, *counts[label])
	}
	return out
}

// restoreFromTape loads and mounts tapeLabel, orders its files by
// ltfs.startblock (falling back to inode) to minimize head travel, and
// decrypts each one into RestoreDir/original-path.
func (s *Stage) restoreFromTape(ctx context.Context, jobID int64, tapeLabel string, files []*catalog.File) (int, int, error) {
	s.logf("restoring from tape %s", tapeLabel)

	slot, err := s.Lib.SlotForLabel(ctx, tapeLabel)
	if err != nil {
		return 0, 0, fmt.Errorf("locate slot: %w", err)
	}
	if err := s.Lib.Load(ctx, slot, 0); err != nil {
		return 0, 0, fmt.Errorf("load tape: %w", err)
	}
	if err := s.Lib.EnsureLTFS(ctx, tapeLabel, ""); err != nil {
		return 0, 0, fmt.Errorf("mount ltfs: %w", err)
	}

	ordered := s.orderByStartBlock(files)

	restored, failed := 0, 0
	for _, f := range ordered {
		if ctx.Err() != nil {
			break
		}
		if err := s.restoreSingleFile(ctx, jobID, f); err != nil {
			s.logf("restoring %s failed: %v", f.Path, err)
			failed++
			continue
		}
		restored++
	}

	s.logf("restoring from tape %s done", tapeLabel)
	if err := s.Lib.UnmountLTFS(ctx); err != nil {
		s.logf("unmount ltfs for tape %s failed: %v", tapeLabel, err)
	}
	if err := s.Lib.Unload(ctx, 0, 0); err != nil {
		return restored, failed, fmt.Errorf("unload tape: %w", err)
	}
	return restored, failed, nil
}

// orderByStartBlock sorts files by their ltfs.startblock xattr on the
// mounted volume, falling back to inode number, to minimize head travel
// (spec.md §4.6).
func (s *Stage) orderByStartBlock(files []*catalog.File) []*catalog.File {
	type keyed struct {
		f     *catalog.File
		start uint64
	}
	keys := make([]keyed, 0, len(files))
	for _, f := range files {
		name := ""
		if f.FilenameEncrypted != nil {
			name = *f.FilenameEncrypted
		}
		start, err := pathutil.StartBlock(filepath.Join(s.Lib.MountPoint, name))
		if err != nil {
			start = 0
		}
		keys = append(keys, keyed{f: f, start: start})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].start < keys[j].start })
	out := make([]*catalog.File, len(keys))
	for i, k := range keys {
		out[i] = k.f
	}
	return out
}

// restoreSingleFile decrypts one file into RestoreDir/Path, skipping
// (and treating as success) decryption if the destination already exists
// — spec.md §4.6's idempotence rule.
func (s *Stage) restoreSingleFile(ctx context.Context, jobID int64, f *catalog.File) error {
	dest := filepath.Join(s.RestoreDir, f.Path)

	if _, err := os.Stat(dest); err == nil {
		return s.Catalog.MarkFileRestored(jobID, f.ID)
	}

	name := ""
	if f.FilenameEncrypted != nil {
		name = *f.FilenameEncrypted
	}
	src := filepath.Join(s.Lib.MountPoint, name)

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := s.Cipher.Decrypt(ctx, src, dest); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	return s.Catalog.MarkFileRestored(jobID, f.ID)
}

// Abort deletes a restore job and its file map (spec.md §4.6 abort).
func (s *Stage) Abort(jobID int64) error {
	return s.Catalog.DeleteRestoreJob(jobID)
}

// List summarizes every restore job's remaining work, for `restore list`.
func (s *Stage) List() ([]JobSummary, error) {
	rows, err := s.Catalog.AllRestoreJobSummaries()
	if err != nil {
		return nil, err
	}
	out := make([]JobSummary, len(rows))
	for i, r := range rows {
		out[i] = JobSummary{
			JobID:          r.ID,
			StartDate:      time.Unix(r.StartDate, 0),
			RemainingFiles: r.RemainingFiles,
			RemainingBytes: r.RemainingBytes,
		}
	}
	return out, nil
}

// JobSummary is one row of `restore list`.
type JobSummary struct {
	JobID          int64
	StartDate      time.Time
	RemainingFiles int
	RemainingBytes int64
}

// Status reports total vs. remaining (count, bytes, distinct-tape) stats
// for one restore job, for `restore status` (spec.md §4.6).
func (s *Stage) Status(jobID int64) (total, remaining catalog.RestoreJobStats, err error) {
	total, err = s.Catalog.RestoreJobStats(jobID, false)
	if err != nil {
		return total, remaining, fmt.Errorf("compute total stats: %w", err)
	}
	remaining, err = s.Catalog.RestoreJobStats(jobID, true)
	if err != nil {
		return total, remaining, fmt.Errorf("compute remaining stats: %w", err)
	}
	return total, remaining, nil
}

// StatusFiles lists a job's files (optionally only restored ones), for
// `restore status --verbose`.
func (s *Stage) StatusFiles(jobID int64, restoredOnly bool) ([]*catalog.File, error) {
	return s.Catalog.RestoreJobFiles(jobID, nil, &restoredOnly)
}

func readFilelist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range splitLines(string(data)) {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (s *Stage) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Info(fmt.Sprintf(format, args...), nil)
}

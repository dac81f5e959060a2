// Package writestage implements the Write stage: seals downloaded,
// encrypted files onto the currently-loaded tape, dispatching on the
// tape's generation to either the LTFS path (LTO-5+) or the TAR path
// (LTO-4), then verifies and seals the tape once it fills (spec.md §4.5).
package writestage

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cipher"
	"github.com/RoseOO/tapebackarr/internal/logging"
	"github.com/RoseOO/tapebackarr/internal/pathutil"
	"github.com/RoseOO/tapebackarr/internal/sizeparse"
	"github.com/RoseOO/tapebackarr/internal/tapelib"
	"github.com/RoseOO/tapebackarr/internal/tarstream"
)

// Format names the on-tape layout a Stage writes, a tagged variant on the
// tape's detected generation (spec.md §4.5, §9's recommended shape).
type Format int

const (
	FormatLTFS Format = iota
	FormatTAR
)

const defaultChunkThreshold = 1 << 30 // 1 GiB, spec.md's TAR chunk-buffer threshold
const defaultBlockSize = 65536        // 64 KiB logical block size

// Stage runs one Write session: as many tapes as needed to drain
// files-ready-to-write, or until the library has no free tape left.
type Stage struct {
	Catalog      *catalog.Catalog
	Lib          *tapelib.Controller
	Cipher       cipher.Cipher
	EncDir       string
	DatabasePath string
	TapeDevice   string // raw device for the TAR path, e.g. /dev/nst0

	Format         Format
	ChunkThreshold int64 // TAR path; 0 uses defaultChunkThreshold
	BlockSize      int   // TAR path; 0 uses defaultBlockSize

	KeepFree    string // sizeparse value resolved against tape total capacity
	VerifyFiles string // sizeparse.ResolveCount value
	Whitelist   []string
	Blacklist   []string

	Log *logging.Logger
}

// Result summarizes one or more tape-writing sessions.
type Result struct {
	FilesWritten int
	TapesSealed  int
}

// Run drains files-ready-to-write across as many tapes as the library has
// free, recursing to the next tape whenever the current one seals and
// files remain (spec.md §4.5 "Recurse to the next available tape").
func (s *Stage) Run(ctx context.Context) (Result, error) {
	var total Result

	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		remaining, err := s.Catalog.FilesReadyToWrite()
		if err != nil {
			return total, fmt.Errorf("list files ready to write: %w", err)
		}
		if len(remaining) == 0 {
			return total, nil
		}

		fullLabels, err := s.Catalog.FullTapeLabels()
		if err != nil {
			return total, fmt.Errorf("list full tapes: %w", err)
		}
		usable, evict, err := s.Lib.EnumerateTapes(ctx, s.Whitelist, s.Blacklist, fullLabels)
		if err != nil {
			return total, fmt.Errorf("enumerate tapes: %w", err)
		}
		if len(evict) > 0 {
			s.logf("these tapes are full, please remove from library: %v", evict)
		}
		if len(usable) == 0 {
			s.logf("no free tapes in library, %d files still awaiting write", len(remaining))
			return total, nil
		}

		label := usable[0]
		written, sealed, err := s.writeOneTape(ctx, label, remaining)
		total.FilesWritten += written
		if sealed {
			total.TapesSealed++
		}
		if err != nil {
			return total, err
		}
		if !sealed {
			// Drive stopped without filling the tape (nothing left to write
			// this round); avoid spinning on the same tape forever.
			return total, nil
		}
	}
}

// writeOneTape loads and writes to a single tape until it fills or no
// files remain, then seals it.
func (s *Stage) writeOneTape(ctx context.Context, label string, files []*catalog.File) (int, bool, error) {
	slot, err := s.Lib.SlotForLabel(ctx, label)
	if err != nil {
		return 0, false, fmt.Errorf("locate slot for tape %s: %w", label, err)
	}
	if err := s.Lib.Load(ctx, slot, 0); err != nil {
		return 0, false, fmt.Errorf("load tape %s: %w", label, err)
	}

	tape, err := s.Catalog.EnsureTape(label)
	if err != nil {
		return 0, false, fmt.Errorf("ensure tape row for %s: %w", label, err)
	}

	switch s.Format {
	case FormatLTFS:
		return s.writeLTFS(ctx, tape, files)
	case FormatTAR:
		return s.writeTAR(ctx, tape, files)
	default:
		return 0, false, fmt.Errorf("unknown write format %d", s.Format)
	}
}

// writeLTFS implements the LTO-5+ path: mount (formatting blank media),
// then copy cipher files to the mount point one at a time, checking live
// free space before each copy (spec.md §4.5).
func (s *Stage) writeLTFS(ctx context.Context, tape *catalog.Tape, files []*catalog.File) (int, bool, error) {
	if err := s.Lib.EnsureLTFS(ctx, tape.Label, tape.VolumeUUID); err != nil {
		return 0, false, fmt.Errorf("mount ltfs for tape %s: %w", tape.Label, err)
	}

	space, err := s.Lib.FreeSpace()
	if err != nil {
		return 0, false, fmt.Errorf("read tape free space: %w", err)
	}
	keepFree, err := sizeparse.Resolve(s.KeepFree, space.Total)
	if err != nil {
		return 0, false, fmt.Errorf("resolve tape-keep-free: %w", err)
	}

	written := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return written, false, ctx.Err()
		}
		space, err := s.Lib.FreeSpace()
		if err != nil {
			return written, false, fmt.Errorf("read tape free space: %w", err)
		}
		cipherSize := int64(0)
		if f.FileSizeEncrypted != nil {
			cipherSize = *f.FileSizeEncrypted
		}

		if cipherSize > space.Free-keepFree {
			if err := s.seal(ctx, tape); err != nil {
				return written, false, err
			}
			return written, true, nil
		}

		if err := s.copyToLTFS(f); err != nil {
			return written, false, fmt.Errorf("copy %s to tape: %w", f.Path, err)
		}
		if err := s.Catalog.MarkWritten(f.ID, tape.ID, nil); err != nil {
			return written, false, fmt.Errorf("mark written %s: %w", f.Path, err)
		}
		written++
	}

	// Ran out of files before running out of space: nothing more to do
	// this tape, leave it loaded and unsealed.
	return written, false, nil
}

func (s *Stage) copyToLTFS(f *catalog.File) error {
	name := ""
	if f.FilenameEncrypted != nil {
		name = *f.FilenameEncrypted
	}
	src := filepath.Join(s.EncDir, name)
	dst := filepath.Join(s.Lib.MountPoint, name)

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

// writeTAR implements the LTO-4 path: seek to end-of-data, accumulate
// files under the chunk threshold into a single tar archive member set,
// flush when the chunk would exceed free space, and record each file's
// tape position as the pre-write block.
func (s *Stage) writeTAR(ctx context.Context, tape *catalog.Tape, files []*catalog.File) (int, bool, error) {
	threshold := s.ChunkThreshold
	if threshold <= 0 {
		threshold = defaultChunkThreshold
	}
	blockSize := s.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	startBlock := int64(0)
	if tape.EndOfData != nil {
		startBlock = *tape.EndOfData
	}
	if startBlock == 0 {
		if err := s.Lib.Rewind(ctx); err != nil {
			return 0, false, fmt.Errorf("rewind tape: %w", err)
		}
	} else if err := s.Lib.SeekToBlock(ctx, startBlock); err != nil {
		return 0, false, fmt.Errorf("seek to end of data: %w", err)
	}

	space, err := s.Lib.FreeSpace()
	if err != nil {
		return 0, false, fmt.Errorf("read tape free space: %w", err)
	}
	keepFree, err := sizeparse.Resolve(s.KeepFree, space.Total)
	if err != nil {
		return 0, false, fmt.Errorf("resolve tape-keep-free: %w", err)
	}

	written := 0
	var chunk []tarstream.Entry
	var chunkSize int64
	usedSoFar := int64(0)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		preBlock, err := s.Lib.CurrentBlock(ctx)
		if err != nil {
			return fmt.Errorf("read current block: %w", err)
		}
		if _, err := tarstream.WriteEntries(s.TapeDevice, blockSize, chunk); err != nil {
			return fmt.Errorf("write tar chunk: %w", err)
		}
		for _, e := range chunk {
			if err := s.markWrittenByName(tape.ID, e.Name, preBlock); err != nil {
				return err
			}
			written++
			usedSoFar += e.Size
		}
		chunk = nil
		chunkSize = 0
		return nil
	}

	for _, f := range files {
		if ctx.Err() != nil {
			flush()
			return written, false, ctx.Err()
		}
		if f.FilenameEncrypted == nil || f.FileSizeEncrypted == nil {
			continue
		}
		size := *f.FileSizeEncrypted

		if usedSoFar+chunkSize+size > space.Free-keepFree {
			if err := flush(); err != nil {
				return written, false, err
			}
			if err := s.seal(ctx, tape); err != nil {
				return written, false, err
			}
			return written, true, nil
		}

		if size >= threshold {
			if err := flush(); err != nil {
				return written, false, err
			}
			chunk = []tarstream.Entry{{Name: *f.FilenameEncrypted, Path: filepath.Join(s.EncDir, *f.FilenameEncrypted), Size: size}}
			if err := flush(); err != nil {
				return written, false, err
			}
			continue
		}

		chunk = append(chunk, tarstream.Entry{Name: *f.FilenameEncrypted, Path: filepath.Join(s.EncDir, *f.FilenameEncrypted), Size: size})
		chunkSize += size
		if chunkSize >= threshold {
			if err := flush(); err != nil {
				return written, false, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, false, err
	}

	endBlock, err := s.Lib.CurrentBlock(ctx)
	if err == nil {
		s.Catalog.UpdateTapeEndOfData(tape.ID, endBlock)
	}

	return written, false, nil
}

// markWrittenByName re-resolves a file by its opaque encrypted name. The
// chunk-flush closure only carries names, not File structs; rescanning the
// not-yet-written set on each flush is acceptable at Write-stage volumes.
func (s *Stage) markWrittenByName(tapeID int64, encName string, block int64) error {
	candidates, err := s.Catalog.FilesReadyToWrite()
	if err != nil {
		return err
	}
	for _, f := range candidates {
		if f.FilenameEncrypted != nil && *f.FilenameEncrypted == encName {
			return s.Catalog.MarkWritten(f.ID, tapeID, &block)
		}
	}
	return fmt.Errorf("written file %s not found among pending catalog rows", encName)
}

// seal runs the shared tape-full sealing sequence: sample verification,
// encrypted database+manifest dump, mark-full, cleanup, unload
// (spec.md §4.5 "Tape-full sealing").
func (s *Stage) seal(ctx context.Context, tape *catalog.Tape) error {
	if err := s.VerifySample(ctx, tape); err != nil {
		return fmt.Errorf("sample verification failed, not sealing: %w", err)
	}

	epoch := time.Now().Unix()
	if err := s.sealDatabase(ctx, tape, epoch); err != nil {
		return err
	}
	if err := s.sealManifest(ctx, tape, epoch); err != nil {
		return err
	}

	files, err := s.Catalog.FilesOnTape(tape.Label)
	if err != nil {
		return fmt.Errorf("list files on tape %s: %w", tape.Label, err)
	}
	if err := s.Catalog.MarkTapeFull(tape.ID, len(files)); err != nil {
		return fmt.Errorf("mark tape %s full: %w", tape.Label, err)
	}

	for _, f := range files {
		if f.FilenameEncrypted == nil {
			continue
		}
		path := filepath.Join(s.EncDir, *f.FilenameEncrypted)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logf("cleanup: remove sealed cipher file %s failed: %v", path, err)
		}
	}

	if s.Format == FormatLTFS {
		if err := s.Lib.UnmountLTFS(ctx); err != nil {
			s.logf("unmount ltfs for sealed tape %s failed: %v", tape.Label, err)
		}
	}
	if err := s.Lib.Unload(ctx, 0, 0); err != nil {
		return fmt.Errorf("unload sealed tape %s: %w", tape.Label, err)
	}

	return nil
}

func (s *Stage) sealDatabase(ctx context.Context, tape *catalog.Tape, epoch int64) error {
	if s.Format != FormatLTFS {
		// spec.md §4.5 step 2: "LTFS path only, at present".
		return nil
	}
	out := filepath.Join(s.Lib.MountPoint, fmt.Sprintf("tapebackup_%d.db.enc", epoch))
	if err := s.Cipher.Encrypt(ctx, s.DatabasePath, out); err != nil {
		return fmt.Errorf("write encrypted catalog database to tape: %w", err)
	}
	return nil
}

func (s *Stage) sealManifest(ctx context.Context, tape *catalog.Tape, epoch int64) error {
	files, err := s.Catalog.FilesOnTape(tape.Label)
	if err != nil {
		return fmt.Errorf("list files on tape %s: %w", tape.Label, err)
	}

	tmp, err := os.CreateTemp("", fmt.Sprintf("tapebackup_%d_*.txt", epoch))
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, f := range files {
		name := ""
		if f.FilenameEncrypted != nil {
			name = *f.FilenameEncrypted
		}
		if _, err := fmt.Fprintf(tmp, "%d;%q;%q\n", f.ID, f.Path, name); err != nil {
			tmp.Close()
			return fmt.Errorf("write manifest line: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest temp file: %w", err)
	}

	dest := filepath.Join(s.Lib.MountPoint, fmt.Sprintf("tapebackup_%d.txt.enc", epoch))
	if err := s.Cipher.Encrypt(ctx, tmp.Name(), dest); err != nil {
		return fmt.Errorf("write encrypted manifest to tape: %w", err)
	}
	return nil
}

// VerifySample re-reads a random sample of this tape's files from the tape
// itself and compares their cipher hash against the catalog, ordered to
// minimize head travel (spec.md §4.5 step 1).
func (s *Stage) VerifySample(ctx context.Context, tape *catalog.Tape) error {
	files, err := s.Catalog.FilesOnTape(tape.Label)
	if err != nil {
		return fmt.Errorf("list files on tape %s: %w", tape.Label, err)
	}
	if len(files) == 0 {
		return nil
	}

	n, err := sizeparse.ResolveCount(s.VerifyFiles, len(files))
	if err != nil {
		return fmt.Errorf("resolve verify-files count: %w", err)
	}
	if n <= 0 {
		return nil
	}

	sample := pickSample(files, n)

	if s.Format == FormatLTFS {
		sort.Slice(sample, func(i, j int) bool {
			bi, _ := pathutil.StartBlock(filepath.Join(s.Lib.MountPoint, nameOf(sample[i])))
			bj, _ := pathutil.StartBlock(filepath.Join(s.Lib.MountPoint, nameOf(sample[j])))
			return bi < bj
		})
		for _, f := range sample {
			path := filepath.Join(s.Lib.MountPoint, nameOf(f))
			hash, err := pathutil.HashFile(path)
			if err != nil {
				return fmt.Errorf("read back %s from tape: %w", f.Path, err)
			}
			want := ""
			if f.MD5SumEncrypted != nil {
				want = *f.MD5SumEncrypted
			}
			if hash != want {
				return fmt.Errorf("cipher hash mismatch for %s: tape has %s, catalog has %s", f.Path, hash, want)
			}
		}
		return nil
	}

	sort.Slice(sample, func(i, j int) bool {
		pi, pj := int64(0), int64(0)
		if sample[i].TapePosition != nil {
			pi = *sample[i].TapePosition
		}
		if sample[j].TapePosition != nil {
			pj = *sample[j].TapePosition
		}
		return pi < pj
	})
	for _, f := range sample {
		if f.TapePosition == nil {
			continue
		}
		if err := s.Lib.SeekToBlock(ctx, *f.TapePosition); err != nil {
			return fmt.Errorf("seek to verify %s: %w", f.Path, err)
		}
		rc, err := tarstream.ReadMember(s.TapeDevice, nameOf(f))
		if err != nil {
			return fmt.Errorf("read back %s from tape: %w", f.Path, err)
		}
		hash, hashErr := pathutil.HashReader(rc)
		rc.Close()
		if hashErr != nil {
			return fmt.Errorf("hash tape read-back of %s: %w", f.Path, hashErr)
		}
		want := ""
		if f.MD5SumEncrypted != nil {
			want = *f.MD5SumEncrypted
		}
		if hash != want {
			return fmt.Errorf("cipher hash mismatch for %s: tape has %s, catalog has %s", f.Path, hash, want)
		}
	}
	return nil
}

func nameOf(f *catalog.File) string {
	if f.FilenameEncrypted == nil {
		return ""
	}
	return *f.FilenameEncrypted
}

// pickSample picks n files at random out of files, matching spec.md §4.5's
// "pick verify-files count ... at random" (Testable Scenario 2). The
// source slice is left untouched; a shuffled copy is sampled instead.
func pickSample(files []*catalog.File, n int) []*catalog.File {
	if n >= len(files) {
		return files
	}
	shuffled := make([]*catalog.File, len(files))
	copy(shuffled, files)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func (s *Stage) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Info(fmt.Sprintf(format, args...), nil)
}

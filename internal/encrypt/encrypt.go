// Package encrypt implements the Encryption stage: claim an opaque
// encrypted name for each downloaded file, invoke the injected cipher,
// record the resulting size/hash, and (in remote mode) delete the
// plaintext copy once the ciphertext is confirmed on disk (spec.md §4.4).
package encrypt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cipher"
	"github.com/RoseOO/tapebackarr/internal/logging"
	"github.com/RoseOO/tapebackarr/internal/pathutil"
)

// Stage runs the Encryption worker pool.
type Stage struct {
	Catalog    *catalog.Catalog
	Cipher     cipher.Cipher
	DataDir    string // local-data-dir or local-base-dir, holding plaintext
	EncDir     string // local-enc-dir, destination for ciphertext
	LocalFiles bool   // spec.md §6 --local: never delete the plaintext copy
	Workers    int
	Log        *logging.Logger
}

// Result summarizes one Encryption run.
type Result struct {
	Encrypted int
	Failed    int
}

// Run claims an opaque name and encrypts every file that is downloaded
// but not yet encrypted, looping until none remain (mirrors
// original_source's `while True: files = get_files_to_be_encrypted()`).
// A file whose encryption fails is counted in Result.Failed and is not
// picked up again within the same run.
func (s *Stage) Run(ctx context.Context) (Result, error) {
	var total Result
	failed := make(map[int64]bool)

	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		files, err := s.Catalog.FilesReadyToEncrypt()
		if err != nil {
			return total, fmt.Errorf("list files ready to encrypt: %w", err)
		}
		var pending []*catalog.File
		for _, f := range files {
			if !failed[f.ID] {
				pending = append(pending, f)
			}
		}
		if len(pending) == 0 {
			return total, nil
		}

		workers := s.Workers
		if workers < 1 {
			workers = 1
		}

		var mu sync.Mutex
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup

		for slot, f := range pending {
			if ctx.Err() != nil {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return total, ctx.Err()
			}
			wg.Add(1)
			go func(slotIdx int, id int64, relPath string) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := s.encryptOne(ctx, slotIdx, id, relPath); err != nil {
					s.logf("worker %d: encrypt failed for id %d: %v", slotIdx, id, err)
					mu.Lock()
					total.Failed++
					failed[id] = true
					mu.Unlock()
					return
				}
				mu.Lock()
				total.Encrypted++
				mu.Unlock()
			}(slot, f.ID, f.Path)
		}
		wg.Wait()
	}
}

// encryptOne claims a unique opaque name, runs the cipher, and records
// size/hash. A unique-constraint failure on claim retries with a fresh
// name, matching original_source's filename_encrypted_already_used loop.
func (s *Stage) encryptOne(ctx context.Context, slotIdx int, id int64, relPath string) error {
	var encName string
	for {
		name, err := pathutil.NewOpaqueName()
		if err != nil {
			return fmt.Errorf("generate opaque name: %w", err)
		}
		if claimErr := s.Catalog.ClaimEncryptedName(id, name); claimErr == nil {
			encName = name
			break
		}
		s.logf("worker %d: opaque name %s already claimed, retrying", slotIdx, name)
	}

	inPath := filepath.Join(s.DataDir, relPath)
	outPath := filepath.Join(s.EncDir, encName)

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create encrypted dir: %w", err)
	}

	if err := s.Cipher.Encrypt(ctx, inPath, outPath); err != nil {
		return fmt.Errorf("cipher encrypt: %w", err)
	}

	hash, err := pathutil.HashFile(outPath)
	if err != nil {
		return fmt.Errorf("hash ciphertext: %w", err)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("stat ciphertext: %w", err)
	}

	if err := s.Catalog.MarkEncrypted(id, info.Size(), hash); err != nil {
		return fmt.Errorf("mark encrypted: %w", err)
	}

	if !s.LocalFiles {
		if err := os.Remove(inPath); err != nil && !os.IsNotExist(err) {
			s.logf("worker %d: remove plaintext %s failed: %v", slotIdx, inPath, err)
		}
	}

	return nil
}

func (s *Stage) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Info(fmt.Sprintf(format, args...), nil)
}

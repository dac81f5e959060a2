package main

import (
	"fmt"
	"strings"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/cipher"
	"github.com/RoseOO/tapebackarr/internal/encrypt"
	"github.com/RoseOO/tapebackarr/internal/ingest"
	"github.com/RoseOO/tapebackarr/internal/repair"
	"github.com/RoseOO/tapebackarr/internal/restore"
	"github.com/RoseOO/tapebackarr/internal/sizeparse"
	"github.com/RoseOO/tapebackarr/internal/tapelib"
	"github.com/RoseOO/tapebackarr/internal/writestage"
)

// openCatalog opens the configured catalog and refuses to proceed if its
// schema version doesn't match, unless migrate is true (spec.md §7
// "invariant violation: unknown schema version").
func openCatalog(migrate bool) (*catalog.Catalog, error) {
	cat, err := catalog.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if migrate {
		if err := cat.Migrate(); err != nil {
			cat.Close()
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
		return cat, nil
	}

	if err := cat.CheckSchemaVersion(); err != nil {
		cat.Close()
		return nil, fmt.Errorf("%w (run 'tapebackarr db migrate')", err)
	}
	return cat, nil
}

func buildCipher() cipher.Cipher {
	return cipher.New(cfg.EncKey)
}

func buildLib() *tapelib.Controller {
	return tapelib.New(cfg.Devices.TapeLib, cfg.Devices.TapeDrive, cfg.Local.TapeMountDir)
}

func buildLister() ingest.Lister {
	if flagLocal {
		return &ingest.LocalLister{BaseDir: cfg.Local.DataDir}
	}
	return &ingest.RemoteLister{Server: cfg.Remote.Server, DataDir: cfg.Remote.DataDir}
}

func buildFetcher() ingest.Fetcher {
	if flagLocal {
		return &ingest.LocalFetcher{BaseDir: cfg.Local.DataDir}
	}
	return &ingest.RemoteFetcher{Server: cfg.Remote.Server, RemoteDir: cfg.Remote.BaseDir, LocalDir: cfg.Local.DataDir}
}

// buildGuard resolves max-storage-usage into a DiskUsageGuard. An unset
// (empty) max-storage-usage disables the guard (DiskUsageGuard.MaxBytes
// -1 sentinel); a configured "0" is a real, always-triggered limit that
// blocks every file (spec.md §8).
func buildGuard() ingest.StorageGuard {
	if strings.TrimSpace(cfg.MaxStorage) == "" {
		return &ingest.DiskUsageGuard{MaxBytes: -1}
	}
	maxBytes, err := sizeparse.Resolve(cfg.MaxStorage, 0)
	if err != nil {
		return &ingest.DiskUsageGuard{MaxBytes: -1}
	}
	return &ingest.DiskUsageGuard{
		Dirs:     []string{cfg.Local.DataDir, cfg.Local.EncDir, cfg.Local.VerifyDir},
		MaxBytes: maxBytes,
	}
}

func newIngestStage(cat *catalog.Catalog) *ingest.Stage {
	return &ingest.Stage{
		Catalog: cat,
		Lister:  buildLister(),
		Fetcher: buildFetcher(),
		Guard:   buildGuard(),
		Workers: cfg.Threads.Get,
		Log:     log,
	}
}

func newEncryptStage(cat *catalog.Catalog) *encrypt.Stage {
	return &encrypt.Stage{
		Catalog:    cat,
		Cipher:     buildCipher(),
		DataDir:    cfg.Local.DataDir,
		EncDir:     cfg.Local.EncDir,
		LocalFiles: flagLocal,
		Workers:    cfg.Threads.Encrypt,
		Log:        log,
	}
}

func newWriteStage(cat *catalog.Catalog, lib *tapelib.Controller) *writestage.Stage {
	return &writestage.Stage{
		Catalog:      cat,
		Lib:          lib,
		Cipher:       buildCipher(),
		EncDir:       cfg.Local.EncDir,
		DatabasePath: cfg.Database,
		TapeDevice:   cfg.Devices.TapeDrive,
		Format:       writestage.FormatLTFS,
		KeepFree:     cfg.TapeKeepFree,
		VerifyFiles:  cfg.VerifyFiles,
		Whitelist:    cfg.LTOWhitelist,
		Blacklist:    cfg.LTOBlacklist,
		Log:          log,
	}
}

func newRestoreStage(cat *catalog.Catalog, lib *tapelib.Controller) *restore.Stage {
	return &restore.Stage{
		Catalog:    cat,
		Lib:        lib,
		Cipher:     buildCipher(),
		EncDir:     cfg.Local.EncDir,
		RestoreDir: cfg.Local.RestoreDir,
		Log:        log,
	}
}

func newRepairStage(cat *catalog.Catalog) *repair.Stage {
	return &repair.Stage{
		Catalog: cat,
		EncDir:  cfg.Local.EncDir,
		Log:     log,
	}
}

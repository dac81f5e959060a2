package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("catalog: not found")

// --- Read operations (spec.md §4.1) ---

// FileByRelPath looks up a file by its relative path.
func (c *Catalog) FileByRelPath(path string) (*File, error) {
	var f File
	err := c.withRetry(func() error {
		row := c.db.QueryRow(fileSelectColumns+" WHERE path = ?", path)
		return scanFile(row, &f)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FileByPlaintextHash looks up a primary file by content hash, used by
// Ingest for dedup (spec.md §4.3).
func (c *Catalog) FileByPlaintextHash(hash string) (*File, error) {
	var f File
	err := c.withRetry(func() error {
		row := c.db.QueryRow(fileSelectColumns+" WHERE md5sum_file = ? AND duplicate_id IS NULL", hash)
		return scanFile(row, &f)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FilesReadyToEncrypt returns downloaded, not-yet-encrypted files.
func (c *Catalog) FilesReadyToEncrypt() ([]*File, error) {
	return c.queryFiles(fileSelectColumns + " WHERE downloaded = 1 AND encrypted = 0 AND deleted = 0")
}

// FilesReadyToWrite returns downloaded+encrypted, not-yet-written files.
func (c *Catalog) FilesReadyToWrite() ([]*File, error) {
	return c.queryFiles(fileSelectColumns + " WHERE downloaded = 1 AND encrypted = 1 AND written = 0 AND deleted = 0")
}

// FilesOnTape returns every file written to the tape with the given label.
func (c *Catalog) FilesOnTape(label string) ([]*File, error) {
	return c.queryFiles(fileSelectColumns+` WHERE tape = (SELECT id FROM tape WHERE label = ?)`, label)
}

// FilesMatching resolves shell-style patterns (translated `*` → SQL `%`)
// against path or filename, optionally filtered by tape label and
// written status (spec.md §4.1/§4.6 restore start).
func (c *Catalog) FilesMatching(patterns []string, tapeLabel string, written *bool) ([]*File, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	clauses := make([]string, 0, len(patterns))
	args := make([]any, 0, len(patterns))
	for _, p := range patterns {
		sqlPattern := strings.ReplaceAll(p, "*", "%")
		clauses = append(clauses, "(path LIKE ? OR filename LIKE ?)")
		args = append(args, sqlPattern, sqlPattern)
	}

	query := fileSelectColumns + " WHERE (" + strings.Join(clauses, " OR ") + ")"
	if tapeLabel != "" {
		query += " AND tape = (SELECT id FROM tape WHERE label = ?)"
		args = append(args, tapeLabel)
	}
	if written != nil {
		query += " AND written = ?"
		args = append(args, boolToInt(*written))
	}

	return c.queryFiles(query, args...)
}

// Duplicates returns (original name, modified date, second name, filesize)
// tuples for every duplicate row, grounded on original_source's
// list_duplicates / functions/files.py duplicate().
type DuplicatePair struct {
	OriginalFilename string
	OriginalMTime    *int64
	DuplicateFilename string
	FileSize         *int64
}

func (c *Catalog) Duplicates() ([]DuplicatePair, error) {
	var out []DuplicatePair
	err := c.withRetry(func() error {
		out = nil
		rows, err := c.db.Query(`
			SELECT p.filename, p.mtime, d.filename, p.filesize
			FROM file d
			JOIN file p ON d.duplicate_id = p.id
			WHERE d.duplicate_id IS NOT NULL
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var dp DuplicatePair
			if err := rows.Scan(&dp.OriginalFilename, &dp.OriginalMTime, &dp.DuplicateFilename, &dp.FileSize); err != nil {
				return err
			}
			out = append(out, dp)
		}
		return rows.Err()
	})
	return out, err
}

// NotDeletedFiles returns every non-deleted primary and duplicate file,
// used by Ingest's deletion-detection pass (spec.md §4.3).
func (c *Catalog) NotDeletedFiles() ([]*File, error) {
	return c.queryFiles(fileSelectColumns + " WHERE deleted = 0")
}

// RestoreJobLatest returns the most recently created restore job.
func (c *Catalog) RestoreJobLatest() (*RestoreJob, error) {
	var j RestoreJob
	err := c.withRetry(func() error {
		row := c.db.QueryRow("SELECT id, startdate, finished FROM restore_job ORDER BY id DESC LIMIT 1")
		return row.Scan(&j.ID, &j.StartDate, &j.Finished)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// RestoreJobFiles returns the files mapped to a job, optionally filtered
// by tape label set and restored status (spec.md §4.6 continue).
func (c *Catalog) RestoreJobFiles(jobID int64, tapeLabels []string, restoredOnly *bool) ([]*File, error) {
	query := fileSelectColumns + `
		JOIN restore_job_file_map m ON m.file_id = file.id
		WHERE m.restore_job_id = ?`
	args := []any{jobID}

	if len(tapeLabels) > 0 {
		placeholders := make([]string, len(tapeLabels))
		for i, label := range tapeLabels {
			placeholders[i] = "?"
			args = append(args, label)
		}
		query += fmt.Sprintf(" AND file.tape IN (SELECT id FROM tape WHERE label IN (%s))", strings.Join(placeholders, ","))
	}
	if restoredOnly != nil {
		query += " AND m.restored = ?"
		args = append(args, boolToInt(*restoredOnly))
	}

	return c.queryFiles(query, args...)
}

// RestoreJobStats returns (count, total-size, distinct-tape-count) for a
// job, optionally only counting rows not yet restored.
func (c *Catalog) RestoreJobStats(jobID int64, remainingOnly bool) (RestoreJobStats, error) {
	var stats RestoreJobStats
	query := `
		SELECT COUNT(*), COALESCE(SUM(f.filesize_encrypted), 0), COUNT(DISTINCT f.tape)
		FROM restore_job_file_map m
		JOIN file f ON f.id = m.file_id
		WHERE m.restore_job_id = ?`
	if remainingOnly {
		query += " AND m.restored = 0"
	}
	err := c.withRetry(func() error {
		return c.db.QueryRow(query, jobID).Scan(&stats.Count, &stats.TotalSize, &stats.DistinctTape)
	})
	return stats, err
}

// --- Write operations (spec.md §4.1) ---

// InsertFile creates a bare File row with just filename+path (Ingest's
// "create row" step, spec.md §3/§4.3).
func (c *Catalog) InsertFile(filename, path string) (int64, error) {
	var id int64
	err := c.withRetry(func() error {
		res, err := c.db.Exec("INSERT INTO file (filename, path) VALUES (?, ?)", filename, path)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// MarkDownloaded records size/mtime/hash and sets downloaded=true on a
// primary file.
func (c *Catalog) MarkDownloaded(id int64, fileSize, mtime int64, hash string) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE file SET filesize = ?, mtime = ?, md5sum_file = ?, downloaded_date = ?, downloaded = 1
			WHERE id = ?`, fileSize, mtime, hash, nowUnix(), id)
		return err
	})
}

// FoldIntoDuplicate sets duplicate_id on a file row, folding it into an
// existing primary (spec.md §4.3 dedup fold).
func (c *Catalog) FoldIntoDuplicate(id, primaryID int64, mtime int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE file SET duplicate_id = ?, mtime = ?, downloaded_date = ?
			WHERE id = ?`, primaryID, mtime, nowUnix(), id)
		return err
	})
}

// ClaimEncryptedName reserves an opaque encrypted name for a file before
// the cipher tool runs (spec.md §4.4). Caller must retry with a new name
// on a unique-constraint failure.
func (c *Catalog) ClaimEncryptedName(id int64, name string) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("UPDATE file SET filename_encrypted = ? WHERE id = ?", name, id)
		return err
	})
}

// EncryptedNameInUse reports whether an opaque name is already claimed.
func (c *Catalog) EncryptedNameInUse(name string) (bool, error) {
	var count int
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT COUNT(*) FROM file WHERE filename_encrypted = ?", name).Scan(&count)
	})
	return count > 0, err
}

// MarkEncrypted records cipher size/hash and sets encrypted=true.
func (c *Catalog) MarkEncrypted(id int64, cipherSize int64, cipherHash string) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE file SET filesize_encrypted = ?, md5sum_encrypted = ?, encrypted_date = ?, encrypted = 1
			WHERE id = ?`, cipherSize, cipherHash, nowUnix(), id)
		return err
	})
}

// ClearEncryptedClaim clears a claimed-but-never-completed encrypted name
// (Repair's broken-encrypt recovery, spec.md §4.7).
func (c *Catalog) ClearEncryptedClaim(id int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("UPDATE file SET filename_encrypted = NULL WHERE id = ?", id)
		return err
	})
}

// MarkWritten records the tape reference, timestamp, and optional tape
// position, and sets written=true (spec.md §4.5).
func (c *Catalog) MarkWritten(id, tapeID int64, tapePosition *int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE file SET tape = ?, written_date = ?, tapeposition = ?, written = 1
			WHERE id = ?`, tapeID, nowUnix(), tapePosition, id)
		return err
	})
}

// RevertWrittenByTape reverts written/tape attribution for every file on
// a tape — the no-space-anomaly recovery path (spec.md §4.5 scenario 6).
func (c *Catalog) RevertWrittenByTape(tapeID int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE file SET written = 0, written_date = NULL, tape = NULL, tapeposition = NULL
			WHERE tape = ?`, tapeID)
		return err
	})
}

// EnsureTape returns the tape row for label, creating it if absent (Write
// stage's "tape row is created when the Write stage first selects a tape
// from the library", spec.md §3). A freshly created row is stamped with
// a random volume UUID, recorded both in the catalog and (via
// tapelib.Controller.FormatLTFS) on the tape's own LTFS volume label, so
// the tape's identity survives a catalog rebuild.
func (c *Catalog) EnsureTape(label string) (*Tape, error) {
	var t Tape
	err := c.withRetry(func() error {
		row := c.db.QueryRow("SELECT id, label, volume_uuid, full_date, files_count, end_of_data, full, verified_count, verified_last FROM tape WHERE label = ?", label)
		scanErr := scanTape(row, &t)
		if errors.Is(scanErr, sql.ErrNoRows) {
			volumeUUID := uuid.New().String()
			res, insErr := c.db.Exec("INSERT INTO tape (label, volume_uuid) VALUES (?, ?)", label, volumeUUID)
			if insErr != nil {
				return insErr
			}
			id, idErr := res.LastInsertId()
			if idErr != nil {
				return idErr
			}
			t = Tape{ID: id, Label: label, VolumeUUID: volumeUUID}
			return nil
		}
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTapeFull seals a tape: sets full=true, full_date, files_count.
func (c *Catalog) MarkTapeFull(tapeID int64, filesCount int) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE tape SET full = 1, full_date = ?, files_count = ?
			WHERE id = ?`, nowUnix(), filesCount, tapeID)
		return err
	})
}

// UpdateTapeEndOfData records the post-write block number for a TAR-path
// tape (spec.md §4.5 TAR path, LTO-4 only).
func (c *Catalog) UpdateTapeEndOfData(tapeID int64, block int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("UPDATE tape SET end_of_data = ? WHERE id = ?", block, tapeID)
		return err
	})
}

// FullTapeLabels returns the labels of tapes already marked full, used by
// the Tape Library Controller to build its evict-from-inventory list.
func (c *Catalog) FullTapeLabels() (map[string]bool, error) {
	out := make(map[string]bool)
	err := c.withRetry(func() error {
		rows, err := c.db.Query("SELECT label FROM tape WHERE full = 1")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var label string
			if err := rows.Scan(&label); err != nil {
				return err
			}
			out[label] = true
		}
		return rows.Err()
	})
	return out, err
}

// TapeLabelByID returns a tape's label given its id, used to group restore
// candidates by tape (spec.md §4.6 continue).
func (c *Catalog) TapeLabelByID(tapeID int64) (string, error) {
	var label string
	err := c.withRetry(func() error {
		row := c.db.QueryRow("SELECT label FROM tape WHERE id = ?", tapeID)
		return row.Scan(&label)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return label, err
}

// AllRestoreJobSummaries lists every restore job with its remaining
// file-count/byte total, for `restore list` (spec.md §4.6).
func (c *Catalog) AllRestoreJobSummaries() ([]JobSummaryRow, error) {
	var out []JobSummaryRow
	err := c.withRetry(func() error {
		rows, err := c.db.Query(`
			SELECT j.id, j.startdate,
			       COALESCE(SUM(CASE WHEN m.restored = 0 THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN m.restored = 0 THEN f.filesize_encrypted ELSE 0 END), 0)
			FROM restore_job j
			LEFT JOIN restore_job_file_map m ON m.restore_job_id = j.id
			LEFT JOIN file f ON f.id = m.file_id
			GROUP BY j.id
			ORDER BY j.id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row JobSummaryRow
			if err := rows.Scan(&row.ID, &row.StartDate, &row.RemainingFiles, &row.RemainingBytes); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// JobSummaryRow is one row of AllRestoreJobSummaries.
type JobSummaryRow struct {
	ID             int64
	StartDate      int64
	RemainingFiles int
	RemainingBytes int64
}

// CreateRestoreJob creates a new RestoreJob.
func (c *Catalog) CreateRestoreJob() (int64, error) {
	var id int64
	err := c.withRetry(func() error {
		res, err := c.db.Exec("INSERT INTO restore_job (startdate) VALUES (?)", nowUnix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// AddRestoreJobFiles bulk-inserts the file-to-job map rows, ignoring
// duplicates (matches original_source's add_restore_job_files "INSERT OR
// IGNORE").
func (c *Catalog) AddRestoreJobFiles(jobID int64, fileIDs []int64) error {
	return c.withRetry(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare("INSERT OR IGNORE INTO restore_job_file_map (file_id, restore_job_id) VALUES (?, ?)")
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, fid := range fileIDs {
			if _, err := stmt.Exec(fid, jobID); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// MarkFileRestored flags the file-map row for (job, file) as restored.
func (c *Catalog) MarkFileRestored(jobID, fileID int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec(`
			UPDATE restore_job_file_map SET restored = 1
			WHERE restore_job_id = ? AND file_id = ?`, jobID, fileID)
		return err
	})
}

// FinishRestoreJob sets the job's finished timestamp.
func (c *Catalog) FinishRestoreJob(jobID int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("UPDATE restore_job SET finished = ? WHERE id = ?", nowUnix(), jobID)
		return err
	})
}

// DeleteRestoreJob deletes a job and its file-map rows (restore abort,
// spec.md §4.6).
func (c *Catalog) DeleteRestoreJob(jobID int64) error {
	return c.withRetry(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM restore_job_file_map WHERE restore_job_id = ?", jobID); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("DELETE FROM restore_job WHERE id = ?", jobID); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// DeleteFile removes a row entirely — used by Repair's broken-download
// cleanup (spec.md §4.7).
func (c *Catalog) DeleteFile(id int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("DELETE FROM file WHERE id = ?", id)
		return err
	})
}

// BrokenDownloadEntries returns files stuck mid-download: not downloaded
// and not a duplicate (spec.md §4.7).
func (c *Catalog) BrokenDownloadEntries() ([]*File, error) {
	return c.queryFiles(fileSelectColumns + " WHERE downloaded = 0 AND duplicate_id IS NULL")
}

// BrokenEncryptEntries returns files with a claimed encrypted name but
// encrypted=false (spec.md §4.7).
func (c *Catalog) BrokenEncryptEntries() ([]*File, error) {
	return c.queryFiles(fileSelectColumns + " WHERE filename_encrypted IS NOT NULL AND encrypted = 0")
}

// SetFileDeleted flags a file deleted without removing the row, so the
// tape copy (if any) remains findable (spec.md §3).
func (c *Catalog) SetFileDeleted(id int64) error {
	return c.withRetry(func() error {
		_, err := c.db.Exec("UPDATE file SET deleted = 1 WHERE id = ?", id)
		return err
	})
}

// --- Maintenance operations (spec.md §4.1) ---

// Tables enumerates the catalog's user tables (for `db status`).
func (c *Catalog) Tables() ([]string, error) {
	var names []string
	err := c.withRetry(func() error {
		names = nil
		rows, err := c.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != 'schema_migrations'")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n)
		}
		return rows.Err()
	})
	return names, err
}

// TotalRows returns the row count of a table.
func (c *Catalog) TotalRows(table string) (int, error) {
	var n int
	err := c.withRetry(func() error {
		return c.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	})
	return n, err
}

// ColumnInfos returns per-column type and non-null-count diagnostics for
// a table, grounded on original_source's table_col_info/values_in_col.
func (c *Catalog) ColumnInfos(table string) ([]ColumnInfo, error) {
	var cols []ColumnInfo
	err := c.withRetry(func() error {
		cols = nil
		rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
		if err != nil {
			return err
		}
		var names []string
		var types []string
		for rows.Next() {
			var cid int
			var name, ctype string
			var notNull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return err
			}
			names = append(names, name)
			types = append(types, ctype)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i, name := range names {
			var nonNull int
			if err := c.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q WHERE %q IS NOT NULL", table, name)).Scan(&nonNull); err != nil {
				return err
			}
			cols = append(cols, ColumnInfo{Name: name, Type: types[i], NonNullCount: nonNull})
		}
		return nil
	})
	return cols, err
}

// FileCount, MinFileSize, MaxFileSize, TotalFileSize ground `files
// summary` (spec.md §6), on original_source's get_file_count/
// get_min_file_size/get_max_file_size/get_total_file_size.
func (c *Catalog) FileCount() (int, error) {
	var n int
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT COUNT(*) FROM file WHERE deleted = 0").Scan(&n)
	})
	return n, err
}

func (c *Catalog) MinFileSize() (int64, error) {
	var n sql.NullInt64
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT MIN(filesize) FROM file WHERE deleted = 0").Scan(&n)
	})
	return n.Int64, err
}

func (c *Catalog) MaxFileSize() (int64, error) {
	var n sql.NullInt64
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT MAX(filesize) FROM file WHERE deleted = 0").Scan(&n)
	})
	return n.Int64, err
}

func (c *Catalog) TotalFileSize() (int64, error) {
	var n sql.NullInt64
	err := c.withRetry(func() error {
		return c.db.QueryRow("SELECT COALESCE(SUM(filesize), 0) FROM file WHERE deleted = 0").Scan(&n)
	})
	return n.Int64, err
}

// --- shared scan helpers ---

const fileSelectColumns = `SELECT file.id, file.duplicate_id, file.filename, file.path, file.filename_encrypted,
	file.mtime, file.filesize, file.filesize_encrypted, file.md5sum_file, file.md5sum_encrypted,
	file.tape, file.downloaded_date, file.encrypted_date, file.written_date, file.tapeposition,
	file.downloaded, file.encrypted, file.written, file.verified_count, file.verified_last, file.deleted
	FROM file`

type scannable interface {
	Scan(dest ...any) error
}

func scanFile(row scannable, f *File) error {
	var downloaded, encrypted, written, deleted int
	if err := row.Scan(
		&f.ID, &f.DuplicateID, &f.Filename, &f.Path, &f.FilenameEncrypted,
		&f.MTime, &f.FileSize, &f.FileSizeEncrypted, &f.MD5SumFile, &f.MD5SumEncrypted,
		&f.TapeID, &f.DownloadedDate, &f.EncryptedDate, &f.WrittenDate, &f.TapePosition,
		&downloaded, &encrypted, &written, &f.VerifiedCount, &f.VerifiedLast, &deleted,
	); err != nil {
		return err
	}
	f.Downloaded = downloaded != 0
	f.Encrypted = encrypted != 0
	f.Written = written != 0
	f.Deleted = deleted != 0
	return nil
}

func (c *Catalog) queryFiles(query string, args ...any) ([]*File, error) {
	var out []*File
	err := c.withRetry(func() error {
		out = nil
		rows, err := c.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			f := &File{}
			if err := scanFile(rows, f); err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

func scanTape(row scannable, t *Tape) error {
	var full int
	var volumeUUID sql.NullString
	err := row.Scan(&t.ID, &t.Label, &volumeUUID, &t.FullDate, &t.FilesCount, &t.EndOfData, &full, &t.VerifiedCount, &t.VerifiedLast)
	if err != nil {
		return err
	}
	t.Full = full != 0
	t.VolumeUUID = volumeUUID.String
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

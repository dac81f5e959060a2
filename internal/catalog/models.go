package catalog

// File mirrors the `file` table (spec.md §3). A primary file (DuplicateID
// nil) owns all size/hash/tape/stage fields; a duplicate file carries only
// naming/timestamp metadata and points at its primary via DuplicateID.
type File struct {
	ID                int64
	DuplicateID       *int64
	Filename          string
	Path              string
	FilenameEncrypted *string
	MTime             *int64
	FileSize          *int64
	FileSizeEncrypted *int64
	MD5SumFile        *string
	MD5SumEncrypted   *string
	TapeID            *int64
	DownloadedDate    *int64
	EncryptedDate     *int64
	WrittenDate       *int64
	TapePosition      *int64
	Downloaded        bool
	Encrypted         bool
	Written           bool
	VerifiedCount     int
	VerifiedLast      *int64
	Deleted           bool
}

// Tape mirrors the `tape` table.
type Tape struct {
	ID            int64
	Label         string
	VolumeUUID    string
	FullDate      *int64
	FilesCount    int
	EndOfData     *int64
	Full          bool
	VerifiedCount int
	VerifiedLast  *int64
}

// RestoreJob mirrors the `restore_job` table.
type RestoreJob struct {
	ID        int64
	StartDate int64
	Finished  *int64
}

// RestoreJobFileMap mirrors the `restore_job_file_map` table.
type RestoreJobFileMap struct {
	ID           int64
	Restored     bool
	FileID       int64
	RestoreJobID int64
}

// RestoreJobStats is the (count, total-size, distinct-tape-count) tuple
// spec.md §4.1 specifies for restore-job-stats.
type RestoreJobStats struct {
	Count        int
	TotalSize    int64
	DistinctTape int
}

// TableInfo is one row of the `db status` diagnostic (spec.md §4.1
// maintenance operations): per-table row counts and per-column null
// counts, grounded on original_source's get_tables/table_col_info/
// values_in_col.
type TableInfo struct {
	Name       string
	RowCount   int
	Columns    []ColumnInfo
}

// ColumnInfo describes one column's type and non-null count.
type ColumnInfo struct {
	Name      string
	Type      string
	NonNullCount int
}

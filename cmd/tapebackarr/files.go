package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/tableprint"
)

var (
	filesVerbose   bool
	filesTapeLabel string
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect catalogued files",
}

var filesListCmd = &cobra.Command{
	Use:   "list [patterns...]",
	Short: "List files, optionally filtered by glob pattern and/or tape",
	RunE:  runFilesList,
}

var filesDuplicateCmd = &cobra.Command{
	Use:   "duplicate",
	Short: "List duplicate files folded onto a primary",
	RunE:  runFilesDuplicate,
}

var filesSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show aggregate file counts and sizes",
	RunE:  runFilesSummary,
}

func init() {
	filesListCmd.Flags().BoolVar(&filesVerbose, "verbose", false, "include size and hash columns")
	filesListCmd.Flags().StringVar(&filesTapeLabel, "tape", "", "restrict to files on this tape label")

	filesCmd.AddCommand(filesListCmd, filesDuplicateCmd, filesSummaryCmd)
	rootCmd.AddCommand(filesCmd)
}

func runFilesList(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	files, err := cat.FilesMatching(args, filesTapeLabel, nil)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	headers := []string{"path"}
	if filesVerbose {
		headers = append(headers, "size", "sha256")
	}
	table := tableprint.Table{Headers: headers}
	for _, f := range files {
		row := []string{f.Path}
		if filesVerbose {
			size := int64(0)
			if f.FileSize != nil {
				size = *f.FileSize
			}
			hash := ""
			if f.MD5SumFile != nil {
				hash = *f.MD5SumFile
			}
			row = append(row, strconv.FormatInt(size, 10), hash)
		}
		table.Rows = append(table.Rows, row)
	}
	tableprint.Write(os.Stdout, table)
	return nil
}

func runFilesDuplicate(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	pairs, err := cat.Duplicates()
	if err != nil {
		return fmt.Errorf("list duplicates: %w", err)
	}

	table := tableprint.Table{Headers: []string{"original", "duplicate", "size"}}
	for _, p := range pairs {
		size := int64(0)
		if p.FileSize != nil {
			size = *p.FileSize
		}
		table.Rows = append(table.Rows, []string{p.OriginalFilename, p.DuplicateFilename, strconv.FormatInt(size, 10)})
	}
	tableprint.Write(os.Stdout, table)
	return nil
}

func runFilesSummary(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	count, err := cat.FileCount()
	if err != nil {
		return fmt.Errorf("file count: %w", err)
	}
	minSize, err := cat.MinFileSize()
	if err != nil {
		return fmt.Errorf("min file size: %w", err)
	}
	maxSize, err := cat.MaxFileSize()
	if err != nil {
		return fmt.Errorf("max file size: %w", err)
	}
	total, err := cat.TotalFileSize()
	if err != nil {
		return fmt.Errorf("total file size: %w", err)
	}

	table := tableprint.Table{
		Headers: []string{"files", "min size", "max size", "total size"},
		Rows: [][]string{{
			strconv.Itoa(count),
			strconv.FormatInt(minSize, 10),
			strconv.FormatInt(maxSize, 10),
			strconv.FormatInt(total, 10),
		}},
	}
	tableprint.Write(os.Stdout, table)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/restore"
	"github.com/RoseOO/tapebackarr/internal/tableprint"
)

var (
	restoreTapeLabel string
	restoreFilelist  string
	restoreVerbose   bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore files from tape back to restore-dir",
}

var restoreStartCmd = &cobra.Command{
	Use:   "start [patterns...]",
	Short: "Start a new restore job for the given glob patterns",
	RunE:  runRestoreStart,
}

var restoreContinueCmd = &cobra.Command{
	Use:   "continue [jobid]",
	Short: "Continue an in-progress restore job with the currently loaded tape",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRestoreContinue,
}

var restoreAbortCmd = &cobra.Command{
	Use:   "abort [jobid]",
	Short: "Abort a restore job",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRestoreAbort,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore jobs",
	RunE:  runRestoreList,
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status [jobid]",
	Short: "Show restore-job progress",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRestoreStatus,
}

func init() {
	restoreStartCmd.Flags().StringVar(&restoreTapeLabel, "tape", "", "restrict the job to files on this tape label")
	restoreStartCmd.Flags().StringVar(&restoreFilelist, "filelist", "", "read patterns from this file instead of the arguments")
	restoreStatusCmd.Flags().BoolVar(&restoreVerbose, "verbose", false, "also list every file in the job after the totals")

	restoreCmd.AddCommand(restoreStartCmd, restoreContinueCmd, restoreAbortCmd, restoreListCmd, restoreStatusCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runRestoreStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	patterns := args
	if restoreFilelist != "" {
		allow, err := readAllowlist(restoreFilelist)
		if err != nil {
			return fmt.Errorf("read filelist: %w", err)
		}
		patterns = nil
		for p := range allow {
			patterns = append(patterns, p)
		}
	}

	stage := newRestoreStage(cat, buildLib())
	jobID, result, err := stage.Start(ctx, patterns, restoreTapeLabel, "")
	if err != nil {
		return fmt.Errorf("start restore: %w", err)
	}

	fmt.Printf("job %d started: restored=%d failed=%d\n", jobID, result.Restored, result.Failed)
	printTapeRemaining(result.Remaining)
	return nil
}

func runRestoreContinue(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	jobID, err := latestOrArgJobID(cat, args)
	if err != nil {
		return err
	}

	stage := newRestoreStage(cat, buildLib())
	result, err := stage.Continue(ctx, jobID)
	if err != nil {
		return fmt.Errorf("continue restore: %w", err)
	}

	fmt.Printf("job %d: restored=%d failed=%d finished=%v\n", jobID, result.Restored, result.Failed, result.Finished)
	printTapeRemaining(result.Remaining)
	return nil
}

func runRestoreAbort(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	jobID, err := latestOrArgJobID(cat, args)
	if err != nil {
		return err
	}

	stage := newRestoreStage(cat, buildLib())
	if err := stage.Abort(jobID); err != nil {
		return fmt.Errorf("abort restore: %w", err)
	}
	fmt.Printf("job %d aborted\n", jobID)
	return nil
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	stage := newRestoreStage(cat, buildLib())
	jobs, err := stage.List()
	if err != nil {
		return fmt.Errorf("list restore jobs: %w", err)
	}

	table := tableprint.Table{Headers: []string{"job", "started", "remaining files", "remaining bytes"}}
	for _, j := range jobs {
		table.Rows = append(table.Rows, []string{
			strconv.FormatInt(j.JobID, 10),
			strconv.FormatInt(j.StartDate.Unix(), 10),
			strconv.Itoa(j.RemainingFiles),
			strconv.FormatInt(j.RemainingBytes, 10),
		})
	}
	tableprint.Write(os.Stdout, table)
	return nil
}

func runRestoreStatus(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	jobID, err := latestOrArgJobID(cat, args)
	if err != nil {
		return err
	}

	stage := newRestoreStage(cat, buildLib())
	total, remaining, err := stage.Status(jobID)
	if err != nil {
		return fmt.Errorf("restore status: %w", err)
	}

	fmt.Printf("job %d: %d/%d files restored, %d bytes remaining across %d tapes\n",
		jobID, total.Count-remaining.Count, total.Count, remaining.TotalSize, remaining.DistinctTape)

	if restoreVerbose {
		files, err := cat.RestoreJobFiles(jobID, nil, nil)
		if err != nil {
			return fmt.Errorf("restore status files: %w", err)
		}
		table := tableprint.Table{Headers: []string{"path", "size"}}
		for _, f := range files {
			size := int64(0)
			if f.FileSize != nil {
				size = *f.FileSize
			}
			table.Rows = append(table.Rows, []string{f.Path, strconv.FormatInt(size, 10)})
		}
		tableprint.Write(os.Stdout, table)
	}
	return nil
}

func latestOrArgJobID(cat *catalog.Catalog, args []string) (int64, error) {
	if len(args) == 1 {
		return strconv.ParseInt(args[0], 10, 64)
	}
	job, err := cat.RestoreJobLatest()
	if err != nil {
		return 0, fmt.Errorf("look up latest restore job: %w", err)
	}
	return job.ID, nil
}

func printTapeRemaining(remaining []restore.TapeRemaining) {
	for _, r := range remaining {
		fmt.Printf("load next: tape %s (%d files, %d bytes)\n", r.Label, r.Count, r.Bytes)
	}
}

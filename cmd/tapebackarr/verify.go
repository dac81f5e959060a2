package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	verifyTape  string
	verifyFile  string
	verifyCount int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-read a sample of written files and compare their hash against the catalog",
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyTape, "tape", "", "verify every file currently on this tape label")
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "verify a sample of files matching this glob pattern")
	verifyCmd.Flags().IntVar(&verifyCount, "count", 0, "number of matching files to sample (with --file)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	lib := buildLib()
	stage := newWriteStage(cat, lib)

	labels := map[string]bool{}
	if verifyTape != "" {
		labels[verifyTape] = true
	} else if verifyFile != "" {
		files, err := cat.FilesMatching([]string{verifyFile}, "", nil)
		if err != nil {
			return fmt.Errorf("match files: %w", err)
		}
		n := verifyCount
		if n <= 0 || n > len(files) {
			n = len(files)
		}
		for _, f := range files[:n] {
			if f.TapeID == nil {
				continue
			}
			label, err := cat.TapeLabelByID(*f.TapeID)
			if err == nil {
				labels[label] = true
			}
		}
	} else {
		return fmt.Errorf("verify requires --tape or --file")
	}

	if len(labels) == 0 {
		fmt.Println("nothing to verify")
		return nil
	}

	for label := range labels {
		tape, err := cat.EnsureTape(label)
		if err != nil {
			return fmt.Errorf("look up tape %s: %w", label, err)
		}
		if err := stage.VerifySample(ctx, tape); err != nil {
			fmt.Fprintf(os.Stderr, "verification failed for tape %s: %v\n", label, err)
			os.Exit(1)
		}
		fmt.Printf("tape %s: verified ok\n", label)
	}
	return nil
}

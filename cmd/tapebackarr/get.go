package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/ingest"
)

var getFilelist string

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Ingest source files into the catalog",
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getFilelist, "filelist", "f", "", "restrict ingest to the relative paths listed in this file")
	rootCmd.AddCommand(getCmd)
}

// filterLister wraps a Lister, keeping only paths present in allow.
type filterLister struct {
	ingest.Lister
	allow map[string]bool
}

func (f *filterLister) List(ctx context.Context) ([]string, error) {
	paths, err := f.Lister.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		if f.allow[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	stage := newIngestStage(cat)

	if getFilelist != "" {
		allow, err := readAllowlist(getFilelist)
		if err != nil {
			return fmt.Errorf("read filelist: %w", err)
		}
		stage.Lister = &filterLister{Lister: stage.Lister, allow: allow}
		stage.SkipDeletionDetection = true
	}

	result, err := stage.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Printf("downloaded=%d skipped=%d failed=%d deleted=%d\n",
		result.Downloaded, result.Skipped, result.Failed, result.Deleted)
	if result.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

func readAllowlist(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	allow := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			allow[line] = true
		}
	}
	return allow, scanner.Err()
}

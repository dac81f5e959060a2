package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write encrypted files onto the currently loaded tape",
	RunE:  runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	lib := buildLib()
	stage := newWriteStage(cat, lib)
	result, err := stage.Run(ctx)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	fmt.Printf("written=%d tapes_sealed=%d\n", result.FilesWritten, result.TapesSealed)
	return nil
}

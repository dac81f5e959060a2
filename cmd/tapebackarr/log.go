package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/logrotate"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log file maintenance",
}

var logRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Gzip-compress the current log files",
	RunE:  runLogRotate,
}

var logRemoveDebugCmd = &cobra.Command{
	Use:   "remove_debug",
	Short: "Strip debug-level lines from the current log files",
	RunE:  runLogRemoveDebug,
}

func init() {
	logCmd.AddCommand(logRotateCmd, logRemoveDebugCmd)
	rootCmd.AddCommand(logCmd)
}

func logDir() string {
	return filepath.Dir(cfg.Logging.OutputPath)
}

func runLogRotate(cmd *cobra.Command, args []string) error {
	rotated, err := logrotate.Rotate(logDir())
	if err != nil {
		return fmt.Errorf("rotate logs: %w", err)
	}
	for _, name := range rotated {
		fmt.Println(name)
	}
	return nil
}

func runLogRemoveDebug(cmd *cobra.Command, args []string) error {
	cleaned, err := logrotate.RemoveDebug(logDir())
	if err != nil {
		return fmt.Errorf("remove debug lines: %w", err)
	}
	for _, name := range cleaned {
		fmt.Println(name)
	}
	return nil
}

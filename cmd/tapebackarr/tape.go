package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/tableprint"
)

var tapeCmd = &cobra.Command{
	Use:   "tape",
	Short: "Tape library inspection",
}

var tapeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "List changer slots and their tape labels",
	RunE:  runTapeInfo,
}

var tapeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show drive status and free space on the loaded tape",
	RunE:  runTapeStatus,
}

func init() {
	tapeCmd.AddCommand(tapeInfoCmd, tapeStatusCmd)
	rootCmd.AddCommand(tapeCmd)
}

func runTapeInfo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib := buildLib()
	slots, err := lib.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("inventory: %w", err)
	}

	table := tableprint.Table{Headers: []string{"slot", "barcode", "empty"}}
	for _, s := range slots {
		table.Rows = append(table.Rows, []string{strconv.Itoa(s.Number), s.Barcode, strconv.FormatBool(s.IsEmpty)})
	}
	tableprint.Write(os.Stdout, table)
	return nil
}

func runTapeStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib := buildLib()
	status, err := lib.Status(ctx)
	if err != nil {
		return fmt.Errorf("drive status: %w", err)
	}
	fmt.Printf("online=%v density=%s lto_type=%s\n", status.Online, status.Density, status.LTOType)

	free, err := lib.FreeSpace()
	if err == nil {
		fmt.Printf("used=%d free=%d total=%d\n", free.Used, free.Free, free.Total)
	}
	return nil
}

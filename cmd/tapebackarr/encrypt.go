package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt downloaded files ready for the write stage",
	RunE:  runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	stage := newEncryptStage(cat)
	result, err := stage.Run(ctx)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	fmt.Printf("encrypted=%d failed=%d\n", result.Encrypted, result.Failed)
	if result.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

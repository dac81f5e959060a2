package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/statusapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only HTTP status server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	api := statusapi.New(cat, cfg.StatusAPI.JWTSecret, log)
	addr := net.JoinHostPort(cfg.StatusAPI.Host, strconv.Itoa(cfg.StatusAPI.Port))

	srv := &http.Server{
		Addr:    addr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

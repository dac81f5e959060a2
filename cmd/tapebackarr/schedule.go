package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the ingest/encrypt/write pipeline on a cron schedule",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Block, running the pipeline on the configured cron expression",
	RunE:  runScheduleRun,
}

var scheduleRunNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Run the pipeline once, immediately",
	RunE:  runScheduleRunNow,
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cron expression and last pipeline run time (run history is not persisted; a fresh process reports never)",
	RunE:  runScheduleStatus,
}

func init() {
	scheduleCmd.AddCommand(scheduleRunCmd, scheduleRunNowCmd, scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// pipeline runs one full ingest -> encrypt -> write cycle, the unit the
// scheduler repeats on the configured cron expression.
func pipeline(ctx context.Context) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	if _, err := newIngestStage(cat).Run(ctx); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if _, err := newEncryptStage(cat).Run(ctx); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if _, err := newWriteStage(cat, buildLib()).Run(ctx); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := scheduler.NewService(cfg.Schedule.Cron, pipeline, log)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	svc.Start()
	<-ctx.Done()
	svc.Stop()
	return nil
}

func runScheduleRunNow(cmd *cobra.Command, args []string) error {
	svc, err := scheduler.NewService(cfg.Schedule.Cron, pipeline, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	if err := svc.RunNow(); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	fmt.Println("pipeline run complete")
	return nil
}

func runScheduleStatus(cmd *cobra.Command, args []string) error {
	svc, err := scheduler.NewService(cfg.Schedule.Cron, pipeline, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	last, lastErr := svc.LastRun()
	if last.IsZero() {
		fmt.Printf("cron=%s last run=never\n", cfg.Schedule.Cron)
		return nil
	}
	fmt.Printf("cron=%s last run=%s\n", cfg.Schedule.Cron, last.Format("2006-01-02T15:04:05Z07:00"))
	if lastErr != nil {
		fmt.Printf("last run error: %v\n", lastErr)
	}
	return nil
}

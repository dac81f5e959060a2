package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/tableprint"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Catalog maintenance",
}

var dbRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair stale catalog state (broken downloads, broken encrypts, missing cipher files)",
	RunE:  runDBRepair,
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the catalog into database-backup-git-path",
	RunE:  runDBBackup,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-table row and column statistics",
	RunE:  runDBStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the catalog schema",
	RunE:  runDBMigrate,
}

func init() {
	dbCmd.AddCommand(dbRepairCmd, dbBackupCmd, dbStatusCmd, dbMigrateCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBRepair(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	stage := newRepairStage(cat)
	stage.In = os.Stdin
	stage.Out = os.Stdout

	result, err := stage.Run()
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	fmt.Printf("broken downloads deleted=%d broken encrypts cleared=%d missing cipher files deleted=%d\n",
		result.BrokenDownloadsDeleted, result.BrokenEncryptsCleared, result.MissingCipherDeleted)
	return nil
}

func runDBBackup(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	path, err := cat.Backup(cfg.DBBackupPath, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Println(path)
	return nil
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(false)
	if err != nil {
		return err
	}
	defer cat.Close()

	tables, err := cat.Tables()
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	table := tableprint.Table{Headers: []string{"table", "rows"}}
	for _, name := range tables {
		rows, err := cat.TotalRows(name)
		if err != nil {
			return fmt.Errorf("count rows in %s: %w", name, err)
		}
		table.Rows = append(table.Rows, []string{name, strconv.Itoa(rows)})
	}
	tableprint.Write(os.Stdout, table)

	for _, name := range tables {
		cols, err := cat.ColumnInfos(name)
		if err != nil {
			return fmt.Errorf("column info for %s: %w", name, err)
		}
		fmt.Printf("\n%s:\n", name)
		colTable := tableprint.Table{Headers: []string{"column", "type", "non-null"}}
		for _, c := range cols {
			colTable.Rows = append(colTable.Rows, []string{c.Name, c.Type, strconv.Itoa(c.NonNullCount)})
		}
		tableprint.Write(os.Stdout, colTable)
	}
	return nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(true)
	if err != nil {
		return err
	}
	defer cat.Close()
	fmt.Println("catalog schema up to date")
	return nil
}

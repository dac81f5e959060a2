// Command tapebackarr drives the tape-backup pipeline described in
// spec.md: ingest, encrypt, write, restore, repair and the surrounding
// maintenance subcommands, wired together behind a cobra CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RoseOO/tapebackarr/internal/config"
	"github.com/RoseOO/tapebackarr/internal/logging"
)

var (
	version = "dev"

	cfgFile    string
	flagDebug  bool
	flagInfo   bool
	flagQuiet  bool
	flagLocal  bool
	flagDB     string
	flagServer string
	flagData   string
	flagLib    string
	flagDrive  string
	flagMount  string

	flagInitConfig bool

	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:     "tapebackarr",
	Short:   "Catalog-driven LTO tape backup pipeline",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadRuntime()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/tapebackarr/config.yml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&flagInfo, "info", false, "log at info level")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "log at error level only")
	rootCmd.PersistentFlags().BoolVar(&flagLocal, "local", false, "treat local-data-dir as the source, never delete plaintext")
	rootCmd.PersistentFlags().StringVarP(&flagDB, "database", "D", "", "override database path")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "override remote server")
	rootCmd.PersistentFlags().StringVarP(&flagData, "data-dir", "d", "", "override local data dir")
	rootCmd.PersistentFlags().StringVarP(&flagLib, "tapelib", "l", "", "override tape changer device")
	rootCmd.PersistentFlags().StringVarP(&flagDrive, "tapedrive", "t", "", "override tape drive device")
	rootCmd.PersistentFlags().StringVarP(&flagMount, "tape-mount", "m", "", "override tape mount dir")
	rootCmd.PersistentFlags().BoolVar(&flagInitConfig, "init-config", false, "write a default config file to --config and exit")

	rootCmd.SetVersionTemplate("tapebackarr {{.Version}}\n")
	rootCmd.Flags().BoolP("version", "v", false, "print version and exit")
}

// loadRuntime loads the config file, applies global flag overrides, and
// opens the logger, ready for whichever subcommand's RunE runs next.
func loadRuntime() error {
	if flagInitConfig {
		if err := config.DefaultConfig().Save(cfgFile); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		fmt.Printf("wrote default config to %s\n", cfgFile)
		os.Exit(0)
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if flagDB != "" {
		cfg.Database = flagDB
	}
	if flagServer != "" {
		cfg.Remote.Server = flagServer
	}
	if flagData != "" {
		cfg.Local.DataDir = flagData
	}
	if flagLib != "" {
		cfg.Devices.TapeLib = flagLib
	}
	if flagDrive != "" {
		cfg.Devices.TapeDrive = flagDrive
	}
	if flagMount != "" {
		cfg.Local.TapeMountDir = flagMount
	}

	level := cfg.Logging.Level
	switch {
	case flagDebug:
		level = "debug"
	case flagInfo:
		level = "info"
	case flagQuiet:
		level = "error"
	}

	l, err := logging.NewLogger(level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		return fmt.Errorf("open logger: %w", err)
	}
	log = l
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

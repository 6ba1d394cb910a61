// Package cli provides the command-line interface for fib-targets.
package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fib-targets/internal/config"
	"fib-targets/internal/logging"
	"fib-targets/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-14"
)

// skipConfig marks commands that run without loading config.toml.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store *store.SQLiteStore
}

// OpenStore opens the SQLite store at path, or at the configured path when
// path is empty. The store is opened once and closed by Close.
func (a *App) OpenStore(path string) (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if path == "" {
		path = a.Config.Store.Path
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", path).Msg("SQLite store opened")
	a.store = st
	return st, nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "fibtargets",
		Short: "Fibonacci retracement targets from confirmed swings",
		Long: `fibtargets finds confirmed swing highs and lows in OHLC bars and draws
Fibonacci retracement target zones between opposing swings.

Bars are read from CSV files (symbol,time,open,high,low,close,volume) or
from the local store. Zones can be persisted to SQLite, published to NATS
and served over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Logging.Level = "debug"
				logging.SetDebugLevel()
			}
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fib-targets)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newZonesCmd(app))
	rootCmd.AddCommand(newSignalsCmd(app))
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

// Execute runs the root command and prints any error.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		errOut := &Output{writer: cmd.ErrOrStderr()}
		errOut.Error("Error: %v", err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("fibtargets v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default config.toml",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			force, _ := cmd.Flags().GetBool("force")
			path, err := config.WriteTemplate(dir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing config.toml")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Dir})
			} else {
				output.Println(app.Config.Dir)
			}
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	e := cfg.Engine
	output.Bold("Engine")
	output.Printf("  Swing strength:       %d\n", e.SwingStrength)
	output.Printf("  Predictive strength:  %d (enabled: %s)\n", e.PredictiveSwingStrength, YesNo(e.UsePredictiveRetracements))
	output.Printf("  Min swing length:     %s\n", FormatPrice(e.MinSwingLength, 2))
	output.Printf("  Fib band:             %.1f%% - %.1f%%\n", e.LowFibPercent, e.HighFibPercent)
	output.Printf("  Require swing trend:  %s\n", YesNo(e.RequireSwingTrend))
	output.Printf("  Target width:         %d bars\n", e.FibTargetWidth)
	output.Printf("  Max bars lookback:    %d\n", e.MaxBarsLookBack)
	output.Println()

	output.Bold("Session")
	output.Printf("  Timezone:             %s\n", cfg.Session.Timezone)
	output.Printf("  Start:                %s\n", cfg.Session.Start)
	output.Println()

	output.Bold("Storage & Transport")
	output.Printf("  Store:                %s\n", cfg.Store.Path)
	output.Printf("  NATS:                 %s (%s, prefix %q)\n", YesNo(cfg.NATS.Enabled), cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	output.Printf("  API:                  %s\n", cfg.API.Addr)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:                %s\n", cfg.Logging.Level)
	output.Printf("  File:                 %s\n", fileLogTarget(cfg))
}

func fileLogTarget(cfg *config.Config) string {
	if !cfg.Logging.File {
		return "off"
	}
	return strings.TrimSpace(cfg.Logging.FilePath)
}

// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 9:40:12 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/app"
	"github.com/ternarybob/portalx/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files override earlier ones
	portalName  string
	headed      bool

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "portalx",
	Short:         "Insurance portal eligibility and claims extraction",
	Long:          `Drives a browser session against insurance provider portals to extract patient eligibility and claims history as JSON.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return setup(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	rootCmd.PersistentFlags().StringVarP(&portalName, "portal", "p", "", "Portal to use (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headed, "headed", false, "Show the browser window")

	rootCmd.AddCommand(extractCmd, batchCmd, loginCmd, forgetCmd, versionCmd)
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("Command failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup runs the startup sequence in order: config (defaults -> files -> env),
// CLI overrides, logger, banner
func setup(cmd *cobra.Command) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("portalx.toml"); err == nil {
			configFiles = append(configFiles, "portalx.toml")
		} else if _, err := os.Stat("deployments/local/portalx.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/portalx.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var headless *bool
	if cmd.Flags().Changed("headed") {
		h := !headed
		headless = &h
	}
	common.ApplyFlagOverrides(config, portalName, headless)

	logger = common.SetupLogger(config)
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	return nil
}

// newApp builds the application for one command run
func newApp() (*app.App, error) {
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// signalContext is cancelled on Ctrl+C so the browser is always closed
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// progressLine prints pipeline steps for the operator on stderr, keeping stdout for results
func progressLine(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

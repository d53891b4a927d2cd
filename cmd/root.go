/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/cleanup"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/usage"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/buildinfo"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/config"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/exitcode"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/storyblok"
	"github.com/spf13/cobra"
)

// newRootCommand creates a fresh root command instance.
// Tests build their own tree through it so no flag state leaks between runs.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storyblok-assets-cleanup",
		Short: "Find and remove unused assets from a Storyblok space",
		Long: `storyblok-assets-cleanup scans every story of a Storyblok space, works out which
assets are no longer referenced and optionally backs them up and deletes them.

Nothing is deleted unless --delete is given. Backups are on by default.

Examples:
   storyblok-assets-cleanup report --space-id 12345
   storyblok-assets-cleanup cleanup --delete --ignore-path /brand
   storyblok-assets-cleanup cache show --space-id 12345`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().String("config", "", "Config file (default ./storyblok-cleanup.yaml)")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("storyblok-assets-cleanup {{.Version}}\n")

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newCleanupCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newCacheCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func init() {
	registerSubcommands(rootCmd)
}

// Execute runs the root command and exits with a code describing the failure.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Error("Command execution failed", logger.Err(err))
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	var netErr *storyblok.NetworkError
	var rateErr *storyblok.RateLimitError
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, context.Canceled):
		return exitcode.Interrupted
	case errors.Is(err, cleanup.ErrAborted):
		return exitcode.PipelineAborted
	case errors.Is(err, config.ErrInvalid):
		return exitcode.ConfigError
	case errors.Is(err, storyblok.ErrUnauthorized):
		return exitcode.AuthError
	case errors.Is(err, storyblok.ErrNotFound):
		// The space itself is missing; everything below it is handled in the pipeline.
		return exitcode.ConfigError
	case errors.As(err, &netErr), errors.As(err, &rateErr):
		return exitcode.NetworkError
	case usage.IsInvalid(err):
		return exitcode.CacheError
	case errors.As(err, &pathErr):
		return exitcode.FileSystemError
	default:
		return exitcode.GeneralError
	}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg := logger.Config{
		Level:     logger.ParseLevel(logLevelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "storyblok-cleanup",
	}

	if err := logger.Initialize(cfg); err != nil {
		_, _ = os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(exitcode.ConfigError)
	}
}

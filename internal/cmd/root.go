// Package cmd implements the acpx CLI commands: thin cobra wrappers that
// parse flags and call straight into the Session Runtime Facade
// (spec.md §4.8, SPEC_FULL.md §1.1).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acpxdev/acpx/internal/config"
	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/logging"
	"github.com/acpxdev/acpx/internal/runtime"
	"github.com/acpxdev/acpx/internal/store"
)

// Version info, set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	configFile string
	debug      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "acpx",
	Short: "acpx - a headless client for Agent Client Protocol agents",
	Long:  `Drive ACP-speaking coding agents from the command line, with session persistence and a queued prompt pipeline.`,
}

// Execute runs the root command, returning an *errs.Error's exit code
// (spec.md §6.5) when appropriate.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if e := errs.As(err); e != nil {
			if !e.OutputAlreadyEmitted {
				fmt.Fprintln(os.Stderr, e.Error())
			}
			return e.Code.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return errs.ExitError
	}
	return errs.ExitSuccess
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to acpx config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit newline-delimited JSON instead of rendered text")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(serveEventsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runOwnerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("acpx %s\n", Version)
		if Version != "dev" {
			fmt.Printf("  commit: %s\n", Commit)
			fmt.Printf("  built:  %s\n", Date)
		}
	},
}

// newFacade resolves config and builds a Session Runtime Facade, shared
// setup every subcommand that touches a session goes through.
func newFacade() (*runtime.Facade, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, errs.New(errs.CodeUsage, errs.OriginCLI, "load config: "+err.Error())
	}

	var logOpts logging.Options
	logOpts.Debug = debug
	logger := logging.New(logOpts)
	zap.ReplaceGlobals(logger)

	st := store.New(cfg.SessionsDir())
	return runtime.New(st, cfg, logger), nil
}

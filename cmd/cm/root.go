package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
)

var (
	// Global flags
	jsonOut bool
	verbose bool
	cfgFile string
)

// activeJSON mirrors the resolved output mode so the error path works
// even when config loading itself failed.
var activeJSON bool

// activeCommand names the command being run, for the error envelope.
var activeCommand = "cm"

// diag is the process-wide diagnostic logger. Command output (tables,
// envelopes) goes to stdout; diag carries warnings and degradation
// notices on stderr.
var diag = zerolog.Nop()

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cm",
	Short: "Local learning memory for coding agents",
	Long: `cm maintains a curated playbook of rules that coding agents learn
across sessions, plus the reflection pipeline that keeps it honest.

Core Commands:
  context      Assemble pre-task context from the playbook and history
  reflect      Distill finished sessions into playbook updates
  playbook     List, inspect, and hand-edit the rule collection
  feedback     Record that a rule helped or hurt a session
  outcome      Record how a session went
  guard        Check commands against the trauma list
  doctor       Diagnose the local installation

State lives in ~/.cass-memory/ with optional per-repo overlays under
<repo>/.cass/. Every command works without the history indexer and
without an API key; features degrade instead of failing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits the process with the command's code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(activeCommand, err))
	}
}

func init() {
	// Assigned here rather than in the composite literal: commandField
	// reads rootCmd.Name(), which would otherwise be an init cycle.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		activeJSON = jsonOut
		activeCommand = commandField(cmd)
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit the JSON envelope instead of human output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable diagnostic logging on stderr")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.cass-memory/config.json)")
}

// loadConfig resolves the layered configuration and configures the
// diagnostic logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(&config.Flags{
		ConfigPath: cfgFile,
		JSON:       jsonOut,
		Verbose:    verbose,
	})
	if err != nil {
		return nil, err
	}
	activeJSON = cfg.JSONOutput

	level := zerolog.WarnLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	diag = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	return cfg, nil
}

// openStore builds the store for a loaded config.
func openStore(cfg *config.Config) *storage.Store {
	return storage.New(cfg, storage.WithLogger(diag))
}

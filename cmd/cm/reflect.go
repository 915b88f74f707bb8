package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/cost"
	"github.com/Dicklesworthstone/cass-memory-system/internal/oracle"
	"github.com/Dicklesworthstone/cass-memory-system/internal/reflection"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var (
	reflectSession     string
	reflectDays        int
	reflectDryRun      bool
	reflectMaxSessions int
)

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Distill finished sessions into playbook updates",
	Long: `Run the reflection pipeline: discover unprocessed sessions, diarize
each one, extract proposed rule changes, validate them against recorded
history, and merge the survivors into the playbook.

Discovery uses the history indexer when available and falls back to
scanning the configured agent transcript directories. Sessions already
in the processed log are skipped. Each run writes a report under
~/.cass-memory/reflections/.

Examples:
  cm reflect                       # everything new in the lookback window
  cm reflect --session ~/.claude/projects/api/chat.jsonl
  cm reflect --days 7 --max-sessions 5
  cm reflect --dry-run             # show proposals, write nothing`,
	RunE: runReflect,
}

func init() {
	rootCmd.AddCommand(reflectCmd)
	reflectCmd.Flags().StringVar(&reflectSession, "session", "", "Process one explicit session file, bypassing discovery")
	reflectCmd.Flags().IntVar(&reflectDays, "days", 0, "Discovery lookback window in days (default from config)")
	reflectCmd.Flags().BoolVar(&reflectDryRun, "dry-run", false, "Extract and validate but write nothing")
	reflectCmd.Flags().IntVar(&reflectMaxSessions, "max-sessions", 0, "Cap on sessions per run")
}

func runReflect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OracleDisabled() {
		return fmt.Errorf("reflection needs an LLM; unset CASS_MEMORY_LLM or set provider in config: %w", types.ErrValidation)
	}

	ex, err := oracle.New(cfg)
	if err != nil {
		return err
	}
	adapter, err := cass.New(cfg, cass.WithLogger(diag))
	if err != nil {
		return err
	}

	store := openStore(cfg)
	if err := store.Init(); err != nil {
		return err
	}

	meter := cost.NewMeter(cost.NewLedger(cfg.UsageLogPath()), "reflect", cfg.Budget.MaxUSDPerReflection)
	pipe := reflection.New(cfg, store, ex, adapter,
		reflection.WithLogger(diag),
		reflection.WithMeter(meter),
	)

	report, err := pipe.Run(cmd.Context(), reflection.RunOptions{
		SessionPath: reflectSession,
		Days:        reflectDays,
		MaxSessions: reflectMaxSessions,
		DryRun:      reflectDryRun,
	})
	if err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, report)
	}
	printReflectReport(report)
	return nil
}

func printReflectReport(r *reflection.Report) {
	if r.DryRun {
		fmt.Println("[dry-run] No changes written.")
	}
	if len(r.Sessions) == 0 {
		fmt.Println("Nothing to reflect on: no unprocessed sessions in the lookback window.")
		return
	}

	fmt.Printf("Reflected on %d session(s):\n", len(r.Sessions))
	for _, s := range r.Sessions {
		if s.Error != "" {
			fmt.Printf("  ✗ %s: %s\n", s.SessionPath, s.Error)
			continue
		}
		fmt.Printf("  ✓ %s: %d delta(s) over %d oracle round(s)", s.SessionPath, s.Deltas, s.Iterations)
		if s.Gated > 0 {
			fmt.Printf(", %d gated", s.Gated)
		}
		fmt.Println()
	}

	fmt.Println()
	fmt.Printf("Applied: %d  Skipped: %d  Inversions: %d\n", r.Applied, r.Skipped, r.Inversions)
	fmt.Printf("Cost: $%.4f  Duration: %dms\n", r.CostUSD, r.DurationMS)
}

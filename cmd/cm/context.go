package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/assembler"
	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
)

var (
	contextWorkspace  string
	contextDays       int
	contextMaxBullets int
	contextMaxHistory int
	contextNoHistory  bool
)

var contextCmd = &cobra.Command{
	Use:   "context <task>",
	Short: "Assemble pre-task context from the playbook and history",
	Long: `Rank playbook rules against a task description and bundle them with
related history snippets into a context block for the agent.

Ranking is keyword overlap weighted by each rule's effective score, so
proven rules outrank fresh ones and net-harmful rules drop out. When the
history indexer is unavailable the bundle degrades to playbook-only.

Examples:
  cm context "add retry logic to the uploader"
  cm context "fix flaky CI" --workspace ~/src/api --days 14
  cm context "refactor config" --no-history --json`,
	Args: cobra.ExactArgs(1),
	RunE: runContext,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().StringVar(&contextWorkspace, "workspace", "", "Restrict history search to one workspace")
	contextCmd.Flags().IntVar(&contextDays, "days", 0, "History lookback window in days")
	contextCmd.Flags().IntVar(&contextMaxBullets, "max-bullets", 0, "Cap on ranked rules (default from config)")
	contextCmd.Flags().IntVar(&contextMaxHistory, "max-history", 0, "Cap on history snippets (default from config)")
	contextCmd.Flags().BoolVar(&contextNoHistory, "no-history", false, "Skip the history search entirely")
}

func runContext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	adapter, err := cass.New(cfg, cass.WithLogger(diag))
	if err != nil {
		return err
	}

	asm := assembler.New(cfg, store, adapter, assembler.WithLogger(diag))
	bundle, err := asm.Assemble(cmd.Context(), args[0], assembler.Options{
		Workspace:  contextWorkspace,
		Days:       contextDays,
		MaxBullets: contextMaxBullets,
		MaxHistory: contextMaxHistory,
		NoHistory:  contextNoHistory,
	})
	if err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, bundle)
	}
	printContext(bundle)
	return nil
}

func printContext(c *assembler.Context) {
	fmt.Printf("# Context: %s\n", c.Task)

	if len(c.RelevantBullets) > 0 {
		fmt.Printf("\n## Rules (%d)\n", len(c.RelevantBullets))
		for _, b := range c.RelevantBullets {
			printRankedBullet(b)
		}
	}

	if len(c.AntiPatterns) > 0 {
		fmt.Printf("\n## Anti-patterns (%d)\n", len(c.AntiPatterns))
		for _, b := range c.AntiPatterns {
			printRankedBullet(b)
		}
	}

	if len(c.DeprecatedWarnings) > 0 {
		fmt.Println("\n## Deprecated")
		for _, w := range c.DeprecatedWarnings {
			line := w.Pattern
			if w.Replacement != "" {
				line += " -> " + w.Replacement
			}
			if w.Reason != "" {
				line += " (" + w.Reason + ")"
			}
			fmt.Printf("  %s\n", line)
		}
	}

	if len(c.HistorySnippets) > 0 {
		fmt.Printf("\n## History (%d)\n", len(c.HistorySnippets))
		for _, h := range c.HistorySnippets {
			fmt.Printf("  %s: %s\n", h.SourcePath, strings.ReplaceAll(h.Snippet, "\n", " "))
		}
	}

	if len(c.SuggestedQueries) > 0 {
		fmt.Println("\n## Suggested follow-up searches")
		for _, q := range c.SuggestedQueries {
			fmt.Printf("  cass search %q\n", q)
		}
	}
}

func printRankedBullet(b assembler.RankedBullet) {
	fmt.Printf("  %s %-22s [%s] %s  (score %.1f, +%d/-%d)\n",
		scoring.MaturityGlyph(b.Maturity), b.ID, b.Category, b.Content,
		b.Score, b.HelpfulCount, b.HarmfulCount)
}

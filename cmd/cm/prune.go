package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/curation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Retire stale and harmful rules",
	Long: `Run the pruning pass over the global playbook: retire rules whose
decayed harmful mass crossed the prune threshold (inverting them into
AVOID anti-patterns) and candidates that have gone stale without ever
earning feedback. Pinned rules are exempt. Retired rules are kept as
tombstones, never deleted.

Examples:
  cm prune --dry-run    # show what would be retired
  cm prune`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Show what would be retired without writing")
}

// pruneReport is the command's data payload.
type pruneReport struct {
	DryRun     bool                   `json:"dryRun,omitempty"`
	Pruned     []curation.PruneAction `json:"pruned"`
	Inversions int                    `json:"inversions"`
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	curator := curation.New(cfg.ScoringParams(), curation.WithLogger(diag))

	var res curation.PruneResult
	if pruneDryRun {
		pb, err := store.LoadPlaybook(cfg.GlobalPlaybookPath())
		if err != nil {
			return err
		}
		res = curator.Prune(pb, cfg.StaleAfterDays)
	} else {
		if _, err := store.MutatePlaybook(cfg.GlobalPlaybookPath(), "prune", func(pb *types.Playbook) error {
			res = curator.Prune(pb, cfg.StaleAfterDays)
			*pb = *res.Playbook
			return nil
		}); err != nil {
			return err
		}
		appendInversionToxics(store, res.Playbook, res.Inversions)
	}

	report := pruneReport{
		DryRun:     pruneDryRun,
		Pruned:     res.Pruned,
		Inversions: len(res.Inversions),
	}
	if report.Pruned == nil {
		report.Pruned = []curation.PruneAction{}
	}

	if activeJSON {
		return emitData(cmd, report)
	}

	prefix := ""
	if pruneDryRun {
		prefix = "[dry-run] Would retire"
	} else {
		prefix = "Retired"
	}
	if len(report.Pruned) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	for _, p := range report.Pruned {
		fmt.Printf("%s %s: %s (%s)\n", prefix, p.ID, p.Content, p.Reason)
	}
	for _, anti := range res.Inversions {
		fmt.Printf("  Inverted into %s: %s\n", anti.ID, anti.Content)
	}
	fmt.Printf("\n%d rule(s) retired, %d inversion(s)\n", len(report.Pruned), report.Inversions)
	return nil
}

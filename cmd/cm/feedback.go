package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/curation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var (
	feedbackHelpful bool
	feedbackHarmful bool
	feedbackSession string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <bullet-id>",
	Short: "Record that a rule helped or hurt a session",
	Long: `Append a feedback event to a rule and recompute its maturity.

Helpful feedback accumulates toward promotion (candidate, established,
proven). Harmful feedback is weighted heavier than helpful and can
demote a rule or, past the prune threshold, retire and invert it into
an AVOID anti-pattern.

Examples:
  cm feedback b-1718822400000-a1b2c3d4 --helpful
  cm feedback b-1718822400000-a1b2c3d4 --harmful --session ~/.claude/projects/api/chat.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.Flags().BoolVar(&feedbackHelpful, "helpful", false, "The rule helped")
	feedbackCmd.Flags().BoolVar(&feedbackHarmful, "harmful", false, "The rule hurt")
	feedbackCmd.Flags().StringVar(&feedbackSession, "session", "", "Session the feedback came from")
}

// feedbackResult is the command's data payload.
type feedbackResult struct {
	BulletID     string         `json:"bulletId"`
	Type         string         `json:"type"`
	Maturity     types.Maturity `json:"maturity"`
	State        string         `json:"state"`
	Retired      bool           `json:"retired"`
	HelpfulCount int            `json:"helpfulCount"`
	HarmfulCount int            `json:"harmfulCount"`
	Inversions   int            `json:"inversions,omitempty"`
}

func runFeedback(cmd *cobra.Command, args []string) error {
	bulletID := args[0]

	if feedbackHelpful == feedbackHarmful {
		if feedbackHelpful {
			return fmt.Errorf("--helpful and --harmful are mutually exclusive: %w", types.ErrValidation)
		}
		return fmt.Errorf("one of --helpful or --harmful: %w", errMissingRequired)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	path, err := feedbackTier(store, cfg, bulletID)
	if err != nil {
		return err
	}

	deltaType := types.DeltaHelpful
	if feedbackHarmful {
		deltaType = types.DeltaHarmful
	}
	delta := types.PlaybookDelta{
		Type:          deltaType,
		BulletID:      bulletID,
		SourceSession: feedbackSession,
		Reason:        "manual feedback",
	}

	curator := curation.New(cfg.ScoringParams(), curation.WithLogger(diag))

	var res curation.Result
	var after types.PlaybookBullet
	if _, err := store.MutatePlaybook(path, "feedback", func(pb *types.Playbook) error {
		res = curator.Curate(pb, []types.PlaybookDelta{delta})
		if res.Applied != 1 {
			return fmt.Errorf("no rule with id %s: %w", bulletID, types.ErrValidation)
		}
		*pb = *res.Playbook
		after = pb.FindBullet(bulletID).Clone()
		return nil
	}); err != nil {
		return err
	}
	appendInversionToxics(store, res.Playbook, res.Inversions)

	out := feedbackResult{
		BulletID:     after.ID,
		Type:         string(deltaType),
		Maturity:     after.Maturity,
		State:        string(after.State),
		Retired:      after.IsRetired(),
		HelpfulCount: after.HelpfulCount,
		HarmfulCount: after.HarmfulCount,
		Inversions:   len(res.Inversions),
	}
	if activeJSON {
		return emitData(cmd, out)
	}

	fmt.Printf("✓ Recorded %s feedback for %s\n", out.Type, out.BulletID)
	fmt.Printf("  Feedback: +%d/-%d  Maturity: %s\n", out.HelpfulCount, out.HarmfulCount, out.Maturity)
	if out.Retired {
		fmt.Printf("  Rule retired: %s\n", after.DeprecationReason)
	}
	for _, anti := range res.Inversions {
		fmt.Printf("  Inverted into %s: %s\n", anti.ID, anti.Content)
	}
	return nil
}

// feedbackTier finds which playbook file owns the bullet: the global
// playbook first, then the repo overlay.
func feedbackTier(store *storage.Store, cfg *config.Config, bulletID string) (string, error) {
	globalPath := cfg.GlobalPlaybookPath()
	pb, err := store.LoadPlaybook(globalPath)
	if err != nil {
		return "", err
	}
	if pb.FindBullet(bulletID) != nil {
		return globalPath, nil
	}

	if repoPath := cfg.RepoPlaybookPath(); repoPath != "" {
		if _, statErr := os.Stat(repoPath); statErr == nil {
			repo, err := store.LoadPlaybook(repoPath)
			if err != nil {
				return "", err
			}
			if repo.FindBullet(bulletID) != nil {
				return repoPath, nil
			}
		}
	}
	return "", fmt.Errorf("no rule with id %s: %w", bulletID, types.ErrValidation)
}

// appendInversionToxics records the content of bullets retired by an
// inversion so future adds cannot resurrect them.
func appendInversionToxics(store *storage.Store, pb *types.Playbook, inversions []types.PlaybookBullet) {
	for _, anti := range inversions {
		for i := range pb.Bullets {
			b := &pb.Bullets[i]
			if b.ReplacedBy != anti.ID || !b.IsRetired() {
				continue
			}
			if err := store.AppendToxic(b.Content, "inverted to anti-pattern"); err != nil {
				diag.Warn().Err(err).Msg("toxic log append failed")
			}
		}
	}
}

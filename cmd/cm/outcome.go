package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/curation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var (
	outcomeSession    string
	outcomeResult     string
	outcomeRulesUsed  []string
	outcomeDuration   float64
	outcomeErrorCount int
	outcomeRetries    bool
	outcomeSentiment  string
	outcomeNotes      string
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record how a session went",
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append an outcome record for a finished session",
	Long: `Append one outcome record to the outcomes log and feed the result
back to the rules the session used.

With --rules-used, a success records helpful feedback for each named
rule and a failure records harmful feedback. Mixed and partial outcomes
record no feedback. The outcome record is appended first and stands
even when a feedback update fails.

Examples:
  cm outcome record --outcome success --session ~/.claude/projects/api/chat.jsonl
  cm outcome record --outcome failure --rules-used b-1718-a1,b-1718-b2 --error-count 3
  cm outcome record --outcome mixed --duration 1800 --sentiment frustrated`,
	RunE: runOutcomeRecord,
}

func init() {
	rootCmd.AddCommand(outcomeCmd)
	outcomeCmd.AddCommand(outcomeRecordCmd)

	outcomeRecordCmd.Flags().StringVar(&outcomeSession, "session", "", "Session the outcome belongs to")
	outcomeRecordCmd.Flags().StringVar(&outcomeResult, "outcome", "", "Session result: success, failure, mixed or partial")
	outcomeRecordCmd.Flags().StringSliceVar(&outcomeRulesUsed, "rules-used", nil, "Bullet ids the session used")
	outcomeRecordCmd.Flags().Float64Var(&outcomeDuration, "duration", 0, "Session length in seconds")
	outcomeRecordCmd.Flags().IntVar(&outcomeErrorCount, "error-count", 0, "Errors hit during the session")
	outcomeRecordCmd.Flags().BoolVar(&outcomeRetries, "retries", false, "The session needed retries")
	outcomeRecordCmd.Flags().StringVar(&outcomeSentiment, "sentiment", "", "Mood note (frustrated, smooth)")
	outcomeRecordCmd.Flags().StringVar(&outcomeNotes, "notes", "", "Free-form notes")
}

// outcomeReport is the command's data payload.
type outcomeReport struct {
	Record          types.OutcomeRecord `json:"record"`
	FeedbackApplied int                 `json:"feedbackApplied"`
	FeedbackSkipped int                 `json:"feedbackSkipped"`
	Inversions      int                 `json:"inversions"`
}

func runOutcomeRecord(cmd *cobra.Command, args []string) error {
	if outcomeResult == "" {
		return fmt.Errorf("--outcome: %w", errMissingRequired)
	}
	outcome := types.Outcome(outcomeResult)
	if !types.ValidOutcome(outcome) {
		return fmt.Errorf("outcome must be success, failure, mixed or partial, got %q: %w",
			outcomeResult, types.ErrValidation)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	if err := store.Init(); err != nil {
		return err
	}

	rec := types.OutcomeRecord{
		SessionID:   outcomeSession,
		Outcome:     outcome,
		RulesUsed:   outcomeRulesUsed,
		DurationSec: outcomeDuration,
		ErrorCount:  outcomeErrorCount,
		HadRetries:  outcomeRetries,
		Sentiment:   outcomeSentiment,
		Notes:       outcomeNotes,
		RecordedAt:  time.Now().UTC(),
	}

	// The outcome log is authoritative; it is written before any
	// playbook update and survives a failed one.
	if err := store.AppendOutcome(&rec); err != nil {
		return err
	}

	report := outcomeReport{Record: rec}
	if res, ferr := applyOutcomeFeedback(store, cfg, rec); ferr != nil {
		diag.Warn().Err(ferr).Msg("outcome feedback not applied")
	} else if res != nil {
		report.FeedbackApplied = res.Applied
		report.FeedbackSkipped = res.Skipped
		report.Inversions = len(res.Inversions)
	}

	if activeJSON {
		return emitData(cmd, report)
	}

	fmt.Printf("✓ Recorded %s outcome", rec.Outcome)
	if rec.SessionID != "" {
		fmt.Printf(" for %s", rec.SessionID)
	}
	fmt.Println()
	if len(rec.RulesUsed) > 0 {
		fmt.Printf("  Feedback: %d applied, %d skipped\n", report.FeedbackApplied, report.FeedbackSkipped)
		if report.Inversions > 0 {
			fmt.Printf("  Inversions: %d\n", report.Inversions)
		}
	}
	return nil
}

// applyOutcomeFeedback turns a decisive outcome into feedback events for
// the rules the session reported using. Mixed and partial outcomes are
// not evidence either way, so they record nothing.
func applyOutcomeFeedback(store *storage.Store, cfg *config.Config, rec types.OutcomeRecord) (*curation.Result, error) {
	if len(rec.RulesUsed) == 0 {
		return nil, nil
	}

	var deltaType types.DeltaType
	switch rec.Outcome {
	case types.OutcomeSuccess:
		deltaType = types.DeltaHelpful
	case types.OutcomeFailure:
		deltaType = types.DeltaHarmful
	default:
		return nil, nil
	}

	deltas := make([]types.PlaybookDelta, 0, len(rec.RulesUsed))
	for _, id := range rec.RulesUsed {
		deltas = append(deltas, types.PlaybookDelta{
			Type:          deltaType,
			BulletID:      id,
			SourceSession: rec.SessionID,
			Reason:        "session outcome " + string(rec.Outcome),
		})
	}

	curator := curation.New(cfg.ScoringParams(), curation.WithLogger(diag))

	var res curation.Result
	if _, err := store.MutatePlaybook(cfg.GlobalPlaybookPath(), "outcome record", func(pb *types.Playbook) error {
		res = curator.Curate(pb, deltas)
		*pb = *res.Playbook
		return nil
	}); err != nil {
		return nil, err
	}
	appendInversionToxics(store, res.Playbook, res.Inversions)
	return &res, nil
}

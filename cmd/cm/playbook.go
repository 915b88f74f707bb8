package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/curation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var (
	playbookListAll      bool
	playbookListCategory string

	playbookAddCategory  string
	playbookAddScope     string
	playbookAddWorkspace string
	playbookAddKind      string
	playbookAddTags      []string
	playbookAddNegative  bool
)

var playbookCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Inspect and edit the rule collection",
	Long: `Work with the merged playbook: the global rules plus the repo overlay
when run inside a repository.

Subcommands:
  list    Rules ranked by effective score
  show    Full detail for one rule
  stats   Score distribution and lifecycle counts
  add     Hand-write a new rule`,
}

var playbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules ranked by effective score",
	RunE:  runPlaybookList,
}

var playbookShowCmd = &cobra.Command{
	Use:   "show <bullet-id>",
	Short: "Show one rule in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaybookShow,
}

var playbookStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show score distribution and lifecycle counts",
	RunE:  runPlaybookStats,
}

var playbookAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Hand-write a new rule",
	Long: `Add a rule to the global playbook without going through reflection.

The rule starts in the draft state as a candidate, exactly like an
oracle-proposed rule that has not yet earned feedback.

Examples:
  cm playbook add "Run the linter before every commit" --category workflow
  cm playbook add "Prefer table-driven tests" --category testing --tags go,style
  cm playbook add "Use the staging bucket for uploads" --scope workspace`,
	Args: cobra.ExactArgs(1),
	RunE: runPlaybookAdd,
}

func init() {
	rootCmd.AddCommand(playbookCmd)
	playbookCmd.AddCommand(playbookListCmd)
	playbookCmd.AddCommand(playbookShowCmd)
	playbookCmd.AddCommand(playbookStatsCmd)
	playbookCmd.AddCommand(playbookAddCmd)

	playbookListCmd.Flags().BoolVar(&playbookListAll, "all", false, "Include retired rules")
	playbookListCmd.Flags().StringVar(&playbookListCategory, "category", "", "Only rules in this category")

	playbookAddCmd.Flags().StringVar(&playbookAddCategory, "category", "general", "Taxonomy tag for the rule")
	playbookAddCmd.Flags().StringVar(&playbookAddScope, "scope", "global", "Rule scope: global or workspace")
	playbookAddCmd.Flags().StringVar(&playbookAddWorkspace, "workspace", "", "Workspace path for a workspace-scoped rule (default: current repo)")
	playbookAddCmd.Flags().StringVar(&playbookAddKind, "kind", "", "Rule shape (workflow_rule, stack_pattern, anti_pattern)")
	playbookAddCmd.Flags().StringSliceVar(&playbookAddTags, "tags", nil, "Retrieval labels")
	playbookAddCmd.Flags().BoolVar(&playbookAddNegative, "negative", false, "Mark as anti-pattern phrasing")
}

// listedBullet is the list row shape, shared by human and JSON output.
type listedBullet struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Category     string         `json:"category,omitempty"`
	State        string         `json:"state,omitempty"`
	Maturity     types.Maturity `json:"maturity,omitempty"`
	Score        float64        `json:"score"`
	HelpfulCount int            `json:"helpfulCount"`
	HarmfulCount int            `json:"harmfulCount"`
	Retired      bool           `json:"retired,omitempty"`
}

func runPlaybookList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	pb, err := store.LoadMergedPlaybook()
	if err != nil {
		return err
	}

	params := cfg.ScoringParams()
	now := time.Now().UTC()

	var rows []listedBullet
	for i := range pb.Bullets {
		b := &pb.Bullets[i]
		if b.IsRetired() && !playbookListAll {
			continue
		}
		if playbookListCategory != "" && !strings.EqualFold(b.Category, playbookListCategory) {
			continue
		}
		rows = append(rows, listedBullet{
			ID:           b.ID,
			Content:      b.Content,
			Category:     b.Category,
			State:        string(b.State),
			Maturity:     b.Maturity,
			Score:        scoring.EffectiveScore(b, params, now),
			HelpfulCount: b.HelpfulCount,
			HarmfulCount: b.HarmfulCount,
			Retired:      b.IsRetired(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })

	if activeJSON {
		return emitDataMeta(cmd, rows, map[string]any{"total": len(rows)})
	}

	if len(rows) == 0 {
		fmt.Println("Playbook is empty. Run a reflection or add rules by hand.")
		return nil
	}
	for _, r := range rows {
		marker := scoring.MaturityGlyph(r.Maturity)
		fmt.Printf("  %s %-22s %6.1f  [%s] %s  (+%d/-%d)\n",
			marker, r.ID, r.Score, r.Category, r.Content, r.HelpfulCount, r.HarmfulCount)
	}
	fmt.Printf("\n%d rule(s)\n", len(rows))
	return nil
}

func runPlaybookShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	pb, err := store.LoadMergedPlaybook()
	if err != nil {
		return err
	}
	b := pb.FindBullet(args[0])
	if b == nil {
		return fmt.Errorf("no rule with id %s: %w", args[0], types.ErrValidation)
	}

	if activeJSON {
		return emitData(cmd, b)
	}

	params := cfg.ScoringParams()
	now := time.Now().UTC()
	counts := scoring.GetDecayedCounts(b, params, now)

	fmt.Printf("%s %s\n", scoring.MaturityGlyph(b.Maturity), b.ID)
	fmt.Printf("  Content:   %s\n", b.Content)
	fmt.Printf("  Category:  %s\n", b.Category)
	if b.Kind != "" {
		fmt.Printf("  Kind:      %s\n", b.Kind)
	}
	fmt.Printf("  Scope:     %s", b.Scope)
	if b.Workspace != "" {
		fmt.Printf(" (%s)", b.Workspace)
	}
	fmt.Println()
	fmt.Printf("  State:     %s / %s\n", b.State, b.Maturity)
	fmt.Printf("  Feedback:  +%d/-%d (decayed %.2f/%.2f)\n",
		b.HelpfulCount, b.HarmfulCount, counts.Helpful, counts.Harmful)
	fmt.Printf("  Score:     %.2f\n", scoring.EffectiveScore(b, params, now))
	if len(b.Tags) > 0 {
		fmt.Printf("  Tags:      %s\n", strings.Join(b.Tags, ", "))
	}
	if len(b.SourceSessions) > 0 {
		fmt.Printf("  Sources:   %s\n", strings.Join(b.SourceSessions, ", "))
	}
	if b.Pinned {
		fmt.Println("  Pinned:    yes")
	}
	fmt.Printf("  Created:   %s\n", b.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Updated:   %s\n", b.UpdatedAt.Format(time.RFC3339))
	if b.IsRetired() {
		fmt.Printf("  Retired:   %s\n", b.DeprecationReason)
		if b.ReplacedBy != "" {
			fmt.Printf("  ReplacedBy: %s\n", b.ReplacedBy)
		}
	}
	return nil
}

// playbookStats is the stats payload.
type playbookStats struct {
	Total              int                  `json:"total"`
	Active             int                  `json:"active"`
	Draft              int                  `json:"draft"`
	Retired            int                  `json:"retired"`
	Maturity           map[string]int       `json:"maturity"`
	Distribution       scoring.Distribution `json:"distribution"`
	DeprecatedPatterns int                  `json:"deprecatedPatterns"`
	TotalReflections   int                  `json:"totalReflections"`
	LastReflection     *time.Time           `json:"lastReflection,omitempty"`
}

func runPlaybookStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	pb, err := store.LoadMergedPlaybook()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stats := playbookStats{
		Total:              len(pb.Bullets),
		Maturity:           map[string]int{},
		Distribution:       scoring.ScoreDistribution(pb.Bullets, cfg.ScoringParams(), now),
		DeprecatedPatterns: len(pb.DeprecatedPatterns),
		TotalReflections:   pb.Metadata.TotalReflections,
		LastReflection:     pb.Metadata.LastReflection,
	}
	for i := range pb.Bullets {
		b := &pb.Bullets[i]
		switch {
		case b.IsRetired():
			stats.Retired++
		case b.State == types.StateActive:
			stats.Active++
		default:
			stats.Draft++
		}
		tier := string(b.Maturity)
		if tier == "" {
			tier = string(types.MaturityCandidate)
		}
		stats.Maturity[tier]++
	}

	if activeJSON {
		return emitData(cmd, stats)
	}

	fmt.Printf("Rules: %d (%d active, %d draft, %d retired)\n",
		stats.Total, stats.Active, stats.Draft, stats.Retired)
	fmt.Printf("Maturity: %d proven, %d established, %d candidate, %d deprecated\n",
		stats.Maturity[string(types.MaturityProven)],
		stats.Maturity[string(types.MaturityEstablished)],
		stats.Maturity[string(types.MaturityCandidate)],
		stats.Maturity[string(types.MaturityDeprecated)])
	d := stats.Distribution
	fmt.Printf("Scores: %d excellent, %d good, %d neutral, %d at risk\n",
		d.Excellent, d.Good, d.Neutral, d.AtRisk)
	if stats.DeprecatedPatterns > 0 {
		fmt.Printf("Deprecated patterns: %d\n", stats.DeprecatedPatterns)
	}
	fmt.Printf("Reflections: %d", stats.TotalReflections)
	if stats.LastReflection != nil {
		fmt.Printf(" (last %s)", stats.LastReflection.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func runPlaybookAdd(cmd *cobra.Command, args []string) error {
	content := strings.TrimSpace(args[0])
	if content == "" {
		return fmt.Errorf("rule content must not be empty: %w", types.ErrValidation)
	}

	scope := types.Scope(playbookAddScope)
	if scope != types.ScopeGlobal && scope != types.ScopeWorkspace {
		return fmt.Errorf("scope must be global or workspace, got %q: %w", playbookAddScope, types.ErrValidation)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	if err := store.Init(); err != nil {
		return err
	}
	if err := store.EnsurePlaybook(cfg.GlobalPlaybookPath()); err != nil {
		return err
	}

	workspace := playbookAddWorkspace
	if scope == types.ScopeWorkspace && workspace == "" {
		workspace = cfg.RepoRoot
		if workspace == "" {
			workspace = cfg.Cwd
		}
	}

	delta := types.PlaybookDelta{
		Type: types.DeltaAdd,
		Bullet: &types.NewBulletSpec{
			Content:    content,
			Category:   playbookAddCategory,
			Scope:      scope,
			Kind:       types.BulletKind(playbookAddKind),
			IsNegative: playbookAddNegative,
			Tags:       playbookAddTags,
		},
		Reason: "manual entry",
	}

	curator := curation.New(cfg.ScoringParams(), curation.WithLogger(diag))

	var added types.PlaybookBullet
	if _, err := store.MutatePlaybook(cfg.GlobalPlaybookPath(), "playbook add", func(pb *types.Playbook) error {
		if toxic, terr := store.IsToxic(content); terr == nil && toxic {
			return fmt.Errorf("content matches the blocked list: %w", types.ErrValidation)
		}
		if pb.HasActiveContent(content, scope) {
			return fmt.Errorf("an active rule with this content already exists: %w", types.ErrValidation)
		}
		res := curator.Curate(pb, []types.PlaybookDelta{delta})
		if res.Applied != 1 {
			return fmt.Errorf("rule was not applied: %w", types.ErrValidation)
		}
		*pb = *res.Playbook
		added = pb.Bullets[len(pb.Bullets)-1].Clone()
		if workspace != "" && added.Scope == types.ScopeWorkspace {
			pb.Bullets[len(pb.Bullets)-1].Workspace = workspace
			added.Workspace = workspace
		}
		return nil
	}); err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, added)
	}
	fmt.Printf("✓ Added %s (%s, %s)\n", added.ID, added.Category, added.State)
	return nil
}
